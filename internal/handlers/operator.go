package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ejide/gateway/internal/auth"
	"github.com/ejide/gateway/internal/channel"
)

// OperatorHandler serves the authenticated operator endpoints.
type OperatorHandler struct {
	logger    *slog.Logger
	sender    channel.Sender
	jwtSecret string
	expiresIn time.Duration
}

func NewOperatorHandler(log *slog.Logger, sender channel.Sender, jwtSecret string, expiresIn time.Duration) *OperatorHandler {
	if log == nil {
		log = slog.Default()
	}
	return &OperatorHandler{
		logger:    log.With(slog.String("handler", "operator")),
		sender:    sender,
		jwtSecret: jwtSecret,
		expiresIn: expiresIn,
	}
}

func (h *OperatorHandler) Register(e *echo.Echo) {
	e.POST("/send", h.Send)
	e.POST("/auth/refresh", h.Refresh)
}

type SendRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

type SendResponse struct {
	To     string `json:"to"`
	Status string `json:"status"`
}

type TokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Send godoc
// @Summary Send a message through the transport
// @Tags operator
// @Param payload body SendRequest true "Recipient and text"
// @Success 200 {object} SendResponse
// @Failure 400 {object} ErrorResponse
// @Failure 502 {object} ErrorResponse
// @Router /send [post]
func (h *OperatorHandler) Send(c echo.Context) error {
	operator, err := auth.OperatorFromContext(c)
	if err != nil {
		return err
	}
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	target := channel.WhatsAppAddress(req.To)
	if target == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "to is required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}
	if err := h.sender.Send(c.Request().Context(), target, req.Text); err != nil {
		h.logger.Error("operator send failed",
			slog.String("operator", operator),
			slog.String("to", target),
			slog.Any("error", err),
		)
		switch {
		case errors.Is(err, channel.ErrEmptyMessage):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		case errors.Is(err, context.DeadlineExceeded):
			return echo.NewHTTPError(http.StatusGatewayTimeout, err.Error())
		default:
			return echo.NewHTTPError(http.StatusBadGateway, err.Error())
		}
	}
	h.logger.Info("operator send", slog.String("operator", operator), slog.String("to", target))
	return c.JSON(http.StatusOK, SendResponse{To: target, Status: "sent"})
}

// Refresh godoc
// @Summary Refresh the operator token
// @Tags operator
// @Success 200 {object} TokenResponse
// @Failure 401 {object} ErrorResponse
// @Router /auth/refresh [post]
func (h *OperatorHandler) Refresh(c echo.Context) error {
	if _, err := auth.OperatorFromContext(c); err != nil {
		return err
	}
	token, expiresAt, err := auth.RefreshTokenFromContext(c, h.jwtSecret, h.expiresIn)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, TokenResponse{AccessToken: token, ExpiresAt: expiresAt})
}
