package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints, cron expressions, the timezone and the
// JWT lifetime. All problems are reported together.
func Validate(cfg Config) error {
	var errs []error

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			errs = append(errs, err)
		}
	}

	for name, expr := range map[string]string{
		"schedule.reminders":     cfg.Schedule.Reminders,
		"schedule.weekly_report": cfg.Schedule.WeeklyReport,
		"schedule.daily_digest":  cfg.Schedule.DailyDigest,
	} {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid cron expression %q: %w", name, expr, err))
		}
	}

	if _, err := cfg.Schedule.Location(); err != nil {
		errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
	}

	if expires := strings.TrimSpace(cfg.Auth.JWTExpiresIn); expires != "" {
		if _, err := time.ParseDuration(expires); err != nil {
			errs = append(errs, fmt.Errorf("auth.jwt_expires_in: %w", err))
		}
	}

	return errors.Join(errs...)
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}
