package backend

import "io"

// ChatTurnRequest is one conversational turn forwarded to POST /chat.
type ChatTurnRequest struct {
	PhoneNumber string `json:"phone_number"`
	Message     string `json:"message"`
	IsAdmin     bool   `json:"is_admin"`
	Timestamp   string `json:"timestamp"`
}

type ChatTurnResponse struct {
	Reply string `json:"reply"`
}

// BulkUpload is a file forwarded to POST /upload-inventory. Reader is
// consumed exactly once.
type BulkUpload struct {
	FileName string
	Mime     string
	Reader   io.Reader
}

type BulkUploadResponse struct {
	Reply string `json:"reply"`
}

// WorkItem is a single proactive message produced by the backend.
type WorkItem struct {
	RecipientID string `json:"phone_number"`
	Body        string `json:"message"`
	Kind        string `json:"reminder_type"`
}

type remindersResponse struct {
	Reminders []WorkItem `json:"reminders"`
}

type weeklyReportResponse struct {
	Report string `json:"report"`
}

// HealthStatus is the backend's GET /health payload.
type HealthStatus struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}
