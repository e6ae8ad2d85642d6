package media

import (
	"io"
	"path/filepath"
	"strings"
)

// StageInput carries an inbound attachment to be spooled to disk.
type StageInput struct {
	Mime         string
	OriginalName string
	// Reader provides the raw bytes; caller is responsible for closing.
	Reader io.Reader
	// MaxBytes optionally overrides the stager's configured ceiling.
	MaxBytes int64
}

func extensionFor(mime, name string) string {
	if ext := strings.ToLower(filepath.Ext(strings.TrimSpace(name))); isSafeExt(ext) {
		return ext
	}
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "text/csv", "application/csv", "text/comma-separated-values":
		return ".csv"
	case "application/vnd.ms-excel":
		return ".xls"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return ".xlsx"
	case "application/pdf":
		return ".pdf"
	case "text/plain":
		return ".txt"
	default:
		return ".bin"
	}
}

func isSafeExt(ext string) bool {
	if len(ext) < 2 || len(ext) > 8 || ext[0] != '.' {
		return false
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
