package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	logFileMutex sync.Mutex
)

// DispatchLogEntry records one notification dispatch request emitted to
// the delivery boundary. Kept as an append-only audit trail independent
// of the delivery subsystem's own logging.
type DispatchLogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	AlertID    string    `json:"alert_id"`
	TenantID   string    `json:"tenant_id"`
	DeviceID   string    `json:"device_id"`
	Severity   string    `json:"severity"`
	TargetType string    `json:"target_type"`
	Target     string    `json:"target"`
	Level      int       `json:"level,omitempty"`
	Summary    string    `json:"summary,omitempty"`
}

// InitDispatchLog initializes the dispatch audit log directory.
func InitDispatchLog(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

// WriteDispatchLog appends one dispatch record to the date-stamped audit
// file, e.g. logs/dispatch-2026-01-14.jsonl.
func WriteDispatchLog(logDir string, entry *DispatchLogEntry) error {
	logFileMutex.Lock()
	defer logFileMutex.Unlock()

	date := time.Now().Format("2006-01-02")
	logFilePath := filepath.Join(logDir, fmt.Sprintf("dispatch-%s.jsonl", date))

	file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write log entry: %w", err)
	}

	return nil
}
