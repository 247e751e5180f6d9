// vidvault/task/task.go
package task

import (
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Task is one persisted unit of work: a source URL to acquire and store.
// Result holds the JSON result payload once the task completes;
// ErrorDetail is only set on failure.
type Task struct {
	ID          string          `db:"id" json:"id"`
	SourceURL   string          `db:"source_url" json:"source_url"`
	Status      Status          `db:"status" json:"status"`
	Result      json.RawMessage `db:"result" json:"result,omitempty"`
	ErrorDetail sql.NullString  `db:"error_detail" json:"-"`
	WebhookURL  sql.NullString  `db:"webhook_url" json:"-"`
	Attempts    int             `db:"attempts" json:"attempts"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// DeriveID builds the task identifier from a caller-supplied base ID and
// the source URL. The short URL hash lets the same base ID be reused for
// different URLs without collision. The hash is a heuristic, not a
// uniqueness guarantee.
func DeriveID(baseID, sourceURL string) string {
	sum := sha1.Sum([]byte(normalizeURL(sourceURL)))
	return baseID + "-" + hex.EncodeToString(sum[:])[:8]
}

// BaseID strips the URL-hash suffix added by DeriveID.
func BaseID(taskID string) string {
	i := strings.LastIndex(taskID, "-")
	if i <= 0 {
		return taskID
	}
	suffix := taskID[i+1:]
	if len(suffix) != 8 {
		return taskID
	}
	if _, err := hex.DecodeString(suffix); err != nil {
		return taskID
	}
	return taskID[:i]
}

func normalizeURL(u string) string {
	u = strings.TrimSpace(strings.ToLower(u))
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "www.")
	return strings.TrimSuffix(u, "/")
}
