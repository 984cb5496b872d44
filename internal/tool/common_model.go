package tool

import (
	"time"

	"github.com/hal9000y/gmail-analyzer/internal/message"
)

const timeLayout = "2006-01-02 15:04:05"

// EmailAddress represents an email address with optional display name.
type EmailAddress struct {
	Name  string `json:"name,omitempty" jsonschema:"the display name"`
	Email string `json:"email" jsonschema:"the email address"`
}

// MessageSummary contains essential message metadata.
type MessageSummary struct {
	ID        string       `json:"id" jsonschema:"message ID"`
	ThreadID  string       `json:"thread_id" jsonschema:"thread ID"`
	Timestamp string       `json:"timestamp" jsonschema:"message timestamp in UTC"`
	From      EmailAddress `json:"from" jsonschema:"sender information"`
	Subject   string       `json:"subject" jsonschema:"email subject"`
}

func newMessageSummary(rec *message.Record) *MessageSummary {
	if rec == nil {
		return nil
	}

	return &MessageSummary{
		ID:        rec.ID,
		ThreadID:  rec.ThreadID,
		Timestamp: formatTime(rec.Received),
		From:      EmailAddress{Name: rec.Sender.Name, Email: rec.Sender.Address},
		Subject:   rec.Subject,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
