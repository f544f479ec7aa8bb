package domain

import "time"

// Task is one deferred delivery. Records are immutable once created.
type Task struct {
	ID         string
	Recipient  string
	Subject    string
	Body       string
	Attachment *Attachment
	FireAt     time.Time
	CreatedAt  time.Time
}

type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Overdue reports whether the task's fire time is not after now.
func (t Task) Overdue(now time.Time) bool {
	return !t.FireAt.After(now)
}
