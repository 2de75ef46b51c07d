package event

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Event wraps a domain notification with metadata.
type Event struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Payload   any       `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// NewEvent creates an Event with a generated ID and a name derived from the
// payload's type.
func NewEvent(payload any) Event {
	return Event{
		ID:        uuid.New().String(),
		Name:      eventName(payload),
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}

func eventName(payload any) string {
	t := reflect.TypeOf(payload)
	if t == nil {
		return "unknown"
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	return t.Name()
}

// CertificateIssued is published after a first issuance persisted new material.
type CertificateIssued struct {
	CertificateID string
	Domain        string
	ExpiresAt     time.Time
}

// CertificateRenewed is published after a renewal replaced certificate
// content. The certificate ID is unchanged by renewal.
type CertificateRenewed struct {
	CertificateID string
	Domain        string
	ExpiresAt     time.Time
}

// ConfigApplied is published after the writer/reloader activated a new
// configuration set.
type ConfigApplied struct {
	RuleCount int
}

// RenewalFailed is published when a scheduled renewal attempt surfaced an
// error. The scheduler retries on its next tick.
type RenewalFailed struct {
	CertificateID string
	Domain        string
	Reason        string
}
