// Package account defines the account entity tracked by the store.
package account

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of an account.
//
// Transitions are driven by automation outcomes; the store never advances
// a status on its own.
type Status string

const (
	StatusPending      Status = "pending"
	StatusPendingCheck Status = "pending_check"
	StatusLinkReady    Status = "link_ready"
	StatusVerified     Status = "verified"
	StatusSubscribed   Status = "subscribed"
	StatusIneligible   Status = "ineligible"
	StatusError        Status = "error"

	// Working states used while an automation step is in flight.
	StatusRunning    Status = "running"
	StatusProcessing Status = "processing"
)

// AllStatuses lists every known status in lifecycle order.
var AllStatuses = []Status{
	StatusPending,
	StatusPendingCheck,
	StatusLinkReady,
	StatusVerified,
	StatusSubscribed,
	StatusIneligible,
	StatusError,
	StatusRunning,
	StatusProcessing,
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Transient reports whether s is a working state that must never be
// exported.
func (s Status) Transient() bool {
	return s == StatusRunning || s == StatusProcessing
}

// Exportable reports whether accounts in s belong in an export snapshot.
func (s Status) Exportable() bool {
	return s.Valid() && !s.Transient()
}

func (s Status) String() string {
	return string(s)
}

// ParseStatus converts user input into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(v)))
	if !s.Valid() {
		return "", fmt.Errorf("unknown status %q", v)
	}
	return s, nil
}

// Account is one row of the accounts table.
// Optional columns are nil when the database holds NULL.
type Account struct {
	Email            string    `json:"email"`
	Password         *string   `json:"password,omitempty"`
	RecoveryEmail    *string   `json:"recovery_email,omitempty"`
	SecretKey        *string   `json:"secret_key,omitempty"`
	VerificationLink *string   `json:"verification_link,omitempty"`
	BrowserID        *string   `json:"browser_id,omitempty"`
	Status           Status    `json:"status"`
	Message          *string   `json:"message,omitempty"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasBrowser reports whether the account is linked to an inventory profile.
func (a *Account) HasBrowser() bool {
	return a.BrowserID != nil && *a.BrowserID != ""
}

// Patch carries the fields a merge should write.
//
// A nil pointer means "not supplied" and leaves the column untouched.
// A pointer to "" is a real value and overwrites the column.
type Patch struct {
	Password         *string
	RecoveryEmail    *string
	SecretKey        *string
	VerificationLink *string
	BrowserID        *string
	Status           *Status
	Message          *string
}

// IsEmpty reports whether no field was supplied.
func (p Patch) IsEmpty() bool {
	return p.Password == nil &&
		p.RecoveryEmail == nil &&
		p.SecretKey == nil &&
		p.VerificationLink == nil &&
		p.BrowserID == nil &&
		p.Status == nil &&
		p.Message == nil
}

// StatusPtr returns a pointer to s, for building patches.
func StatusPtr(s Status) *Status {
	return &s
}

// Value dereferences an optional column, returning "" for NULL.
func Value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Blank reports whether an optional column is NULL or empty.
func Blank(s *string) bool {
	return s == nil || *s == ""
}
