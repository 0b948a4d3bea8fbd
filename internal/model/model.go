// Package model holds the provider-neutral data types shared by the sync
// engine, provider adapters, and the durable store.
package model

import "time"

// SyncStatus is the health of an external connection as last observed by a
// sync job.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusError   SyncStatus = "error"
)

// User is an authenticated account owning connections and events.
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Attendee is a single calendar event participant.
type Attendee struct {
	Email  string `json:"email"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

// CalendarEvent is the normalized, provider-neutral event shape returned by
// every Provider Adapter.
type CalendarEvent struct {
	ExternalEventID    string     `json:"external_event_id"`
	ExternalCalendarID string     `json:"external_calendar_id"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	StartUTC           time.Time  `json:"start_utc"`
	EndUTC             *time.Time `json:"end_utc,omitempty"`
	AllDay             bool       `json:"all_day"`
	Location           string     `json:"location,omitempty"`
	RecurrenceRule     string     `json:"recurrence_rule,omitempty"`
	Attendees          []Attendee `json:"attendees,omitempty"`
	ExternalUpdatedAt  time.Time  `json:"external_updated_at"`
	ExternalVersion    string     `json:"external_version,omitempty"`
	Deleted            bool       `json:"deleted"`
}

// StoredEvent is a CalendarEvent as persisted locally, with the ownership and
// bookkeeping fields the Event Store adds.
type StoredEvent struct {
	ID                 string
	UserID             string
	SourcePlatform     string
	ExternalCalendarID string
	ExternalEventID    string
	Title              string
	Description        string
	StartUTC           time.Time
	EndUTC             *time.Time
	AllDay             bool
	Location           string
	RecurrenceRule     string
	Attendees          []Attendee
	ExternalUpdatedAt  *time.Time
	ExternalVersion    string
	Deleted            bool
	UpdatedAt          time.Time
	CreatedAt          time.Time
}

// ExternalConnection is a user's credential-bearing link to one external
// calendar platform.
type ExternalConnection struct {
	ID                     string
	UserID                 string
	PlatformType           string
	CredentialCiphertext   string
	SyncEnabled            bool
	SyncStatus             SyncStatus
	LastSyncAt             *time.Time
	LastError              string
	ConsecutiveFailures    int
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// SyncState is the durable incremental-sync cursor for one
// (user, connection, calendar) triple.
type SyncState struct {
	UserID             string
	ConnectionID       string
	ExternalCalendarID string
	DeltaToken         string
	UpdatedMin         *time.Time
	LastWindowStart    *time.Time
	LastWindowEnd      *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProviderCapabilities is the immutable capability triple every adapter
// exposes. The engine and dispatcher branch on this record, never on
// adapter identity.
type ProviderCapabilities struct {
	Read  bool
	Write bool
	Delta bool
}

// SyncOptions are the request-scoped knobs for a single sync_calendar call.
type SyncOptions struct {
	ForceFull       bool
	WindowDaysPast  int
	WindowDaysFuture int
	MaxRetries      int
	BatchSize       int
}

// DefaultSyncOptions mirrors the original source's dataclass defaults.
func DefaultSyncOptions() SyncOptions {
	return SyncOptions{
		WindowDaysPast:   90,
		WindowDaysFuture: 180,
		MaxRetries:       3,
		BatchSize:        100,
	}
}

// Validate enforces spec.md §3/§8's boundary rules on SyncOptions.
func (o SyncOptions) Validate() error {
	if o.WindowDaysPast < 1 || o.WindowDaysPast > 365 {
		return ErrInvalidWindow
	}
	if o.WindowDaysFuture < 1 || o.WindowDaysFuture > 730 {
		return ErrInvalidWindow
	}
	if o.MaxRetries < 0 {
		return ErrInvalidWindow
	}
	if o.BatchSize < 1 {
		return ErrInvalidWindow
	}
	return nil
}

// SyncOutcome is the result of one sync_calendar invocation.
type SyncOutcome struct {
	Success         bool
	Created         int
	Updated         int
	Deleted         int
	Skipped         int
	EventsProcessed int
	NextDeltaToken  string
	MaxUpdatedAt    *time.Time
	ErrorMessage    string
	Duration        time.Duration
}
