// Package dispatcher is the Sync Dispatcher named in spec.md §4.5: the
// external-facing entry point for Pull, Push, and State, generalizing the
// teacher's scheduler.go per-source keyed-mutex pattern
// (getSyncLock/executeSync) from per-source to per-(user, connection,
// calendar)-triple granularity.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/macjediwizard/calsync/internal/cryptocodec"
	"github.com/macjediwizard/calsync/internal/engine"
	"github.com/macjediwizard/calsync/internal/model"
	"github.com/macjediwizard/calsync/internal/provider"
	"github.com/macjediwizard/calsync/internal/store"
)

var (
	ErrConnectionMissing  = errors.New("dispatcher: connection not found")
	ErrConnectionDisabled = errors.New("dispatcher: connection has sync disabled")
	ErrWriteUnsupported   = errors.New("dispatcher: adapter does not support writes")
)

const defaultSyncTimeout = 5 * time.Minute

// PullRequest is the Pull operation's input, matching spec.md §6's network
// surface shape. WindowDaysPast/WindowDaysFuture are pointers so that an
// omitted window (nil) can be distinguished from an explicit 0 or negative
// value: the former takes the default window, the latter is rejected per
// spec.md §8's boundary rule.
type PullRequest struct {
	ConnectionIDs    []string
	CalendarIDs      []string // optional; when empty, every calendar the adapter lists is enumerated
	ForceFull        bool
	WindowDaysPast   *int
	WindowDaysFuture *int
}

// PullResultItem is one (connection, calendar) job's immediate queued
// acknowledgement.
type PullResultItem struct {
	ConnectionID       string
	ExternalCalendarID string
	Status             string // "queued" | "already_running" | "error"
	Error              string `json:",omitempty"`
}

// PushEvent is one event in a Push request, action-tagged per spec.md §6.
type PushEvent struct {
	LocalID            string
	ExternalEventID    string
	ExternalCalendarID string
	Title              string
	Description        string
	StartUTC           time.Time
	EndUTC             *time.Time
	AllDay             bool
	Location           string
	RecurrenceRule     string
	Attendees          []model.Attendee
	Action             string // create | update | delete
}

// PushResultItem is the per-event outcome of a Push request.
type PushResultItem struct {
	LocalID           string
	Action            string
	Success           bool
	ExternalEventID   string     `json:",omitempty"`
	ExternalVersion   string     `json:",omitempty"`
	ExternalUpdatedAt *time.Time `json:",omitempty"`
	Error             string     `json:",omitempty"`
}

// ConnectionState is one connection's health plus its calendars' cursors,
// as returned by State().
type ConnectionState struct {
	ConnectionID string
	PlatformType string
	SyncEnabled  bool
	SyncStatus   model.SyncStatus
	LastSyncAt   *time.Time
	LastError    string
	Calendars    []CalendarState
}

// CalendarState is one calendar's SyncState projected for the caller.
type CalendarState struct {
	ExternalCalendarID string
	LastWindowStart    *time.Time
	LastWindowEnd      *time.Time
	HasDeltaToken      bool
	UpdatedMin         *time.Time
}

// Dispatcher is the collaborator the HTTP surface calls into.
type Dispatcher struct {
	store     *store.Store
	encryptor *cryptocodec.Encryptor
	registry  *provider.Registry
	engine    *engine.Engine

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New builds a Dispatcher from its collaborators.
func New(s *store.Store, encryptor *cryptocodec.Encryptor, registry *provider.Registry, eng *engine.Engine) *Dispatcher {
	return &Dispatcher{
		store:     s,
		encryptor: encryptor,
		registry:  registry,
		engine:    eng,
		locks:     make(map[string]*sync.Mutex),
	}
}

// ResolveAdapter exposes the registry lookup so the HTTP surface can
// validate a platform_type before creating a connection for it.
func (d *Dispatcher) ResolveAdapter(platformType string) (provider.Adapter, bool) {
	return d.registry.Resolve(platformType)
}

// EncryptCredential encrypts a plaintext token with the connection ID as
// AAD, for the HTTP surface's connection-creation flow.
func (d *Dispatcher) EncryptCredential(plaintext, connectionID string) (string, error) {
	return d.encryptor.Encrypt(plaintext, connectionID)
}

func tripleKey(userID, connectionID, externalCalendarID string) string {
	return strings.Join([]string{userID, connectionID, externalCalendarID}, "/")
}

// tripleLock returns the mutex for a triple, creating one if needed,
// directly generalizing the teacher's getSyncLock from per-source to
// per-triple granularity.
func (d *Dispatcher) tripleLock(key string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	if lock, exists := d.locks[key]; exists {
		return lock
	}
	lock := &sync.Mutex{}
	d.locks[key] = lock
	return lock
}

// Pull validates ownership, enumerates calendars, and fans a background
// sync job out per (connection, calendar), enforcing the
// at-most-one-job-per-triple invariant of spec.md §5.
func (d *Dispatcher) Pull(ctx context.Context, userID string, req PullRequest) ([]PullResultItem, error) {
	opts := model.SyncOptions{
		ForceFull:        req.ForceFull,
		WindowDaysPast:   model.DefaultSyncOptions().WindowDaysPast,
		WindowDaysFuture: model.DefaultSyncOptions().WindowDaysFuture,
		MaxRetries:       model.DefaultSyncOptions().MaxRetries,
		BatchSize:        model.DefaultSyncOptions().BatchSize,
	}
	if req.WindowDaysPast != nil {
		opts.WindowDaysPast = *req.WindowDaysPast
	}
	if req.WindowDaysFuture != nil {
		opts.WindowDaysFuture = *req.WindowDaysFuture
	}
	// spec.md §8: 0 or negative window bounds are rejected here rather than
	// silently defaulted or deferred to the background SyncCalendar call.
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var results []PullResultItem

	for _, connectionID := range req.ConnectionIDs {
		conn, err := d.store.GetConnectionForUser(connectionID, userID)
		if err != nil {
			results = append(results, PullResultItem{ConnectionID: connectionID, Status: "error", Error: ErrConnectionMissing.Error()})
			continue
		}
		if !conn.SyncEnabled {
			results = append(results, PullResultItem{ConnectionID: connectionID, Status: "error", Error: ErrConnectionDisabled.Error()})
			continue
		}

		adapter, ok := d.registry.Resolve(conn.PlatformType)
		if !ok {
			results = append(results, PullResultItem{ConnectionID: connectionID, Status: "error", Error: engine.ErrProviderUnknown.Error()})
			continue
		}

		calendarIDs := req.CalendarIDs
		if len(calendarIDs) == 0 {
			listed, err := d.listCalendars(ctx, adapter, conn)
			if err != nil {
				results = append(results, PullResultItem{ConnectionID: connectionID, Status: "error", Error: err.Error()})
				continue
			}
			calendarIDs = listed
		}

		for _, calendarID := range calendarIDs {
			results = append(results, d.enqueue(userID, connectionID, calendarID, opts))
		}
	}

	return results, nil
}

func (d *Dispatcher) listCalendars(ctx context.Context, adapter provider.Adapter, conn *model.ExternalConnection) ([]string, error) {
	accessToken, err := d.encryptor.Decrypt(conn.CredentialCiphertext, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential: %w", err)
	}
	metas, err := adapter.ListCalendars(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(metas))
	for _, m := range metas {
		ids = append(ids, m.ExternalCalendarID)
	}
	return ids, nil
}

// enqueue attempts to claim the (user, connection, calendar) triple's lock
// and, if successful, runs the sync job on a background goroutine. The
// caller observes only the immediate queued/already_running acknowledgement.
func (d *Dispatcher) enqueue(userID, connectionID, calendarID string, opts model.SyncOptions) PullResultItem {
	key := tripleKey(userID, connectionID, calendarID)
	lock := d.tripleLock(key)

	if !lock.TryLock() {
		return PullResultItem{ConnectionID: connectionID, ExternalCalendarID: calendarID, Status: "already_running"}
	}

	go func() {
		defer lock.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), defaultSyncTimeout)
		defer cancel()

		if _, err := d.engine.SyncCalendar(ctx, userID, connectionID, calendarID, opts); err != nil {
			log.Printf("dispatcher: sync job failed for %s: %v", key, err)
		}
	}()

	return PullResultItem{ConnectionID: connectionID, ExternalCalendarID: calendarID, Status: "queued"}
}

// Push validates the connection and write capability, then applies each
// event synchronously. Per spec.md §4.5, failures are per-event and never
// abort the batch, and Push does not take the triple lock (Open Question
// (a): concurrent Pull and Push against the same calendar are allowed to
// interleave, same as the teacher's CalDAV PUT path has no sync-wide lock).
func (d *Dispatcher) Push(ctx context.Context, userID, connectionID string, events []PushEvent) ([]PushResultItem, error) {
	conn, err := d.store.GetConnectionForUser(connectionID, userID)
	if err != nil {
		return nil, ErrConnectionMissing
	}

	adapter, ok := d.registry.Resolve(conn.PlatformType)
	if !ok {
		return nil, engine.ErrProviderUnknown
	}
	if !adapter.Capabilities().Write {
		return nil, ErrWriteUnsupported
	}

	accessToken, err := d.encryptor.Decrypt(conn.CredentialCiphertext, conn.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential: %w", err)
	}

	results := make([]PushResultItem, 0, len(events))
	for _, evt := range events {
		results = append(results, d.pushOne(ctx, adapter, accessToken, evt))
	}
	return results, nil
}

func (d *Dispatcher) pushOne(ctx context.Context, adapter provider.Adapter, accessToken string, evt PushEvent) PushResultItem {
	result := PushResultItem{LocalID: evt.LocalID, Action: evt.Action}

	switch evt.Action {
	case "delete":
		if evt.ExternalEventID == "" {
			result.Error = "delete requires external_event_id"
			return result
		}
		if err := adapter.DeleteEvent(ctx, accessToken, evt.ExternalCalendarID, evt.ExternalEventID); err != nil {
			result.Error = err.Error()
			return result
		}
		result.Success = true
		return result

	case "create", "update":
		saved, err := adapter.UpsertEvent(ctx, accessToken, evt.ExternalCalendarID, model.CalendarEvent{
			ExternalEventID:    evt.ExternalEventID,
			ExternalCalendarID: evt.ExternalCalendarID,
			Title:              evt.Title,
			Description:        evt.Description,
			StartUTC:           evt.StartUTC,
			EndUTC:             evt.EndUTC,
			AllDay:             evt.AllDay,
			Location:           evt.Location,
			RecurrenceRule:     evt.RecurrenceRule,
			Attendees:          evt.Attendees,
		})
		if err != nil {
			result.Error = err.Error()
			return result
		}
		result.Success = true
		result.ExternalEventID = saved.ExternalEventID
		result.ExternalVersion = saved.ExternalVersion
		result.ExternalUpdatedAt = &saved.ExternalUpdatedAt
		return result

	default:
		result.Error = fmt.Sprintf("unknown action %q", evt.Action)
		return result
	}
}

// State returns, per connection owned by userID, its health and calendar
// cursors.
func (d *Dispatcher) State(userID string) ([]ConnectionState, error) {
	conns, err := d.store.GetConnectionsByUser(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list connections: %w", err)
	}

	out := make([]ConnectionState, 0, len(conns))
	for _, conn := range conns {
		states, err := d.store.ListSyncStatesForConnection(conn.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list sync states for connection %s: %w", conn.ID, err)
		}

		calendars := make([]CalendarState, 0, len(states))
		for _, s := range states {
			calendars = append(calendars, CalendarState{
				ExternalCalendarID: s.ExternalCalendarID,
				LastWindowStart:    s.LastWindowStart,
				LastWindowEnd:      s.LastWindowEnd,
				HasDeltaToken:      s.DeltaToken != "",
				UpdatedMin:         s.UpdatedMin,
			})
		}

		out = append(out, ConnectionState{
			ConnectionID: conn.ID,
			PlatformType: conn.PlatformType,
			SyncEnabled:  conn.SyncEnabled,
			SyncStatus:   conn.SyncStatus,
			LastSyncAt:   conn.LastSyncAt,
			LastError:    conn.LastError,
			Calendars:    calendars,
		})
	}
	return out, nil
}
