// Package engine implements the Sync Engine: the one place that knows how
// to take a connection, a calendar, and a set of options and drive a full
// fetch/retry/upsert/advance cycle. It is the Go-native generalization of
// the teacher's internal/caldav.SyncEngine from a two-CalDAV-endpoint
// bridge to an arbitrary Provider Adapter against the local Event Store.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/macjediwizard/calsync/internal/activity"
	"github.com/macjediwizard/calsync/internal/cryptocodec"
	"github.com/macjediwizard/calsync/internal/model"
	"github.com/macjediwizard/calsync/internal/provider"
	"github.com/macjediwizard/calsync/internal/retry"
	"github.com/macjediwizard/calsync/internal/store"
)

var (
	ErrConnectionMissing  = errors.New("engine: connection not found")
	ErrConnectionDisabled = errors.New("engine: connection has sync disabled")
	ErrProviderUnknown    = errors.New("engine: no adapter registered for platform")
)

// Engine orchestrates one-calendar-at-a-time sync jobs.
type Engine struct {
	store     *store.Store
	encryptor *cryptocodec.Encryptor
	registry  *provider.Registry
	tracker   *activity.Tracker
}

// New builds a Sync Engine from its collaborators.
func New(s *store.Store, encryptor *cryptocodec.Encryptor, registry *provider.Registry, tracker *activity.Tracker) *Engine {
	return &Engine{store: s, encryptor: encryptor, registry: registry, tracker: tracker}
}

// SyncCalendar runs spec.md §4.3's ten-step algorithm for one
// (user, connection, calendar) triple. Callers (the Dispatcher) are
// responsible for per-triple mutual exclusion; the engine assumes it has
// exclusive ownership of the triple's SyncState for the duration of the call.
func (e *Engine) SyncCalendar(ctx context.Context, userID, connectionID, externalCalendarID string, opts model.SyncOptions) (model.SyncOutcome, error) {
	start := time.Now()
	if err := opts.Validate(); err != nil {
		return model.SyncOutcome{}, err
	}

	// Step 1: load connection, scoped to caller ownership.
	conn, err := e.store.GetConnectionForUser(connectionID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return model.SyncOutcome{}, ErrConnectionMissing
		}
		return model.SyncOutcome{}, fmt.Errorf("failed to load connection: %w", err)
	}
	if !conn.SyncEnabled {
		return model.SyncOutcome{}, ErrConnectionDisabled
	}

	// Step 2: resolve adapter.
	adapter, ok := e.registry.Resolve(conn.PlatformType)
	if !ok {
		return model.SyncOutcome{}, ErrProviderUnknown
	}

	// Step 3: decrypt the access token, AAD-bound to the connection ID.
	accessToken, err := e.encryptor.Decrypt(conn.CredentialCiphertext, conn.ID)
	if err != nil {
		return model.SyncOutcome{}, fmt.Errorf("failed to decrypt credential: %w", err)
	}

	// Step 4: load-or-create sync state.
	syncState, err := e.store.GetOrCreateSyncState(userID, connectionID, externalCalendarID)
	if err != nil {
		return model.SyncOutcome{}, fmt.Errorf("failed to load sync state: %w", err)
	}

	// Step 5: compute window.
	now := time.Now().UTC()
	since := now.AddDate(0, 0, -opts.WindowDaysPast)
	until := now.AddDate(0, 0, opts.WindowDaysFuture)

	// Step 6: choose strategy.
	deltaToken := syncState.DeltaToken
	useDelta := !opts.ForceFull && adapter.Capabilities().Delta && deltaToken != ""

	if e.tracker != nil {
		e.tracker.StartSync(tripleKey(userID, connectionID, externalCalendarID), externalCalendarID, 1)
	}

	// Step 7: fetch with retry.
	result, fetchErr := e.fetchWithRetry(ctx, adapter, accessToken, externalCalendarID, since, until, opts, &useDelta, &deltaToken)
	if fetchErr != nil {
		e.finishWithFailure(userID, connectionID, externalCalendarID, conn, fetchErr)
		return model.SyncOutcome{Success: false, ErrorMessage: fetchErr.Error(), Duration: time.Since(start)}, nil
	}

	// Step 8: apply events to the Event Store in batches.
	outcome, err := e.applyEvents(ctx, userID, conn, externalCalendarID, result.Events, opts.BatchSize)
	if err != nil {
		e.finishWithFailure(userID, connectionID, externalCalendarID, conn, err)
		return model.SyncOutcome{Success: false, ErrorMessage: err.Error(), Duration: time.Since(start)}, nil
	}

	// Step 9: advance sync state (only on a fully successful apply, so
	// failures get at-least-once re-delivery on the next run).
	newState := &model.SyncState{
		UserID:             userID,
		ConnectionID:       connectionID,
		ExternalCalendarID: externalCalendarID,
		DeltaToken:         result.NextDeltaToken,
		LastWindowStart:    &since,
		LastWindowEnd:      &until,
	}
	newState.UpdatedMin = maxTime(syncState.UpdatedMin, result.MaxUpdatedAt)
	if err := e.store.AdvanceSyncState(newState); err != nil {
		e.finishWithFailure(userID, connectionID, externalCalendarID, conn, err)
		return model.SyncOutcome{Success: false, ErrorMessage: err.Error(), Duration: time.Since(start)}, nil
	}

	// Step 10: mark connection healthy, as its own transaction.
	if err := e.store.UpdateConnectionOutcome(conn.ID, true, false, &now, ""); err != nil {
		log.Printf("engine: failed to record successful sync outcome for connection %s: %v", conn.ID, err)
	}

	if e.tracker != nil {
		e.tracker.FinishSync(tripleKey(userID, connectionID, externalCalendarID), true, "sync completed", nil)
	}

	outcome.Success = true
	outcome.NextDeltaToken = result.NextDeltaToken
	outcome.MaxUpdatedAt = result.MaxUpdatedAt
	outcome.Duration = time.Since(start)
	return outcome, nil
}

// fetchWithRetry implements step 7: the retry loop with the InvalidDeltaToken
// strategy-change branch carved out from the attempt budget, per
// original_source's _fetch_events_with_retry.
func (e *Engine) fetchWithRetry(ctx context.Context, adapter provider.Adapter, accessToken, calendarID string, since, until time.Time, opts model.SyncOptions, useDelta *bool, deltaToken *string) (provider.FetchResult, error) {
	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return provider.FetchResult{}, err
		}

		var effectiveDeltaToken string
		if *useDelta {
			effectiveDeltaToken = *deltaToken
		}

		result, err := adapter.FetchEvents(ctx, accessToken, calendarID, since, until, effectiveDeltaToken, nil)
		if err == nil {
			return result, nil
		}

		if *useDelta && provider.KindOf(err) == provider.KindInvalidDeltaToken {
			*useDelta = false
			*deltaToken = ""
			continue // does not consume the attempt budget
		}

		decision := retry.Decide(attempt, opts.MaxRetries, err)
		switch decision.Action {
		case retry.ActionResetDeltaTokenAndRetry:
			*useDelta = false
			*deltaToken = ""
			continue
		case retry.ActionSleepAndRetry:
			select {
			case <-ctx.Done():
				return provider.FetchResult{}, ctx.Err()
			case <-time.After(decision.Sleep):
			}
			attempt++
			continue
		default:
			return provider.FetchResult{}, err
		}
	}
}

// applyEvents implements §4.4's per-batch upsert pipeline: each batch
// commits or reverts as a unit, and per-event transformation failures are
// recorded rather than aborting the batch.
func (e *Engine) applyEvents(ctx context.Context, userID string, conn *model.ExternalConnection, externalCalendarID string, events []model.CalendarEvent, batchSize int) (model.SyncOutcome, error) {
	outcome := model.SyncOutcome{}

	for start := 0; start < len(events); start += batchSize {
		end := start + batchSize
		if end > len(events) {
			end = len(events)
		}
		batch := events[start:end]

		tx, err := e.store.Conn().BeginTx(ctx, nil)
		if err != nil {
			return outcome, fmt.Errorf("failed to begin batch transaction: %w", err)
		}

		for _, evt := range batch {
			if err := validateRecurrence(evt.RecurrenceRule); err != nil {
				_ = e.store.SaveMalformedEvent(userID, conn.ID, externalCalendarID, evt.ExternalEventID, err.Error())
				outcome.Skipped++
				continue
			}

			action, err := e.store.UpsertEvent(tx, userID, conn.PlatformType, evt)
			if err != nil {
				tx.Rollback()
				return outcome, fmt.Errorf("failed to upsert event batch: %w", err)
			}
			switch action {
			case "created":
				outcome.Created++
			case "updated":
				outcome.Updated++
			case "deleted":
				outcome.Deleted++
			case "skipped":
				outcome.Skipped++
			}
			outcome.EventsProcessed++
		}

		if err := tx.Commit(); err != nil {
			return outcome, fmt.Errorf("failed to commit event batch: %w", err)
		}

		if e.tracker != nil {
			e.tracker.UpdateProgress(tripleKey(userID, conn.ID, externalCalendarID),
				outcome.Created, outcome.Updated, outcome.Deleted, outcome.Skipped, outcome.EventsProcessed)
		}
	}

	return outcome, nil
}

func (e *Engine) finishWithFailure(userID, connectionID, externalCalendarID string, conn *model.ExternalConnection, err error) {
	kind := provider.KindOf(err)
	forceError := kind == provider.KindAuthExpired || kind == provider.KindPermanent
	if updateErr := e.store.UpdateConnectionOutcome(conn.ID, false, forceError, nil, sanitizeErrorMessage(err)); updateErr != nil {
		log.Printf("engine: failed to record sync failure for connection %s: %v", conn.ID, updateErr)
	}
	if e.tracker != nil {
		e.tracker.FinishSync(tripleKey(userID, connectionID, externalCalendarID), false, err.Error(), []string{err.Error()})
	}
}

// sanitizeErrorMessage truncates a stored error message to 2000 bytes,
// matching the teacher's sanitizeLogDetails. It does not redact content.
func sanitizeErrorMessage(err error) string {
	msg := err.Error()
	const maxLength = 2000
	if len(msg) > maxLength {
		msg = msg[:maxLength] + "... (truncated)"
	}
	return msg
}

func tripleKey(userID, connectionID, externalCalendarID string) string {
	return strings.Join([]string{userID, connectionID, externalCalendarID}, "/")
}

func maxTime(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.After(*a) {
		return b
	}
	return a
}
