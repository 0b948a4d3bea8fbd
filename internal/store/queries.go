package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/macjediwizard/calsync/internal/model"
)

// GetOrCreateUser mirrors the teacher's pattern of looking a user up by
// email and lazily creating the row on first sight.
func (s *Store) GetOrCreateUser(email, name string) (*model.User, error) {
	user, err := s.GetUserByEmail(email)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	user = &model.User{
		ID:        uuid.New().String(),
		Email:     email,
		Name:      name,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	_, err = s.conn.Exec(`INSERT INTO users (id, email, name, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.Name, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (s *Store) GetUserByEmail(email string) (*model.User, error) {
	row := s.conn.QueryRow(`SELECT id, email, name, created_at, updated_at FROM users WHERE email = ?`, email)
	user := &model.User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return user, nil
}

func (s *Store) GetUserByID(id string) (*model.User, error) {
	row := s.conn.QueryRow(`SELECT id, email, name, created_at, updated_at FROM users WHERE id = ?`, id)
	user := &model.User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.CreatedAt, &user.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by ID: %w", err)
	}
	return user, nil
}

// CreateConnection inserts a new ExternalConnection, assigning an ID if
// absent.
func (s *Store) CreateConnection(c *model.ExternalConnection) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.CreatedAt = time.Now().UTC()
	c.UpdatedAt = c.CreatedAt
	if c.SyncStatus == "" {
		c.SyncStatus = model.SyncStatusIdle
	}

	_, err := s.conn.Exec(`INSERT INTO external_connections
		(id, user_id, platform_type, credential_ciphertext, sync_enabled, sync_status, last_sync_at, last_error, consecutive_failures, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.UserID, c.PlatformType, c.CredentialCiphertext, c.SyncEnabled, c.SyncStatus,
		c.LastSyncAt, c.LastError, c.ConsecutiveFailures, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create connection: %w", err)
	}
	return nil
}

// GetConnectionForUser returns a connection only if owned by userID,
// combining the ownership check with the fetch to avoid a separate
// existence-then-ownership round trip (timing-attack-safe, per the
// teacher's GetSourceByIDForUser).
func (s *Store) GetConnectionForUser(id, userID string) (*model.ExternalConnection, error) {
	row := s.conn.QueryRow(`SELECT id, user_id, platform_type, credential_ciphertext, sync_enabled, sync_status,
		last_sync_at, last_error, consecutive_failures, created_at, updated_at
		FROM external_connections WHERE id = ? AND user_id = ?`, id, userID)
	return scanConnection(row)
}

func (s *Store) GetConnectionsByUser(userID string) ([]*model.ExternalConnection, error) {
	rows, err := s.conn.Query(`SELECT id, user_id, platform_type, credential_ciphertext, sync_enabled, sync_status,
		last_sync_at, last_error, consecutive_failures, created_at, updated_at
		FROM external_connections WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query connections: %w", err)
	}
	defer rows.Close()

	var out []*model.ExternalConnection
	for rows.Next() {
		c, err := scanConnectionFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetAllEnabledConnections returns every sync_enabled connection across all
// users, for the background poller to fan pull jobs out over.
func (s *Store) GetAllEnabledConnections() ([]*model.ExternalConnection, error) {
	rows, err := s.conn.Query(`SELECT id, user_id, platform_type, credential_ciphertext, sync_enabled, sync_status,
		last_sync_at, last_error, consecutive_failures, created_at, updated_at
		FROM external_connections WHERE sync_enabled = 1 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query enabled connections: %w", err)
	}
	defer rows.Close()

	var out []*model.ExternalConnection
	for rows.Next() {
		c, err := scanConnectionFromRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpdateConnectionOutcome applies step 10 of the Sync Engine algorithm as
// its own transaction, distinct from the upsert-and-advance-state
// transaction of steps 8-9. It also tracks spec.md §7's two-consecutive-
// failures escalation: consecutive_failures resets to 0 on success and
// increments on failure, and sync_status only flips to error once that
// counter reaches 2 - unless forceError is set, for the error kinds
// (AuthExpired, Permanent) §7's error table escalates immediately.
func (s *Store) UpdateConnectionOutcome(id string, success, forceError bool, lastSyncAt *time.Time, lastError string) error {
	_, err := s.conn.Exec(`UPDATE external_connections SET
		consecutive_failures = CASE WHEN ? THEN 0 ELSE consecutive_failures + 1 END,
		sync_status = CASE
			WHEN ? THEN ?
			WHEN ? OR consecutive_failures + 1 >= 2 THEN ?
			ELSE sync_status
		END,
		last_sync_at = COALESCE(?, last_sync_at),
		last_error = ?,
		updated_at = ?
		WHERE id = ?`,
		success,
		success, model.SyncStatusIdle,
		forceError, model.SyncStatusError,
		lastSyncAt, nullIfEmpty(lastError), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update connection outcome: %w", err)
	}
	return nil
}

// SetConnectionEnabled toggles sync_enabled for a connection owned by userID.
func (s *Store) SetConnectionEnabled(id, userID string, enabled bool) error {
	res, err := s.conn.Exec(`UPDATE external_connections SET sync_enabled = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		enabled, time.Now().UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to update connection: %w", err)
	}
	return requireRowAffected(res)
}

// UpdateConnectionCredential replaces a connection's encrypted credential
// blob, for re-authorization flows.
func (s *Store) UpdateConnectionCredential(id, userID, ciphertext string) error {
	res, err := s.conn.Exec(`UPDATE external_connections SET credential_ciphertext = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		ciphertext, time.Now().UTC(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to update connection credential: %w", err)
	}
	return requireRowAffected(res)
}

// DeleteConnection removes a connection owned by userID. Sync states cascade
// via the foreign key; events are retained.
func (s *Store) DeleteConnection(id, userID string) error {
	res, err := s.conn.Exec(`DELETE FROM external_connections WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete connection: %w", err)
	}
	return requireRowAffected(res)
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to confirm write: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConnection(row *sql.Row) (*model.ExternalConnection, error) {
	c := &model.ExternalConnection{}
	var lastSyncAt sql.NullTime
	var lastError sql.NullString
	err := row.Scan(&c.ID, &c.UserID, &c.PlatformType, &c.CredentialCiphertext, &c.SyncEnabled, &c.SyncStatus,
		&lastSyncAt, &lastError, &c.ConsecutiveFailures, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}
	if lastSyncAt.Valid {
		c.LastSyncAt = &lastSyncAt.Time
	}
	c.LastError = lastError.String
	return c, nil
}

func scanConnectionFromRows(rows *sql.Rows) (*model.ExternalConnection, error) {
	c := &model.ExternalConnection{}
	var lastSyncAt sql.NullTime
	var lastError sql.NullString
	err := rows.Scan(&c.ID, &c.UserID, &c.PlatformType, &c.CredentialCiphertext, &c.SyncEnabled, &c.SyncStatus,
		&lastSyncAt, &lastError, &c.ConsecutiveFailures, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan connection: %w", err)
	}
	if lastSyncAt.Valid {
		c.LastSyncAt = &lastSyncAt.Time
	}
	c.LastError = lastError.String
	return c, nil
}

// GetOrCreateSyncState loads the sync state for a triple, creating an empty
// one if this is the calendar's first sync (spec.md §3 "Sync states are
// created lazily on first sync").
func (s *Store) GetOrCreateSyncState(userID, connectionID, externalCalendarID string) (*model.SyncState, error) {
	state, err := s.GetSyncState(userID, connectionID, externalCalendarID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	state = &model.SyncState{
		UserID:             userID,
		ConnectionID:       connectionID,
		ExternalCalendarID: externalCalendarID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	_, err = s.conn.Exec(`INSERT INTO sync_state (user_id, connection_id, external_calendar_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`, state.UserID, state.ConnectionID, state.ExternalCalendarID, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create sync state: %w", err)
	}
	return state, nil
}

func (s *Store) GetSyncState(userID, connectionID, externalCalendarID string) (*model.SyncState, error) {
	row := s.conn.QueryRow(`SELECT user_id, connection_id, external_calendar_id, delta_token, updated_min,
		last_window_start, last_window_end, created_at, updated_at
		FROM sync_state WHERE user_id = ? AND connection_id = ? AND external_calendar_id = ?`,
		userID, connectionID, externalCalendarID)

	state := &model.SyncState{}
	var deltaToken sql.NullString
	var updatedMin, windowStart, windowEnd sql.NullTime
	err := row.Scan(&state.UserID, &state.ConnectionID, &state.ExternalCalendarID, &deltaToken, &updatedMin,
		&windowStart, &windowEnd, &state.CreatedAt, &state.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state: %w", err)
	}
	state.DeltaToken = deltaToken.String
	if updatedMin.Valid {
		state.UpdatedMin = &updatedMin.Time
	}
	if windowStart.Valid {
		state.LastWindowStart = &windowStart.Time
	}
	if windowEnd.Valid {
		state.LastWindowEnd = &windowEnd.Time
	}
	return state, nil
}

// AdvanceSyncState persists step 9 of the Sync Engine algorithm: the new
// delta token (cleared on full-sync fallback), the monotonically advanced
// updated_min, and the window just completed.
func (s *Store) AdvanceSyncState(state *model.SyncState) error {
	state.UpdatedAt = time.Now().UTC()
	_, err := s.conn.Exec(`UPDATE sync_state SET delta_token = ?, updated_min = ?, last_window_start = ?, last_window_end = ?, updated_at = ?
		WHERE user_id = ? AND connection_id = ? AND external_calendar_id = ?`,
		nullIfEmpty(state.DeltaToken), state.UpdatedMin, state.LastWindowStart, state.LastWindowEnd, state.UpdatedAt,
		state.UserID, state.ConnectionID, state.ExternalCalendarID)
	if err != nil {
		return fmt.Errorf("failed to advance sync state: %w", err)
	}
	return nil
}

func (s *Store) ListSyncStatesForConnection(connectionID string) ([]*model.SyncState, error) {
	rows, err := s.conn.Query(`SELECT user_id, connection_id, external_calendar_id, delta_token, updated_min,
		last_window_start, last_window_end, created_at, updated_at
		FROM sync_state WHERE connection_id = ?`, connectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync states: %w", err)
	}
	defer rows.Close()

	var out []*model.SyncState
	for rows.Next() {
		state := &model.SyncState{}
		var deltaToken sql.NullString
		var updatedMin, windowStart, windowEnd sql.NullTime
		if err := rows.Scan(&state.UserID, &state.ConnectionID, &state.ExternalCalendarID, &deltaToken, &updatedMin,
			&windowStart, &windowEnd, &state.CreatedAt, &state.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync state: %w", err)
		}
		state.DeltaToken = deltaToken.String
		if updatedMin.Valid {
			state.UpdatedMin = &updatedMin.Time
		}
		if windowStart.Valid {
			state.LastWindowStart = &windowStart.Time
		}
		if windowEnd.Valid {
			state.LastWindowEnd = &windowEnd.Time
		}
		out = append(out, state)
	}
	return out, rows.Err()
}

// GetEvent looks up the existing row for the upsert pipeline's conflict
// check (spec.md §4.4 step 1).
func (s *Store) GetEvent(userID, sourcePlatform, externalCalendarID, externalEventID string) (*model.StoredEvent, error) {
	row := s.conn.QueryRow(`SELECT id, user_id, source_platform, external_calendar_id, external_event_id,
		title, description, location, recurrence_rule, start_utc, end_utc, all_day, attendees,
		external_updated_at, external_version, deleted, updated_at, created_at
		FROM events WHERE user_id = ? AND source_platform = ? AND external_calendar_id = ? AND external_event_id = ?`,
		userID, sourcePlatform, externalCalendarID, externalEventID)
	return scanEvent(row)
}

// UpsertEvent implements spec.md §4.4 steps 2-4 for one event, intended to
// be called inside a caller-managed transaction so a batch either fully
// commits or fully reverts.
func (s *Store) UpsertEvent(tx *sql.Tx, userID, sourcePlatform string, event model.CalendarEvent) (action string, err error) {
	existing, err := txGetEvent(tx, userID, sourcePlatform, event.ExternalCalendarID, event.ExternalEventID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}
	found := err == nil

	now := time.Now().UTC()

	if event.Deleted {
		if !found {
			return "skipped", nil
		}
		_, err := tx.Exec(`UPDATE events SET deleted = 1, updated_at = ? WHERE id = ?`, now, existing.ID)
		if err != nil {
			return "", fmt.Errorf("failed to tombstone event: %w", err)
		}
		return "deleted", nil
	}

	if found && existing.ExternalUpdatedAt != nil && !event.ExternalUpdatedAt.After(*existing.ExternalUpdatedAt) {
		return "skipped", nil
	}

	attendeesJSON, err := json.Marshal(event.Attendees)
	if err != nil {
		return "", fmt.Errorf("failed to encode attendees: %w", err)
	}

	if found {
		_, err = tx.Exec(`UPDATE events SET title = ?, description = ?, location = ?, recurrence_rule = ?,
			start_utc = ?, end_utc = ?, all_day = ?, attendees = ?, external_updated_at = ?, external_version = ?,
			deleted = 0, updated_at = ? WHERE id = ?`,
			event.Title, event.Description, event.Location, event.RecurrenceRule,
			event.StartUTC, event.EndUTC, event.AllDay, string(attendeesJSON), event.ExternalUpdatedAt, event.ExternalVersion,
			now, existing.ID)
		if err != nil {
			return "", fmt.Errorf("failed to update event: %w", err)
		}
		return "updated", nil
	}

	id := uuid.New().String()
	_, err = tx.Exec(`INSERT INTO events (id, user_id, source_platform, external_calendar_id, external_event_id,
		title, description, location, recurrence_rule, start_utc, end_utc, all_day, attendees,
		external_updated_at, external_version, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id, userID, sourcePlatform, event.ExternalCalendarID, event.ExternalEventID,
		event.Title, event.Description, event.Location, event.RecurrenceRule,
		event.StartUTC, event.EndUTC, event.AllDay, string(attendeesJSON),
		event.ExternalUpdatedAt, event.ExternalVersion, now, now)
	if err != nil {
		return "", fmt.Errorf("failed to insert event: %w", err)
	}
	return "created", nil
}

func txGetEvent(tx *sql.Tx, userID, sourcePlatform, externalCalendarID, externalEventID string) (*model.StoredEvent, error) {
	row := tx.QueryRow(`SELECT id, user_id, source_platform, external_calendar_id, external_event_id,
		title, description, location, recurrence_rule, start_utc, end_utc, all_day, attendees,
		external_updated_at, external_version, deleted, updated_at, created_at
		FROM events WHERE user_id = ? AND source_platform = ? AND external_calendar_id = ? AND external_event_id = ?`,
		userID, sourcePlatform, externalCalendarID, externalEventID)
	return scanEvent(row)
}

func scanEvent(row *sql.Row) (*model.StoredEvent, error) {
	e := &model.StoredEvent{}
	var endUTC, externalUpdatedAt sql.NullTime
	var attendeesJSON string
	err := row.Scan(&e.ID, &e.UserID, &e.SourcePlatform, &e.ExternalCalendarID, &e.ExternalEventID,
		&e.Title, &e.Description, &e.Location, &e.RecurrenceRule, &e.StartUTC, &endUTC, &e.AllDay, &attendeesJSON,
		&externalUpdatedAt, &e.ExternalVersion, &e.Deleted, &e.UpdatedAt, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	if endUTC.Valid {
		e.EndUTC = &endUTC.Time
	}
	if externalUpdatedAt.Valid {
		e.ExternalUpdatedAt = &externalUpdatedAt.Time
	}
	if attendeesJSON != "" {
		_ = json.Unmarshal([]byte(attendeesJSON), &e.Attendees)
	}
	return e, nil
}

// SaveMalformedEvent records a per-event transformation failure, adapted
// from the teacher's MalformedEventCollector/SaveMalformedEvent pair.
func (s *Store) SaveMalformedEvent(userID, connectionID, externalCalendarID, externalEventID, errMsg string) error {
	_, err := s.conn.Exec(`INSERT INTO malformed_events (id, user_id, connection_id, external_calendar_id, external_event_id, error_message, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), userID, connectionID, externalCalendarID, externalEventID, errMsg, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save malformed event: %w", err)
	}
	return nil
}

// MalformedEvent is a recorded per-event transformation failure.
type MalformedEvent struct {
	ID                 string
	UserID             string
	ConnectionID       string
	ExternalCalendarID string
	ExternalEventID    string
	ErrorMessage       string
	DiscoveredAt       time.Time
}

// GetMalformedEventsForUser lists recorded transformation failures across
// all of a user's connections, most recent first.
func (s *Store) GetMalformedEventsForUser(userID string) ([]*MalformedEvent, error) {
	rows, err := s.conn.Query(`SELECT m.id, m.user_id, m.connection_id, m.external_calendar_id, m.external_event_id, m.error_message, m.discovered_at
		FROM malformed_events m WHERE m.user_id = ? ORDER BY m.discovered_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query malformed events: %w", err)
	}
	defer rows.Close()

	var out []*MalformedEvent
	for rows.Next() {
		e := &MalformedEvent{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.ConnectionID, &e.ExternalCalendarID, &e.ExternalEventID, &e.ErrorMessage, &e.DiscoveredAt); err != nil {
			return nil, fmt.Errorf("failed to scan malformed event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// DeleteMalformedEventForUser removes one record, scoped to ownership.
func (s *Store) DeleteMalformedEventForUser(id, userID string) error {
	res, err := s.conn.Exec(`DELETE FROM malformed_events WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete malformed event: %w", err)
	}
	return requireRowAffected(res)
}

// DeleteAllMalformedEventsForUser clears every recorded failure for a user.
func (s *Store) DeleteAllMalformedEventsForUser(userID string) error {
	_, err := s.conn.Exec(`DELETE FROM malformed_events WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete malformed events: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
