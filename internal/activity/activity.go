package activity

import (
	"sync"
	"time"
)

// SyncActivity represents the current state of one (user, connection,
// calendar) triple's sync job.
type SyncActivity struct {
	TripleKey       string    `json:"triple_key"`
	CalendarLabel   string    `json:"calendar_label"`
	Status          string    `json:"status"` // "running", "completed", "error", "partial"
	CurrentCalendar string    `json:"current_calendar,omitempty"`
	TotalCalendars  int       `json:"total_calendars"`
	Calendarssynced int       `json:"calendars_synced"`
	EventsProcessed int       `json:"events_processed"`
	EventsCreated   int       `json:"events_created"`
	EventsUpdated   int       `json:"events_updated"`
	EventsDeleted   int       `json:"events_deleted"`
	EventsSkipped   int       `json:"events_skipped"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Duration        string    `json:"duration,omitempty"`
	Message         string    `json:"message,omitempty"`
	Errors          []string  `json:"errors,omitempty"`
}

// Tracker tracks sync activity across all (user, connection, calendar)
// triples.
type Tracker struct {
	mu             sync.RWMutex
	active         map[string]*SyncActivity // triple key -> activity
	recent         []*SyncActivity          // Recently completed syncs
	maxRecentSyncs int
}

// NewTracker creates a new activity tracker.
func NewTracker() *Tracker {
	return &Tracker{
		active:         make(map[string]*SyncActivity),
		recent:         make([]*SyncActivity, 0),
		maxRecentSyncs: 20, // Keep last 20 completed syncs
	}
}

// StartSync begins tracking a new sync job for the given triple key.
func (t *Tracker) StartSync(tripleKey, calendarLabel string, totalCalendars int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.active[tripleKey] = &SyncActivity{
		TripleKey:      tripleKey,
		CalendarLabel:  calendarLabel,
		Status:         "running",
		TotalCalendars: totalCalendars,
		StartedAt:      time.Now(),
	}
}

// UpdateCalendar updates the current calendar being synced.
func (t *Tracker) UpdateCalendar(tripleKey, calendarName string, calendarIndex int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if activity, exists := t.active[tripleKey]; exists {
		activity.CurrentCalendar = calendarName
		activity.Calendarssynced = calendarIndex
	}
}

// UpdateProgress updates sync progress counters.
func (t *Tracker) UpdateProgress(tripleKey string, created, updated, deleted, skipped, processed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if activity, exists := t.active[tripleKey]; exists {
		activity.EventsCreated = created
		activity.EventsUpdated = updated
		activity.EventsDeleted = deleted
		activity.EventsSkipped = skipped
		activity.EventsProcessed = processed
	}
}

// IncrementProgress increments progress counters by the given amounts.
func (t *Tracker) IncrementProgress(tripleKey string, created, updated, deleted, skipped, processed int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if activity, exists := t.active[tripleKey]; exists {
		activity.EventsCreated += created
		activity.EventsUpdated += updated
		activity.EventsDeleted += deleted
		activity.EventsSkipped += skipped
		activity.EventsProcessed += processed
	}
}

// FinishSync marks a sync job as completed and moves it to recent.
func (t *Tracker) FinishSync(tripleKey string, success bool, message string, errors []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	activity, exists := t.active[tripleKey]
	if !exists {
		return
	}

	now := time.Now()
	activity.CompletedAt = &now
	activity.Duration = now.Sub(activity.StartedAt).Round(time.Millisecond).String()
	activity.Message = message
	activity.Errors = errors
	activity.CurrentCalendar = ""

	if success {
		if len(errors) > 0 {
			activity.Status = "partial"
		} else {
			activity.Status = "completed"
		}
	} else {
		activity.Status = "error"
	}

	// Move to recent list
	t.recent = append([]*SyncActivity{activity}, t.recent...)
	if len(t.recent) > t.maxRecentSyncs {
		t.recent = t.recent[:t.maxRecentSyncs]
	}

	// Remove from active
	delete(t.active, tripleKey)
}

// GetActive returns all currently active syncs.
func (t *Tracker) GetActive() []*SyncActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*SyncActivity, 0, len(t.active))
	for _, activity := range t.active {
		// Create a copy to avoid race conditions
		copy := *activity
		copy.Duration = time.Since(activity.StartedAt).Round(time.Millisecond).String()
		result = append(result, &copy)
	}
	return result
}

// GetRecent returns recently completed syncs.
func (t *Tracker) GetRecent() []*SyncActivity {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make([]*SyncActivity, len(t.recent))
	for i, activity := range t.recent {
		copy := *activity
		result[i] = &copy
	}
	return result
}

// GetAll returns both active and recent syncs.
func (t *Tracker) GetAll() map[string]interface{} {
	return map[string]interface{}{
		"active": t.GetActive(),
		"recent": t.GetRecent(),
	}
}

// IsTripleSyncing returns true if the given triple key currently has a sync
// job in flight.
func (t *Tracker) IsTripleSyncing(tripleKey string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.active[tripleKey]
	return exists
}
