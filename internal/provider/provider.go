// Package provider defines the Provider Adapter contract (spec.md §4.1) and
// implements the Google-class, ICS-class, CalDAV-class, and Stub adapters.
package provider

import (
	"context"
	"time"

	"github.com/macjediwizard/calsync/internal/model"
)

// CalendarMeta is one calendar a provider exposes to a connected account.
type CalendarMeta struct {
	ExternalCalendarID string
	DisplayName        string
	Timezone           string
	Color              string
	AccessRole         string
	Primary            bool
}

// FetchResult is the outcome of one fetch_events call.
type FetchResult struct {
	Events         []model.CalendarEvent
	NextDeltaToken string
	MaxUpdatedAt   *time.Time
	HasMore        bool
}

// Adapter is the per-vendor translation between a neutral event model and a
// provider's native API. Implementations hold no state beyond an HTTP
// client pool; credentials are passed in on every call.
type Adapter interface {
	Name() string
	Capabilities() model.ProviderCapabilities

	ListCalendars(ctx context.Context, accessToken string) ([]CalendarMeta, error)

	FetchEvents(ctx context.Context, accessToken, calendarID string, since, until time.Time, deltaToken string, updatedMin *time.Time) (FetchResult, error)

	UpsertEvent(ctx context.Context, accessToken, calendarID string, event model.CalendarEvent) (model.CalendarEvent, error)

	DeleteEvent(ctx context.Context, accessToken, calendarID, externalEventID string) error

	Close() error
}

// Registry resolves a platform_type string to its Adapter, mirroring
// original_source/server/app/services/sync_service.py's _setup_providers
// dict-of-providers pattern.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a Registry from the given name→adapter pairs.
func NewRegistry(adapters map[string]Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// Resolve returns the adapter for platformType, or false if unknown.
func (r *Registry) Resolve(platformType string) (Adapter, bool) {
	a, ok := r.adapters[platformType]
	return a, ok
}

// Close closes every registered adapter's resources.
func (r *Registry) Close() {
	for _, a := range r.adapters {
		_ = a.Close()
	}
}
