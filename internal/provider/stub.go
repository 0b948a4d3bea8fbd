package provider

import (
	"context"
	"time"

	"github.com/macjediwizard/calsync/internal/model"
)

// StubAdapter implements Adapter with every capability false. It exists so
// the dispatcher can uniformly enumerate providers that have no working
// integration yet, directly grounded on original_source's Kakao placeholder
// provider.
type StubAdapter struct {
	name string
	hint string
}

// NewStubAdapter builds a stub for platformName, returning hint as the
// Unsupported message on every call.
func NewStubAdapter(platformName, hint string) *StubAdapter {
	return &StubAdapter{name: platformName, hint: hint}
}

func (s *StubAdapter) Name() string { return s.name }

func (s *StubAdapter) Capabilities() model.ProviderCapabilities {
	return model.ProviderCapabilities{Read: false, Write: false, Delta: false}
}

func (s *StubAdapter) ListCalendars(ctx context.Context, accessToken string) ([]CalendarMeta, error) {
	return nil, Unsupported(s.name, s.hint)
}

func (s *StubAdapter) FetchEvents(ctx context.Context, accessToken, calendarID string, since, until time.Time, deltaToken string, updatedMin *time.Time) (FetchResult, error) {
	return FetchResult{}, Unsupported(s.name, s.hint)
}

func (s *StubAdapter) UpsertEvent(ctx context.Context, accessToken, calendarID string, event model.CalendarEvent) (model.CalendarEvent, error) {
	return model.CalendarEvent{}, Unsupported(s.name, s.hint)
}

func (s *StubAdapter) DeleteEvent(ctx context.Context, accessToken, calendarID, externalEventID string) error {
	return Unsupported(s.name, s.hint)
}

func (s *StubAdapter) Close() error { return nil }
