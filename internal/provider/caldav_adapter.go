package provider

import (
	"context"
	"strings"
	"time"

	"github.com/macjediwizard/calsync/internal/caldav"
	"github.com/macjediwizard/calsync/internal/model"
)

// CalDAVAdapter is the read+write(+delta where supported) Provider Adapter
// for full CalDAV endpoints (as opposed to the bare ICS-over-POST dialect
// ICSAdapter speaks). It is a thin wrapper around the teacher's own
// internal/caldav.Client and WebDAV-Sync (RFC 6578) support, adapted from a
// two-endpoint bridge to a single external-provider adapter.
type CalDAVAdapter struct {
	client    *caldav.Client
	collector *caldav.MalformedEventCollector
}

// NewCalDAVAdapter wraps an already-constructed CalDAV client.
func NewCalDAVAdapter(client *caldav.Client) *CalDAVAdapter {
	return &CalDAVAdapter{client: client, collector: caldav.NewMalformedEventCollector()}
}

func (c *CalDAVAdapter) Name() string { return "caldav" }

func (c *CalDAVAdapter) Capabilities() model.ProviderCapabilities {
	return model.ProviderCapabilities{Read: true, Write: true, Delta: true}
}

func (c *CalDAVAdapter) ListCalendars(ctx context.Context, accessToken string) ([]CalendarMeta, error) {
	cals, err := c.client.FindCalendars(ctx)
	if err != nil {
		return nil, Transient(c.Name(), "failed to list calendars", err)
	}
	metas := make([]CalendarMeta, 0, len(cals))
	for _, cal := range cals {
		metas = append(metas, CalendarMeta{ExternalCalendarID: cal.Path, DisplayName: cal.Name})
	}
	return metas, nil
}

// FetchEvents uses WebDAV-Sync (RFC 6578) when deltaToken is present and
// the calendar supports it, otherwise falls back to a full GetEvents scan
// filtered to [since, until) locally, since the underlying CalDAV protocol
// has no native time-window query guaranteed across servers.
func (c *CalDAVAdapter) FetchEvents(ctx context.Context, accessToken, calendarID string, since, until time.Time, deltaToken string, updatedMin *time.Time) (FetchResult, error) {
	if deltaToken != "" && c.client.SupportsWebDAVSync(ctx, calendarID) {
		syncResp, err := c.client.SyncCollection(ctx, calendarID, deltaToken)
		if err != nil {
			if strings.Contains(err.Error(), "not supported") {
				return FetchResult{}, InvalidDeltaToken(c.Name(), "sync token rejected by server")
			}
			return FetchResult{}, Transient(c.Name(), "sync-collection REPORT failed", err)
		}

		var events []model.CalendarEvent
		var maxUpdated time.Time
		for _, item := range syncResp.Changed {
			ce, err := parseICSEventText(item.Data)
			if err != nil {
				continue
			}
			ce.ExternalVersion = item.ETag
			events = append(events, ce)
			if ce.ExternalUpdatedAt.After(maxUpdated) {
				maxUpdated = ce.ExternalUpdatedAt
			}
		}
		for _, path := range syncResp.Deleted {
			events = append(events, model.CalendarEvent{ExternalEventID: path, Deleted: true, ExternalUpdatedAt: time.Now().UTC()})
		}

		result := FetchResult{Events: events, NextDeltaToken: syncResp.SyncToken}
		if !maxUpdated.IsZero() {
			result.MaxUpdatedAt = &maxUpdated
		}
		return result, nil
	}

	rawEvents, err := c.client.GetEvents(ctx, calendarID, c.collector)
	if err != nil {
		return FetchResult{}, Transient(c.Name(), "failed to fetch calendar events", err)
	}

	var events []model.CalendarEvent
	var maxUpdated time.Time
	for _, raw := range rawEvents {
		ce, err := parseICSEventText(raw.Data)
		if err != nil {
			continue
		}
		if ce.StartUTC.Before(since) || !ce.StartUTC.Before(until) {
			continue
		}
		ce.ExternalVersion = raw.ETag
		events = append(events, ce)
		if ce.ExternalUpdatedAt.After(maxUpdated) {
			maxUpdated = ce.ExternalUpdatedAt
		}
	}

	result := FetchResult{Events: events}
	if !maxUpdated.IsZero() {
		result.MaxUpdatedAt = &maxUpdated
	}
	return result, nil
}

func (c *CalDAVAdapter) UpsertEvent(ctx context.Context, accessToken, calendarID string, event model.CalendarEvent) (model.CalendarEvent, error) {
	uid := event.ExternalEventID
	if uid == "" {
		uid = synthesizeUID(event.Title, event.StartUTC)
	}

	icsEvent := &caldav.Event{UID: uid, Data: encodeICSEvent(uid, event)}
	if err := c.client.PutEvent(ctx, calendarID, icsEvent); err != nil {
		return model.CalendarEvent{}, Transient(c.Name(), "failed to put event", err)
	}

	result := event
	result.ExternalEventID = uid
	result.ExternalUpdatedAt = time.Now().UTC()
	return result, nil
}

// DeleteEvent removes an event by its UID-derived path, since the
// underlying teacher client's DeleteEvent takes a full object path rather
// than a bare UID.
func (c *CalDAVAdapter) DeleteEvent(ctx context.Context, accessToken, calendarID, externalEventID string) error {
	path := strings.TrimSuffix(calendarID, "/") + "/" + externalEventID + ".ics"
	if err := c.client.DeleteEvent(ctx, path); err != nil {
		return Transient(c.Name(), "failed to delete event", err)
	}
	return nil
}

func (c *CalDAVAdapter) Close() error { return nil }

// parseICSEventText decodes a single-VEVENT calendar document (as returned
// by a CalDAV GET or sync-collection REPORT) into the normalized model.
func parseICSEventText(data string) (model.CalendarEvent, error) {
	cal, err := decodeICS(data)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	for _, comp := range cal.Children {
		if comp.Name == "VEVENT" {
			return parseICSEvent(comp)
		}
	}
	return model.CalendarEvent{}, errNoVEvent
}
