package provider

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	calendar "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/macjediwizard/calsync/internal/model"
)

// GoogleAdapter is the read+write+delta Provider Adapter for Google
// Calendar, grounded on
// original_source/server/app/integrations/google_provider.py. It wraps
// google.golang.org/api/calendar/v3 with an oauth2.StaticTokenSource built
// fresh per call from the already-decrypted access token, and smooths
// outbound bursts with a golang.org/x/time/rate limiter ahead of the
// engine's own retry policy.
type GoogleAdapter struct {
	limiter *rate.Limiter
}

// NewGoogleAdapter builds a Google-class adapter. burstsPerSecond bounds
// outbound request rate; pass 0 to use a sensible default.
func NewGoogleAdapter(burstsPerSecond float64) *GoogleAdapter {
	if burstsPerSecond <= 0 {
		burstsPerSecond = 5
	}
	return &GoogleAdapter{limiter: rate.NewLimiter(rate.Limit(burstsPerSecond), int(burstsPerSecond)+1)}
}

func (g *GoogleAdapter) Name() string { return "google" }

func (g *GoogleAdapter) Capabilities() model.ProviderCapabilities {
	return model.ProviderCapabilities{Read: true, Write: true, Delta: true}
}

func (g *GoogleAdapter) service(ctx context.Context, accessToken string) (*calendar.Service, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := calendar.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, Permanent(g.Name(), "failed to build calendar client", err)
	}
	return svc, nil
}

func (g *GoogleAdapter) ListCalendars(ctx context.Context, accessToken string) ([]CalendarMeta, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, Transient(g.Name(), "rate limiter wait cancelled", err)
	}

	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	list, err := svc.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogleError(g.Name(), err)
	}

	calendars := make([]CalendarMeta, 0, len(list.Items))
	for _, item := range list.Items {
		calendars = append(calendars, CalendarMeta{
			ExternalCalendarID: item.Id,
			DisplayName:        item.Summary,
			Timezone:           item.TimeZone,
			Color:              item.BackgroundColor,
			AccessRole:         item.AccessRole,
			Primary:            item.Primary,
		})
	}
	return calendars, nil
}

// FetchEvents uses syncToken mode when deltaToken is non-empty, otherwise a
// timeMin/timeMax window optionally bounded below by updatedMin, matching
// original_source's fetch_events exactly. A 410/"Invalid sync token"
// response is translated to InvalidDeltaToken rather than retried here —
// the engine owns the window-fallback decision per spec.md §4.3 step 7.
func (g *GoogleAdapter) FetchEvents(ctx context.Context, accessToken, calendarID string, since, until time.Time, deltaToken string, updatedMin *time.Time) (FetchResult, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return FetchResult{}, Transient(g.Name(), "rate limiter wait cancelled", err)
	}

	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return FetchResult{}, err
	}

	var events []model.CalendarEvent
	var maxUpdated time.Time
	pageToken := ""
	var nextSyncToken string

	for {
		call := svc.Events.List(calendarID).Context(ctx).MaxResults(2500).SingleEvents(true).OrderBy("updated")
		if deltaToken != "" {
			call = call.SyncToken(deltaToken)
		} else {
			call = call.TimeMin(since.Format(time.RFC3339)).TimeMax(until.Format(time.RFC3339))
			if updatedMin != nil {
				call = call.UpdatedMin(updatedMin.Format(time.RFC3339))
			}
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		resp, err := call.Do()
		if err != nil {
			if isInvalidSyncToken(err) {
				return FetchResult{}, InvalidDeltaToken(g.Name(), "sync token expired or invalid")
			}
			return FetchResult{}, classifyGoogleError(g.Name(), err)
		}

		for _, item := range resp.Items {
			ce, err := parseGoogleEvent(item)
			if err != nil {
				continue
			}
			events = append(events, ce)
			if ce.ExternalUpdatedAt.After(maxUpdated) {
				maxUpdated = ce.ExternalUpdatedAt
			}
		}

		if resp.NextSyncToken != "" {
			nextSyncToken = resp.NextSyncToken
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	result := FetchResult{Events: events, NextDeltaToken: nextSyncToken, HasMore: false}
	if !maxUpdated.IsZero() {
		result.MaxUpdatedAt = &maxUpdated
	}
	return result, nil
}

func (g *GoogleAdapter) UpsertEvent(ctx context.Context, accessToken, calendarID string, event model.CalendarEvent) (model.CalendarEvent, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return model.CalendarEvent{}, Transient(g.Name(), "rate limiter wait cancelled", err)
	}

	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return model.CalendarEvent{}, err
	}

	body := toGoogleEvent(event)

	var saved *calendar.Event
	if event.ExternalEventID != "" {
		saved, err = svc.Events.Update(calendarID, event.ExternalEventID, body).Context(ctx).Do()
	} else {
		saved, err = svc.Events.Insert(calendarID, body).Context(ctx).Do()
	}
	if err != nil {
		return model.CalendarEvent{}, classifyGoogleError(g.Name(), err)
	}

	return parseGoogleEvent(saved)
}

func (g *GoogleAdapter) DeleteEvent(ctx context.Context, accessToken, calendarID, externalEventID string) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return Transient(g.Name(), "rate limiter wait cancelled", err)
	}

	svc, err := g.service(ctx, accessToken)
	if err != nil {
		return err
	}

	if err := svc.Events.Delete(calendarID, externalEventID).Context(ctx).Do(); err != nil {
		return classifyGoogleError(g.Name(), err)
	}
	return nil
}

func (g *GoogleAdapter) Close() error { return nil }

func classifyGoogleError(name string, err error) error {
	var apiErr *googleapi.Error
	if !asGoogleAPIError(err, &apiErr) {
		return Transient(name, "network error calling Google Calendar API", err)
	}

	switch {
	case apiErr.Code == 429:
		retryAfter := parseRetryAfterHeader(apiErr.Header)
		return RateLimited(name, "rate limited by Google Calendar API", retryAfter)
	case apiErr.Code == 401:
		return AuthExpired(name, "access token invalid or expired")
	case apiErr.Code == 410 || isInvalidSyncToken(err):
		return InvalidDeltaToken(name, "sync token expired or invalid")
	case apiErr.Code >= 500:
		return Transient(name, fmt.Sprintf("Google Calendar API returned %d", apiErr.Code), err)
	default:
		return Permanent(name, fmt.Sprintf("Google Calendar API returned %d", apiErr.Code), err)
	}
}

func asGoogleAPIError(err error, target **googleapi.Error) bool {
	if ge, ok := err.(*googleapi.Error); ok {
		*target = ge
		return true
	}
	return false
}

func isInvalidSyncToken(err error) bool {
	return strings.Contains(err.Error(), "Invalid sync token") || strings.Contains(err.Error(), "fullSyncRequired")
}

func parseRetryAfterHeader(h http.Header) *time.Duration {
	value := h.Get("Retry-After")
	if value == "" {
		return nil
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return nil
	}
	d := time.Duration(seconds) * time.Second
	return &d
}

func parseGoogleEvent(item *calendar.Event) (model.CalendarEvent, error) {
	start, allDay, err := parseGoogleDateTime(item.Start)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	end := start
	if item.End != nil {
		if e, _, err := parseGoogleDateTime(item.End); err == nil {
			end = e
		}
	}

	updated, err := time.Parse(time.RFC3339, item.Updated)
	if err != nil {
		updated = start
	}

	attendees := make([]model.Attendee, 0, len(item.Attendees))
	for _, a := range item.Attendees {
		attendees = append(attendees, model.Attendee{Email: a.Email, Name: a.DisplayName, Status: a.ResponseStatus})
	}

	return model.CalendarEvent{
		ExternalEventID:   item.Id,
		Title:             item.Summary,
		Description:       item.Description,
		StartUTC:          start,
		EndUTC:            &end,
		AllDay:            allDay,
		Location:          item.Location,
		RecurrenceRule:    firstRRule(item.Recurrence),
		Attendees:         attendees,
		ExternalUpdatedAt: updated.UTC(),
		ExternalVersion:   item.Etag,
		Deleted:           item.Status == "cancelled",
	}, nil
}

func parseGoogleDateTime(dt *calendar.EventDateTime) (time.Time, bool, error) {
	if dt == nil {
		return time.Time{}, false, fmt.Errorf("missing datetime")
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return time.Time{}, false, err
		}
		return t.UTC(), false, nil
	}
	if dt.Date != "" {
		t, err := time.Parse("2006-01-02", dt.Date)
		if err != nil {
			return time.Time{}, false, err
		}
		return t.UTC(), true, nil
	}
	return time.Time{}, false, fmt.Errorf("invalid google datetime object")
}

func toGoogleEvent(event model.CalendarEvent) *calendar.Event {
	body := &calendar.Event{
		Summary:     event.Title,
		Description: event.Description,
		Location:    event.Location,
		Start:       formatGoogleDateTime(event.StartUTC, event.AllDay),
	}
	end := event.StartUTC
	if event.EndUTC != nil {
		end = *event.EndUTC
	}
	body.End = formatGoogleDateTime(end, event.AllDay)

	if event.RecurrenceRule != "" {
		body.Recurrence = []string{event.RecurrenceRule}
	}

	if len(event.Attendees) > 0 {
		attendees := make([]*calendar.EventAttendee, 0, len(event.Attendees))
		for _, a := range event.Attendees {
			status := a.Status
			if status == "" {
				status = "needsAction"
			}
			attendees = append(attendees, &calendar.EventAttendee{Email: a.Email, DisplayName: a.Name, ResponseStatus: status})
		}
		body.Attendees = attendees
	}

	return body
}

func formatGoogleDateTime(t time.Time, allDay bool) *calendar.EventDateTime {
	if allDay {
		return &calendar.EventDateTime{Date: t.UTC().Format("2006-01-02")}
	}
	return &calendar.EventDateTime{DateTime: t.UTC().Format(time.RFC3339), TimeZone: "UTC"}
}

// firstRRule extracts the first RRULE: line from a Google recurrence array,
// matching original_source's _parse_recurrence.
func firstRRule(recurrence []string) string {
	for _, line := range recurrence {
		if strings.HasPrefix(line, "RRULE:") {
			return line
		}
	}
	return ""
}
