package provider

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"github.com/macjediwizard/calsync/internal/model"
)

// ICSAdapter is the write-only (+ optional URL read) ICS-over-HTTP adapter,
// grounded on original_source/server/app/integrations/naver_provider.py: it
// serializes a single VEVENT and form-POSTs it to a fixed create endpoint,
// and can optionally read a calendar by treating calendarID as an http(s)
// feed URL (spec.md §9 Open Question (b), preserved verbatim).
type ICSAdapter struct {
	name         string
	createURL    string
	httpClient   *http.Client
	formFieldCal string // form field name carrying the target calendar, e.g. "calendarId"
	formFieldICS string // form field name carrying the ICS payload, e.g. "scheduleIcalString"
}

// NewICSAdapter builds an ICS-class adapter. createURL is the form-POST
// endpoint used for upsert (e.g. Naver's createSchedule.json).
func NewICSAdapter(platformName, createURL string) *ICSAdapter {
	return &ICSAdapter{
		name:         platformName,
		createURL:    createURL,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		formFieldCal: "calendarId",
		formFieldICS: "scheduleIcalString",
	}
}

func (a *ICSAdapter) Name() string { return a.name }

func (a *ICSAdapter) Capabilities() model.ProviderCapabilities {
	return model.ProviderCapabilities{Read: false, Write: true, Delta: false}
}

func (a *ICSAdapter) ListCalendars(ctx context.Context, accessToken string) ([]CalendarMeta, error) {
	return nil, Unsupported(a.name, "calendar listing is not supported by ICS-class providers")
}

// FetchEvents only succeeds when calendarID is an http(s) URL, in which case
// it fetches and parses that ICS feed, filtering events to [since, until) by
// start time. This preserves the Naver provider's URL-overloaded calendarID
// argument noted as a sharp edge in spec.md §9.
func (a *ICSAdapter) FetchEvents(ctx context.Context, accessToken, calendarID string, since, until time.Time, deltaToken string, updatedMin *time.Time) (FetchResult, error) {
	if !strings.HasPrefix(calendarID, "http://") && !strings.HasPrefix(calendarID, "https://") {
		return FetchResult{}, Unsupported(a.name, "calendar read is not supported unless calendar_id is an ICS feed URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, calendarID, nil)
	if err != nil {
		return FetchResult{}, Permanent(a.name, "failed to build feed request", err)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return FetchResult{}, Transient(a.name, "failed to fetch ICS feed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return FetchResult{}, Transient(a.name, fmt.Sprintf("feed returned status %d", resp.StatusCode), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return FetchResult{}, Permanent(a.name, fmt.Sprintf("feed returned status %d", resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{}, Transient(a.name, "failed to read feed body", err)
	}

	cal, err := ical.NewDecoder(bytes.NewReader(body)).Decode()
	if err != nil {
		return FetchResult{}, Permanent(a.name, "failed to parse ICS feed", err)
	}

	var events []model.CalendarEvent
	var maxUpdated time.Time
	for _, evt := range cal.Children {
		if evt.Name != ical.CompEvent {
			continue
		}
		ce, err := parseICSEvent(evt)
		if err != nil {
			continue
		}
		if ce.StartUTC.Before(since) || !ce.StartUTC.Before(until) {
			continue
		}
		events = append(events, ce)
		if ce.ExternalUpdatedAt.After(maxUpdated) {
			maxUpdated = ce.ExternalUpdatedAt
		}
	}

	result := FetchResult{Events: events, HasMore: false}
	if !maxUpdated.IsZero() {
		result.MaxUpdatedAt = &maxUpdated
	}
	return result, nil
}

// UpsertEvent serializes event as a VCALENDAR/VEVENT and form-POSTs it to
// the provider's create endpoint. Same-UID resubmission is treated by the
// remote as an update, per spec.md §4.1.
func (a *ICSAdapter) UpsertEvent(ctx context.Context, accessToken, calendarID string, event model.CalendarEvent) (model.CalendarEvent, error) {
	uid := event.ExternalEventID
	if uid == "" {
		uid = synthesizeUID(event.Title, event.StartUTC)
	}

	icsContent := encodeICSEvent(uid, event)

	form := url.Values{}
	form.Set(a.formFieldCal, calendarID)
	form.Set(a.formFieldICS, icsContent)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.createURL, strings.NewReader(form.Encode()))
	if err != nil {
		return model.CalendarEvent{}, Permanent(a.name, "failed to build upsert request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return model.CalendarEvent{}, Transient(a.name, "failed to post event", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return model.CalendarEvent{}, RateLimited(a.name, "rate limited", nil)
	case resp.StatusCode == http.StatusUnauthorized:
		return model.CalendarEvent{}, AuthExpired(a.name, "access token rejected")
	case resp.StatusCode >= 500:
		return model.CalendarEvent{}, Transient(a.name, fmt.Sprintf("create returned status %d", resp.StatusCode), nil)
	case resp.StatusCode >= 300:
		return model.CalendarEvent{}, Permanent(a.name, fmt.Sprintf("create returned status %d", resp.StatusCode), nil)
	}

	result := event
	result.ExternalEventID = uid
	result.ExternalUpdatedAt = time.Now().UTC()
	return result, nil
}

// DeleteEvent always fails: ICS-class providers have no delete endpoint,
// per spec.md §4.1. Push reports this as a per-event failure; no local
// tombstone is written for it.
func (a *ICSAdapter) DeleteEvent(ctx context.Context, accessToken, calendarID, externalEventID string) error {
	return Unsupported(a.name, "deletion is not supported; the event will be marked deleted locally only")
}

func (a *ICSAdapter) Close() error { return nil }

// synthesizeUID deterministically derives an event UID from title+start
// when the caller has no external_event_id yet, matching
// original_source's hash(title, start) fallback.
func synthesizeUID(title string, start time.Time) string {
	sum := sha1.Sum([]byte(title + "|" + start.UTC().Format(time.RFC3339)))
	return hex.EncodeToString(sum[:])
}

// encodeICSEvent builds a minimal VCALENDAR/VEVENT text body per spec.md
// §6's wire format, grounded on naver_provider.py's _generate_ics_content.
func encodeICSEvent(uid string, event model.CalendarEvent) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\n")
	b.WriteString("VERSION:2.0\r\n")
	b.WriteString("PRODID:-//calsync//calsync//EN\r\n")
	b.WriteString("BEGIN:VEVENT\r\n")
	fmt.Fprintf(&b, "UID:%s\r\n", escapeICSText(uid))
	fmt.Fprintf(&b, "DTSTAMP:%s\r\n", time.Now().UTC().Format("20060102T150405Z"))
	fmt.Fprintf(&b, "SUMMARY:%s\r\n", escapeICSText(event.Title))
	if event.Description != "" {
		fmt.Fprintf(&b, "DESCRIPTION:%s\r\n", escapeICSText(event.Description))
	}
	if event.Location != "" {
		fmt.Fprintf(&b, "LOCATION:%s\r\n", escapeICSText(event.Location))
	}
	b.WriteString(formatICSDateTime("DTSTART", event.StartUTC, event.AllDay))
	end := event.StartUTC
	if event.EndUTC != nil {
		end = *event.EndUTC
	}
	b.WriteString(formatICSDateTime("DTEND", end, event.AllDay))
	if event.RecurrenceRule != "" {
		fmt.Fprintf(&b, "%s\r\n", event.RecurrenceRule)
	}
	for _, att := range event.Attendees {
		fmt.Fprintf(&b, "ATTENDEE;CN=%s:mailto:%s\r\n", escapeICSText(att.Name), att.Email)
	}
	b.WriteString("STATUS:CONFIRMED\r\n")
	b.WriteString("TRANSP:OPAQUE\r\n")
	b.WriteString("END:VEVENT\r\n")
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

func formatICSDateTime(prop string, t time.Time, allDay bool) string {
	if allDay {
		return fmt.Sprintf("%s;VALUE=DATE:%s\r\n", prop, t.UTC().Format("20060102"))
	}
	return fmt.Sprintf("%s:%s\r\n", prop, t.UTC().Format("20060102T150405Z"))
}

// escapeICSText escapes backslash, comma, semicolon, and newline per RFC
// 5545 / spec.md §6.
func escapeICSText(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, ",", `\,`)
	s = strings.ReplaceAll(s, ";", `\;`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}

var errNoVEvent = fmt.Errorf("ics: calendar document contains no VEVENT component")

// decodeICS parses a full VCALENDAR document, shared by the feed-fetch path
// above and the CalDAV adapter's single-event GET/REPORT responses.
func decodeICS(data string) (*ical.Calendar, error) {
	return ical.NewDecoder(strings.NewReader(data)).Decode()
}

// parseICSEvent extracts the normalized fields this package cares about
// from a decoded VEVENT component.
func parseICSEvent(evt *ical.Component) (model.CalendarEvent, error) {
	uid, err := evt.Props.Text(ical.PropUID)
	if err != nil {
		return model.CalendarEvent{}, err
	}

	summary, _ := evt.Props.Text(ical.PropSummary)
	description, _ := evt.Props.Text(ical.PropDescription)
	location, _ := evt.Props.Text(ical.PropLocation)

	dtstartProp := evt.Props.Get(ical.PropDateTimeStart)
	if dtstartProp == nil {
		return model.CalendarEvent{}, fmt.Errorf("ics event %s missing DTSTART", uid)
	}
	start, allDay, err := parseICSProp(dtstartProp)
	if err != nil {
		return model.CalendarEvent{}, err
	}

	end := start
	if dtendProp := evt.Props.Get(ical.PropDateTimeEnd); dtendProp != nil {
		if e, _, err := parseICSProp(dtendProp); err == nil {
			end = e
		}
	}

	updated := start
	if stampProp := evt.Props.Get(ical.PropDateTimeStamp); stampProp != nil {
		if s, _, err := parseICSProp(stampProp); err == nil {
			updated = s
		}
	}

	return model.CalendarEvent{
		ExternalEventID:   uid,
		Title:             summary,
		Description:       description,
		Location:          location,
		StartUTC:          start,
		EndUTC:            &end,
		AllDay:            allDay,
		ExternalUpdatedAt: updated,
	}, nil
}

func parseICSProp(prop *ical.Prop) (time.Time, bool, error) {
	if prop.Params.Get(ical.ParamValue) == "DATE" {
		t, err := time.Parse("20060102", prop.Value)
		if err != nil {
			return time.Time{}, false, err
		}
		return t.UTC(), true, nil
	}

	t, err := prop.DateTime(time.UTC)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), false, nil
}
