package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/macjediwizard/calsync/internal/auth"
	"github.com/macjediwizard/calsync/internal/dispatcher"
	"github.com/macjediwizard/calsync/internal/model"
)

// APIAuthStatus returns the authentication status.
func (h *Handlers) APIAuthStatus(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	if session == nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"user": gin.H{
			"id":    session.UserID,
			"email": session.Email,
			"name":  session.Name,
		},
	})
}

// APILogout logs out the user.
func (h *Handlers) APILogout(c *gin.Context) {
	if err := h.session.Clear(c.Writer, c.Request); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to logout"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// apiConnection is the API-facing shape of a connection, omitting the
// encrypted credential blob.
type apiConnection struct {
	ID                  string  `json:"id"`
	PlatformType        string  `json:"platform_type"`
	SyncEnabled         bool    `json:"sync_enabled"`
	SyncStatus          string  `json:"sync_status"`
	LastSyncAt          *string `json:"last_sync_at,omitempty"`
	LastError           string  `json:"last_error,omitempty"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	CreatedAt           string  `json:"created_at"`
	UpdatedAt           string  `json:"updated_at"`
}

func connectionToAPI(c *model.ExternalConnection) apiConnection {
	out := apiConnection{
		ID:                  c.ID,
		PlatformType:        c.PlatformType,
		SyncEnabled:         c.SyncEnabled,
		SyncStatus:          string(c.SyncStatus),
		LastError:           c.LastError,
		ConsecutiveFailures: c.ConsecutiveFailures,
		CreatedAt:           c.CreatedAt.Format(time.RFC3339),
		UpdatedAt:           c.UpdatedAt.Format(time.RFC3339),
	}
	if c.LastSyncAt != nil {
		s := c.LastSyncAt.Format(time.RFC3339)
		out.LastSyncAt = &s
	}
	return out
}

// APIListConnections returns every connection owned by the caller.
func (h *Handlers) APIListConnections(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	conns, err := h.store.GetConnectionsByUser(session.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load connections"})
		return
	}
	out := make([]apiConnection, len(conns))
	for i, conn := range conns {
		out[i] = connectionToAPI(conn)
	}
	c.JSON(http.StatusOK, out)
}

// APIGetConnection returns a single connection.
func (h *Handlers) APIGetConnection(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	conn, err := h.store.GetConnectionForUser(c.Param("id"), session.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}
	c.JSON(http.StatusOK, connectionToAPI(conn))
}

// apiCreateConnectionRequest is the request body for connecting a new
// platform account. The caller is expected to have already completed
// whatever out-of-band authorization flow the platform requires (OAuth
// code exchange, app password) and supplies the resulting opaque token.
type apiCreateConnectionRequest struct {
	PlatformType string `json:"platform_type"`
	AccessToken  string `json:"access_token"`
}

// APICreateConnection registers a new connection, encrypting the supplied
// token with the connection's own ID as AAD.
func (h *Handlers) APICreateConnection(c *gin.Context) {
	session := auth.GetCurrentUser(c)

	var req apiCreateConnectionRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.PlatformType == "" || req.AccessToken == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "platform_type and access_token are required"})
		return
	}
	if _, ok := h.dispatcher.ResolveAdapter(req.PlatformType); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown platform_type"})
		return
	}

	conn := &model.ExternalConnection{
		UserID:       session.UserID,
		PlatformType: req.PlatformType,
		SyncEnabled:  true,
	}
	if err := h.store.CreateConnection(conn); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create connection"})
		return
	}

	ciphertext, err := h.dispatcher.EncryptCredential(req.AccessToken, conn.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encrypt credential"})
		return
	}
	if err := h.store.UpdateConnectionCredential(conn.ID, session.UserID, ciphertext); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store credential"})
		return
	}
	conn.CredentialCiphertext = ciphertext

	c.JSON(http.StatusCreated, connectionToAPI(conn))
}

// APIToggleConnection enables or disables a connection.
func (h *Handlers) APIToggleConnection(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	connID := c.Param("id")

	conn, err := h.store.GetConnectionForUser(connID, session.UserID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}

	if err := h.store.SetConnectionEnabled(connID, session.UserID, !conn.SyncEnabled); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update connection"})
		return
	}

	conn.SyncEnabled = !conn.SyncEnabled
	c.JSON(http.StatusOK, connectionToAPI(conn))
}

// APIDeleteConnection removes a connection.
func (h *Handlers) APIDeleteConnection(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	if err := h.store.DeleteConnection(c.Param("id"), session.UserID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "connection deleted"})
}

// apiPullRequest mirrors dispatcher.PullRequest over the wire. The window
// fields are pointers so an omitted field (nil) takes the dispatcher's
// default window, distinct from an explicit 0 or negative value, which is
// rejected per spec.md §8.
type apiPullRequest struct {
	ConnectionIDs    []string `json:"connection_ids"`
	CalendarIDs      []string `json:"calendar_ids,omitempty"`
	ForceFull        bool     `json:"force_full"`
	WindowDaysPast   *int     `json:"window_days_past,omitempty"`
	WindowDaysFuture *int     `json:"window_days_future,omitempty"`
}

// APISyncPull enqueues pull jobs for the requested connections/calendars.
func (h *Handlers) APISyncPull(c *gin.Context) {
	session := auth.GetCurrentUser(c)

	var req apiPullRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if len(req.ConnectionIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connection_ids is required"})
		return
	}

	results, err := h.dispatcher.Pull(c.Request.Context(), session.UserID, dispatcher.PullRequest{
		ConnectionIDs:    req.ConnectionIDs,
		CalendarIDs:      req.CalendarIDs,
		ForceFull:        req.ForceFull,
		WindowDaysPast:   req.WindowDaysPast,
		WindowDaysFuture: req.WindowDaysFuture,
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidWindow) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue pull"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
}

// apiPushEvent mirrors dispatcher.PushEvent over the wire.
type apiPushEvent struct {
	LocalID            string           `json:"local_id"`
	ExternalEventID    string           `json:"external_event_id,omitempty"`
	ExternalCalendarID string           `json:"external_calendar_id"`
	Title              string           `json:"title"`
	Description        string           `json:"description,omitempty"`
	StartUTC           time.Time        `json:"start_utc"`
	EndUTC             *time.Time       `json:"end_utc,omitempty"`
	AllDay             bool             `json:"all_day"`
	Location           string           `json:"location,omitempty"`
	RecurrenceRule     string           `json:"recurrence_rule,omitempty"`
	Attendees          []model.Attendee `json:"attendees,omitempty"`
	Action             string           `json:"action"`
}

// apiPushRequest is the Push request body, scoped to one connection.
type apiPushRequest struct {
	ConnectionID string         `json:"connection_id"`
	Events       []apiPushEvent `json:"events"`
}

// APISyncPush applies a batch of local event changes against one connection.
func (h *Handlers) APISyncPush(c *gin.Context) {
	session := auth.GetCurrentUser(c)

	var req apiPushRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.ConnectionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "connection_id is required"})
		return
	}

	events := make([]dispatcher.PushEvent, len(req.Events))
	for i, e := range req.Events {
		events[i] = dispatcher.PushEvent{
			LocalID:            e.LocalID,
			ExternalEventID:    e.ExternalEventID,
			ExternalCalendarID: e.ExternalCalendarID,
			Title:              e.Title,
			Description:        e.Description,
			StartUTC:           e.StartUTC,
			EndUTC:             e.EndUTC,
			AllDay:             e.AllDay,
			Location:           e.Location,
			RecurrenceRule:     e.RecurrenceRule,
			Attendees:          e.Attendees,
			Action:             e.Action,
		}
	}

	results, err := h.dispatcher.Push(c.Request.Context(), session.UserID, req.ConnectionID, events)
	if err != nil {
		switch err {
		case dispatcher.ErrConnectionMissing:
			c.JSON(http.StatusNotFound, gin.H{"error": "connection not found"})
		case dispatcher.ErrWriteUnsupported:
			c.JSON(http.StatusBadRequest, gin.H{"error": "connection's platform does not support writes"})
		default:
			log.Printf("push failed for connection %s: %v", req.ConnectionID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to apply push"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
}

// APISyncState returns every connection's health and calendar cursors.
func (h *Handlers) APISyncState(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	states, err := h.dispatcher.State(session.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load sync state"})
		return
	}
	c.JSON(http.StatusOK, states)
}

// apiMalformedEvent is the API-facing shape of a recorded transformation
// failure.
type apiMalformedEvent struct {
	ID                 string `json:"id"`
	ConnectionID       string `json:"connection_id"`
	ExternalCalendarID string `json:"external_calendar_id"`
	ExternalEventID    string `json:"external_event_id,omitempty"`
	ErrorMessage       string `json:"error_message"`
	DiscoveredAt       string `json:"discovered_at"`
}

// APIGetMalformedEvents lists recorded per-event transformation failures.
func (h *Handlers) APIGetMalformedEvents(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	events, err := h.store.GetMalformedEventsForUser(session.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load malformed events"})
		return
	}

	out := make([]apiMalformedEvent, len(events))
	for i, e := range events {
		out[i] = apiMalformedEvent{
			ID:                 e.ID,
			ConnectionID:       e.ConnectionID,
			ExternalCalendarID: e.ExternalCalendarID,
			ExternalEventID:    e.ExternalEventID,
			ErrorMessage:       e.ErrorMessage,
			DiscoveredAt:       e.DiscoveredAt.Format(time.RFC3339),
		}
	}
	c.JSON(http.StatusOK, out)
}

// APIDeleteMalformedEvent deletes one recorded failure.
func (h *Handlers) APIDeleteMalformedEvent(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	if err := h.store.DeleteMalformedEventForUser(c.Param("id"), session.UserID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "malformed event not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "malformed event deleted"})
}

// APIDeleteAllMalformedEvents clears every recorded failure for the caller.
func (h *Handlers) APIDeleteAllMalformedEvents(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	if err := h.store.DeleteAllMalformedEventsForUser(session.UserID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete malformed events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "malformed events deleted"})
}

// APIGetActivity returns currently running and recently completed sync jobs.
func (h *Handlers) APIGetActivity(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active": h.tracker.GetActive(),
		"recent": h.tracker.GetRecent(),
	})
}
