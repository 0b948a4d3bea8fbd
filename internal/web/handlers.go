package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/macjediwizard/calsync/internal/activity"
	"github.com/macjediwizard/calsync/internal/auth"
	"github.com/macjediwizard/calsync/internal/config"
	"github.com/macjediwizard/calsync/internal/dispatcher"
	"github.com/macjediwizard/calsync/internal/health"
	"github.com/macjediwizard/calsync/internal/store"
)

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	cfg        *config.Config
	store      *store.Store
	oidc       *auth.OIDCProvider
	session    *auth.SessionManager
	dispatcher *dispatcher.Dispatcher
	tracker    *activity.Tracker
	health     *health.Checker
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	cfg *config.Config,
	s *store.Store,
	oidc *auth.OIDCProvider,
	session *auth.SessionManager,
	d *dispatcher.Dispatcher,
	tracker *activity.Tracker,
	healthChecker *health.Checker,
) *Handlers {
	return &Handlers{
		cfg:        cfg,
		store:      s,
		oidc:       oidc,
		session:    session,
		dispatcher: d,
		tracker:    tracker,
		health:     healthChecker,
	}
}

// HealthCheck returns a full health report.
func (h *Handlers) HealthCheck(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// Liveness returns a simple liveness check.
func (h *Handlers) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, h.health.Liveness())
}

// Readiness checks all dependencies.
func (h *Handlers) Readiness(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	if report.Status == health.StatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, report)
		return
	}
	c.JSON(http.StatusOK, report)
}

// Login initiates OIDC authentication.
func (h *Handlers) Login(c *gin.Context) {
	state, err := auth.GenerateState()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate state"})
		return
	}

	if err := h.session.SetOAuthState(c.Writer, c.Request, state); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save state"})
		return
	}

	c.Redirect(http.StatusFound, h.oidc.AuthCodeURL(state))
}

// Callback handles the OIDC callback.
func (h *Handlers) Callback(c *gin.Context) {
	state := c.Query("state")
	savedState, err := h.session.GetOAuthState(c.Writer, c.Request)
	if err != nil || state != savedState {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid state parameter"})
		return
	}

	if errParam := c.Query("error"); errParam != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "authentication failed: " + errParam})
		return
	}

	code := c.Query("code")
	token, err := h.oidc.Exchange(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to exchange code"})
		return
	}

	claims, err := h.oidc.VerifyIDToken(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to verify token"})
		return
	}

	user, err := h.store.GetOrCreateUser(claims.Email, claims.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create user"})
		return
	}

	sessionData := &auth.SessionData{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	}
	if err := h.session.Set(c.Writer, c.Request, sessionData); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}

	redirectURL := "/"
	if cookie, err := c.Cookie("redirect_after_login"); err == nil && cookie != "" {
		if IsSafeRedirectURL(cookie) {
			redirectURL = cookie
		}
		c.SetCookie("redirect_after_login", "", -1, "/", "", h.cfg.IsProduction(), true)
	}

	c.Redirect(http.StatusFound, redirectURL)
}

// Logout clears the session.
func (h *Handlers) Logout(c *gin.Context) {
	if err := h.session.Clear(c.Writer, c.Request); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to logout"})
		return
	}
	c.Redirect(http.StatusFound, "/auth/login")
}
