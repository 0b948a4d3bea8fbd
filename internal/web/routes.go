package web

import (
	"github.com/gin-gonic/gin"

	"github.com/macjediwizard/calsync/internal/auth"
)

// SetupRoutes configures all application routes.
//
// Rate Limiting Strategy:
// - Auth endpoints: 5 req/s, burst 10 - Strict to prevent credential brute-force
// - General API: 30 req/s, burst 60 - Allows normal client usage with headroom
// - Sync endpoints: 2 req/s, burst 5 - Very strict, since pull/push drive external network calls
//
// These values balance security with usability. Adjust via code if needed for your deployment.
func SetupRoutes(r *gin.Engine, h *Handlers, sm *auth.SessionManager) {
	// Health endpoints (no auth, no rate limit) - must always be accessible for orchestration
	r.GET("/health", h.HealthCheck)
	r.GET("/healthz", h.Liveness)
	r.GET("/ready", h.Readiness)

	// Auth endpoints with strict rate limiting to prevent brute force attacks on OIDC flow
	authRateLimiter := RateLimiter(5, 10)
	authGroup := r.Group("/auth")
	authGroup.Use(authRateLimiter)
	{
		authGroup.GET("/login", h.Login)
		authGroup.GET("/callback", h.Callback)
		authGroup.POST("/logout", h.Logout)
	}

	// General API routes - 30 req/s handles typical client usage
	apiRateLimiter := RateLimiter(30, 60)
	apiGroup := r.Group("/api")
	apiGroup.Use(apiRateLimiter)
	apiGroup.Use(auth.OptionalAuth(sm))
	{
		apiGroup.GET("/auth/status", h.APIAuthStatus)
		apiGroup.POST("/auth/logout", h.APILogout)
	}

	// Protected API routes with rate limiting, origin validation, and content-type validation
	protectedAPI := r.Group("/api")
	protectedAPI.Use(apiRateLimiter)
	protectedAPI.Use(auth.RequireAuth(sm))
	protectedAPI.Use(ValidateOrigin())
	protectedAPI.Use(RequireJSONContentType())
	{
		protectedAPI.GET("/connections", h.APIListConnections)
		protectedAPI.GET("/connections/:id", h.APIGetConnection)
		protectedAPI.POST("/connections/:id/toggle", h.APIToggleConnection)
		protectedAPI.DELETE("/connections/:id", h.APIDeleteConnection)
		protectedAPI.GET("/sync/state", h.APISyncState)
		protectedAPI.GET("/malformed-events", h.APIGetMalformedEvents)
		protectedAPI.DELETE("/malformed-events", h.APIDeleteAllMalformedEvents)
		protectedAPI.DELETE("/malformed-events/:id", h.APIDeleteMalformedEvent)
		protectedAPI.GET("/activity", h.APIGetActivity)
	}

	// Sync endpoints - strict rate limit since pull/push drive external
	// network calls against the connected platforms.
	syncRateLimiter := RateLimiter(2, 5)
	syncAPI := r.Group("/api")
	syncAPI.Use(syncRateLimiter)
	syncAPI.Use(auth.RequireAuth(sm))
	syncAPI.Use(ValidateOrigin())
	syncAPI.Use(RequireJSONContentType())
	{
		syncAPI.POST("/connections", h.APICreateConnection) // authorizes and persists a new platform connection
		syncAPI.POST("/sync/pull", h.APISyncPull)
		syncAPI.POST("/sync/push", h.APISyncPush)
	}
}
