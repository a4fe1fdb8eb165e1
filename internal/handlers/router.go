package handlers

import (
	"net/http"

	"github.com/akmatori/autoheal/internal/middleware"
)

// PublicPaths are served without an operator token
var PublicPaths = []string{
	"/health",
	"/metrics",
	"/auth/login",
	"/webhook/*",
}

// QueryTokenPaths accept the operator token as a query parameter
var QueryTokenPaths = []string{"/ws/*"}

// Router assembles the handlers behind the middleware chain
type Router struct {
	HTTP    *HTTPHandler
	Auth    *AuthHandler
	API     *APIHandler
	Webhook *WebhookHandler
	Events  *EventsWSHandler

	JWT  *middleware.JWTAuthMiddleware
	CORS *middleware.CORSMiddleware
}

// Handler returns the root handler: CORS, then request id, then JWT
// authentication in front of the mux
func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	rt.HTTP.SetupRoutes(mux)
	rt.Auth.SetupRoutes(mux)
	rt.API.SetupRoutes(mux)
	rt.Webhook.SetupRoutes(mux)
	rt.Events.SetupRoutes(mux)

	cors := rt.CORS
	if cors == nil {
		cors = middleware.NewCORSMiddleware()
	}
	return cors.Wrap(middleware.RequestIDMiddleware(rt.JWT.Wrap(mux)))
}
