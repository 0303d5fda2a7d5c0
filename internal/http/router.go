package httpserver

import (
	"log"
	"net/http"

	"github.com/craftpage/wizard-back/internal/http/handlers"
	"github.com/craftpage/wizard-back/internal/http/middleware"
)

type RouterDependencies struct {
	API            *handlers.API
	Logger         *log.Logger
	AuthToken      string
	AdminAuthToken string
	CORSOrigins    []string
	RateLimitRPS   float64
	RateLimitBurst int
}

func NewRouter(deps RouterDependencies) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", deps.API.Health)

	mux.HandleFunc("/v1/sessions", deps.API.CreateSession)
	mux.HandleFunc("/v1/sessions/check-duplicate", deps.API.CheckDuplicateName)
	mux.HandleFunc("/v1/sessions/", deps.API.Sessions)

	mux.HandleFunc("/v1/queue", deps.API.Queue)
	mux.HandleFunc("/v1/queue/", deps.API.QueueItem)
	mux.HandleFunc("/v1/admin/activity", deps.API.AdminActivity)

	mux.HandleFunc("/v1/oauth/callback", deps.API.OAuthCallback)

	handler := http.Handler(mux)
	handler = middleware.Auth(middleware.AuthConfig{
		CustomerToken: deps.AuthToken,
		AdminToken:    deps.AdminAuthToken,
	})(handler)
	handler = middleware.RateLimit(deps.RateLimitRPS, deps.RateLimitBurst)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: deps.CORSOrigins,
	})(handler)
	handler = middleware.Trace(deps.Logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}
