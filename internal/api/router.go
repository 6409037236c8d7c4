package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/hackgods/token-queue-scheduling/internal/appointment"
	"github.com/hackgods/token-queue-scheduling/internal/monitor"
)

type RouterConfig struct {
	Service *appointment.Service
	// Monitor backs the admin tick endpoint; nil disables it.
	Monitor *monitor.Monitor

	// Health probes. Unset dependencies are not reported.
	PgPool *pgxpool.Pool
	SQLite *sql.DB
	Redis  *redis.Client

	Env      string
	Version  string
	Location *time.Location

	JWTSecret          string
	CORSAllowedOrigins []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}

	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID", "X-Actor-ID", "X-Actor-Role"},
		ExposedHeaders: []string{"X-Request-ID"},
	}).Handler)
	r.Use(ActorMiddleware(cfg.JWTSecret))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.SQLite, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	svc := cfg.Service

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(svc, loc))
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/queue", queueHandler(svc))
			r.Get("/current", currentTokenHandler(svc))
			r.Post("/tokens", bookTokenHandler(svc))
			r.Post("/next", callNextHandler(svc))
			r.Put("/delay", updateDelayHandler(svc))
			r.Post("/tokens/{tokenID}/complete", tokenActionHandler(svc.MarkCompleted))
			r.Post("/tokens/{tokenID}/emergency", tokenActionHandler(svc.MarkEmergency))
			r.Post("/tokens/{tokenID}/skip", tokenActionHandler(svc.SkipToken))
		})
	})

	r.Get("/doctors/{id}/stats", doctorStatsHandler(svc, loc))
	r.Get("/doctors/{id}/appointments", bookableHandler(svc))

	r.Get("/patients/{id}/tokens", patientTokensHandler(svc))
	r.Get("/patients/{id}/tokens/count", patientTokenCountsHandler(svc))

	r.Post("/admin/lifecycle/tick", lifecycleTickHandler(cfg.Monitor))

	return r
}
