package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/kiwari-pos/engine/internal/config"
	"github.com/kiwari-pos/engine/internal/handler"
	mw "github.com/kiwari-pos/engine/internal/middleware"
	"github.com/kiwari-pos/engine/internal/service"
	"github.com/kiwari-pos/engine/internal/ws"
	"github.com/sirupsen/logrus"
)

// Deps are the long-lived components the routes are served from.
type Deps struct {
	Service *service.OrderService
	Cache   handler.Snapshotter
	Notify  handler.Notifier
	Hub     *ws.Hub
	Log     logrus.FieldLogger
}

// New creates a Chi router with all local routes wired up.
func New(cfg *config.Config, d Deps) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// The SPA is served from the same machine; the dev server runs on 5173.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173",
			"http://127.0.0.1:5173",
			"http://localhost:4173",
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// WebSocket route (handles auth internally via query param)
	wsLog := d.Log.WithField("component", "ws")
	r.Get("/ws/views/{view}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(d.Hub, cfg.JWTSecret, wsLog, w, r)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))
		r.Use(mw.RequireKnownRole)

		stateHandler := handler.NewStateHandler(d.Cache, d.Notify, d.Log)
		stateHandler.RegisterRoutes(r)

		orderHandler := handler.NewOrderHandler(d.Service, d.Log)
		r.Route("/orders", orderHandler.RegisterRoutes)

		billHandler := handler.NewBillHandler(d.Service, handler.Rates{
			Tax:                  cfg.TaxRate,
			ServiceCharge:        cfg.ServiceChargeRate,
			ServiceChargeEnabled: cfg.ServiceChargeEnabled,
		}, d.Log)
		r.Route("/bills", billHandler.RegisterRoutes)

		queueHandler := handler.NewQueueHandler(d.Service, d.Log)
		r.Route("/queue", queueHandler.RegisterRoutes)
	})

	d.Log.Info("router initialized")
	return r
}
