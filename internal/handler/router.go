package handler

import (
	"net/http"

	"github.com/Dan9191/bank-cards/internal/metrics"
	"github.com/Dan9191/bank-cards/internal/middleware"
	"github.com/Dan9191/bank-cards/internal/models"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// NewRouter wires every route of the card API
func NewRouter(h *Handler, parser middleware.TokenParser, log *logrus.Logger, m *metrics.Metrics, gatherer prometheus.Gatherer) *mux.Router {
	auth := middleware.AuthMiddleware(parser, log)
	adminOnly := middleware.RequireRole(models.RoleAdmin, log)
	authed := func(f http.HandlerFunc) http.Handler { return auth(f) }
	admin := func(f http.HandlerFunc) http.Handler { return auth(adminOnly(f)) }

	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(log, m))

	// Public routes
	r.HandleFunc("/register", h.Register).Methods("POST")
	r.HandleFunc("/login", h.Login).Methods("POST")
	r.HandleFunc("/refresh", h.Refresh).Methods("POST")
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")

	// Card routes; /cards/transfer goes before the {id} patterns
	r.Handle("/cards", authed(h.ListCards)).Methods("GET")
	r.Handle("/cards", admin(h.CreateCard)).Methods("POST")
	r.Handle("/cards/transfer", authed(h.Transfer)).Methods("POST")
	r.Handle("/cards/{id}", authed(h.GetCard)).Methods("GET")
	r.Handle("/cards/{id}", admin(h.UpdateCard)).Methods("PATCH")
	r.Handle("/cards/{id}", admin(h.DeleteCard)).Methods("DELETE")
	r.Handle("/cards/{id}/transfers", authed(h.CardTransfers)).Methods("GET")
	r.Handle("/cards/{id}/block", authed(h.RequestBlock)).Methods("POST")
	r.Handle("/cards/{id}/block-admin", admin(h.BlockCard)).Methods("POST")
	r.Handle("/cards/{id}/activate", admin(h.ActivateCard)).Methods("POST")

	// User administration
	r.Handle("/admin/users", admin(h.ListUsers)).Methods("GET")
	r.Handle("/admin/users", admin(h.CreateUser)).Methods("POST")
	r.Handle("/admin/users/{id}", admin(h.UpdateUser)).Methods("PATCH")
	r.Handle("/admin/users/{id}", admin(h.DeleteUser)).Methods("DELETE")

	return r
}
