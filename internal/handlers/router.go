package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/vehicle-care/internal/httputil"
	"github.com/ukydev/vehicle-care/internal/middleware"
	"github.com/ukydev/vehicle-care/internal/models"
)

// RouterConfig collects what NewRouter wires together.
type RouterConfig struct {
	Auth      *AuthHandler
	Vehicles  *VehicleHandler
	Health    http.HandlerFunc
	AuthMW    *middleware.AuthMiddleware
	RateLimit *middleware.RateLimitMiddleware

	RateLimitRequests int
	RateLimitWindow   time.Duration
	Logger            *log.Entry
}

// NewRouter builds the HTTP API.
func NewRouter(cfg RouterConfig) *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	if cfg.Logger != nil {
		r.Use(mux.MiddlewareFunc(middleware.RequestLogger(cfg.Logger)))
	}
	if cfg.RateLimit != nil && cfg.RateLimitRequests > 0 {
		r.Use(mux.MiddlewareFunc(cfg.RateLimit.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)))
	}

	r.HandleFunc("/health", cfg.Health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(cfg.AuthMW.Authenticate)
	guard := func(action string, h http.HandlerFunc) http.Handler {
		return cfg.AuthMW.RequirePermission(action)(h)
	}

	api.HandleFunc("/auth/register", cfg.Auth.Register).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", cfg.Auth.Login).Methods(http.MethodPost)
	api.HandleFunc("/auth/profile", cfg.Auth.GetProfile).Methods(http.MethodGet)
	api.HandleFunc("/auth/profile", cfg.Auth.UpdateProfile).Methods(http.MethodPut)
	api.HandleFunc("/auth/password", cfg.Auth.ChangePassword).Methods(http.MethodPost)

	api.HandleFunc("/catalog", cfg.Vehicles.Catalog).Methods(http.MethodGet)
	api.Handle("/overview", guard(models.ActionViewSchedule, cfg.Vehicles.Overview)).Methods(http.MethodGet)

	api.Handle("/vehicles", guard(models.ActionViewVehicles, cfg.Vehicles.ListVehicles)).Methods(http.MethodGet)
	api.Handle("/vehicles", guard(models.ActionManageVehicles, cfg.Vehicles.CreateVehicle)).Methods(http.MethodPost)
	api.Handle("/vehicles/{regNo}", guard(models.ActionViewVehicles, cfg.Vehicles.GetVehicle)).Methods(http.MethodGet)
	api.Handle("/vehicles/{regNo}", guard(models.ActionManageVehicles, cfg.Vehicles.UpdateVehicle)).Methods(http.MethodPut)
	api.Handle("/vehicles/{regNo}", guard(models.ActionManageVehicles, cfg.Vehicles.DeleteVehicle)).Methods(http.MethodDelete)
	api.Handle("/vehicles/{regNo}/due", guard(models.ActionViewSchedule, cfg.Vehicles.DueServices)).Methods(http.MethodGet)
	api.Handle("/vehicles/{regNo}/history", guard(models.ActionViewHistory, cfg.Vehicles.ServiceHistory)).Methods(http.MethodGet)
	api.Handle("/vehicles/{regNo}/history", guard(models.ActionLogService, cfg.Vehicles.LogService)).Methods(http.MethodPost)

	return r
}
