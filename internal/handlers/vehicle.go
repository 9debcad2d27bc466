package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/vehicle-care/internal/httputil"
	"github.com/ukydev/vehicle-care/internal/middleware"
	"github.com/ukydev/vehicle-care/internal/models"
	"github.com/ukydev/vehicle-care/internal/schedule"
	"github.com/ukydev/vehicle-care/internal/service"
)

// VehicleService is what the vehicle handler needs from the service layer.
type VehicleService interface {
	RegisterVehicle(ctx context.Context, v models.Vehicle) (*models.Vehicle, error)
	UpdateVehicle(ctx context.Context, regNo string, v models.Vehicle) (*models.Vehicle, error)
	DeleteVehicle(ctx context.Context, regNo string) error
	GetVehicle(ctx context.Context, regNo string) (*models.Vehicle, error)
	ListVehicles(ctx context.Context, ownerID string) ([]models.Vehicle, error)
	DueServices(ctx context.Context, regNo string) (*models.VehicleDue, error)
	FleetOverview(ctx context.Context, ownerID string) ([]models.VehicleDue, error)
	ServiceHistory(ctx context.Context, regNo string) ([]models.ServiceRecord, error)
	LogService(ctx context.Context, regNo string, record models.ServiceRecord) (*models.ServiceRecord, error)
	Planner() *schedule.Planner
}

// VehicleHandler serves vehicles, their due services and service history.
type VehicleHandler struct {
	vehicles VehicleService
	logger   *log.Entry
}

// NewVehicleHandler creates a new vehicle handler
func NewVehicleHandler(vehicles VehicleService) *VehicleHandler {
	return &VehicleHandler{
		vehicles: vehicles,
		logger:   log.WithField("component", "vehicles-api"),
	}
}

// ownerScope returns the owner filter for the caller: owners only ever see
// their own vehicles, other roles see all or filter with ?owner=.
func ownerScope(r *http.Request, claims *models.Claims) string {
	if !claims.Role.HasPermission(models.ActionViewAllOwners) {
		return claims.UserID
	}
	return r.URL.Query().Get("owner")
}

// authorize loads the vehicle named in the route and checks the caller may
// see it. Vehicles of other owners are reported as not found.
func (h *VehicleHandler) authorize(w http.ResponseWriter, r *http.Request) (*models.Vehicle, bool) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "User context not found")
		return nil, false
	}

	v, err := h.vehicles.GetVehicle(r.Context(), mux.Vars(r)["regNo"])
	if err != nil {
		h.writeServiceError(w, err)
		return nil, false
	}
	if !claims.Role.HasPermission(models.ActionViewAllOwners) && v.OwnerID != claims.UserID {
		httputil.WriteError(w, http.StatusNotFound, service.ErrVehicleNotFound.Error())
		return nil, false
	}
	return v, true
}

// ListVehicles handles GET /api/vehicles
func (h *VehicleHandler) ListVehicles(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "User context not found")
		return
	}

	vehicles, err := h.vehicles.ListVehicles(r.Context(), ownerScope(r, claims))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, vehicles)
}

// CreateVehicle handles POST /api/vehicles. Owners always register vehicles
// to themselves; staff may name an owner in the body.
func (h *VehicleHandler) CreateVehicle(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "User context not found")
		return
	}

	var v models.Vehicle
	if !decodeJSON(w, r, &v) {
		return
	}
	if !claims.Role.HasPermission(models.ActionViewAllOwners) || v.OwnerID == "" {
		v.OwnerID = claims.UserID
	}

	created, err := h.vehicles.RegisterVehicle(r.Context(), v)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

// GetVehicle handles GET /api/vehicles/{regNo}
func (h *VehicleHandler) GetVehicle(w http.ResponseWriter, r *http.Request) {
	v, ok := h.authorize(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

// UpdateVehicle handles PUT /api/vehicles/{regNo}
func (h *VehicleHandler) UpdateVehicle(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var v models.Vehicle
	if !decodeJSON(w, r, &v) {
		return
	}

	updated, err := h.vehicles.UpdateVehicle(r.Context(), existing.RegNo, v)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

// DeleteVehicle handles DELETE /api/vehicles/{regNo}
func (h *VehicleHandler) DeleteVehicle(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.authorize(w, r)
	if !ok {
		return
	}

	if err := h.vehicles.DeleteVehicle(r.Context(), existing.RegNo); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DueServices handles GET /api/vehicles/{regNo}/due. With ?attention=true
// only Overdue and Due Soon entries are returned.
func (h *VehicleHandler) DueServices(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.authorize(w, r)
	if !ok {
		return
	}

	due, err := h.vehicles.DueServices(r.Context(), existing.RegNo)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if attention, _ := strconv.ParseBool(r.URL.Query().Get("attention")); attention {
		due.Services = schedule.Attention(due.Services)
	}
	httputil.WriteJSON(w, http.StatusOK, due)
}

// ServiceHistory handles GET /api/vehicles/{regNo}/history
func (h *VehicleHandler) ServiceHistory(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.authorize(w, r)
	if !ok {
		return
	}

	records, err := h.vehicles.ServiceHistory(r.Context(), existing.RegNo)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, records)
}

// LogService handles POST /api/vehicles/{regNo}/history
func (h *VehicleHandler) LogService(w http.ResponseWriter, r *http.Request) {
	existing, ok := h.authorize(w, r)
	if !ok {
		return
	}

	var record models.ServiceRecord
	if !decodeJSON(w, r, &record) {
		return
	}

	created, err := h.vehicles.LogService(r.Context(), existing.RegNo, record)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

// Overview handles GET /api/overview
func (h *VehicleHandler) Overview(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, http.StatusUnauthorized, "User context not found")
		return
	}

	overview, err := h.vehicles.FleetOverview(r.Context(), ownerScope(r, claims))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, overview)
}

// CatalogResponse describes the engine configuration.
type CatalogResponse struct {
	Services         []schedule.ServiceDefinition `json:"services"`
	Horizon          int64                        `json:"horizon"`
	DueSoonThreshold int64                        `json:"dueSoonThreshold"`
}

// Catalog handles GET /api/catalog
func (h *VehicleHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	planner := h.vehicles.Planner()
	httputil.WriteJSON(w, http.StatusOK, CatalogResponse{
		Services:         planner.Catalog().Definitions(),
		Horizon:          planner.Policy().Horizon,
		DueSoonThreshold: planner.Policy().DueSoonThreshold,
	})
}

func (h *VehicleHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrValidation), errors.Is(err, service.ErrRegNoImmutable):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrVehicleNotFound):
		httputil.WriteError(w, http.StatusNotFound, service.ErrVehicleNotFound.Error())
	case errors.Is(err, service.ErrDuplicateVehicle):
		httputil.WriteError(w, http.StatusConflict, service.ErrDuplicateVehicle.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httputil.WriteError(w, http.StatusServiceUnavailable, "Request cancelled")
	default:
		h.logger.WithError(err).Error("Vehicle request failed")
		httputil.WriteError(w, http.StatusInternalServerError, "Internal server error")
	}
}
