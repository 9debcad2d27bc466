package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/vehicle-care/internal/auth"
	"github.com/ukydev/vehicle-care/internal/db"
	"github.com/ukydev/vehicle-care/internal/middleware"
	"github.com/ukydev/vehicle-care/internal/models"
	"github.com/ukydev/vehicle-care/internal/schedule"
	"github.com/ukydev/vehicle-care/internal/service"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type apiFixture struct {
	t      *testing.T
	router *mux.Router
	auth   *auth.Service
	users  *db.MemoryUserCollection
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	planner, err := schedule.NewPlanner(schedule.DefaultCatalog(), schedule.DefaultPolicy())
	require.NoError(t, err)

	logger := log.New()
	logger.SetOutput(io.Discard)
	entry := log.NewEntry(logger)

	authService := auth.NewService("api-test-secret", time.Hour)
	users := db.NewMemoryUserCollection()
	vehicles := service.NewVehicleService(
		db.NewMemoryVehicleCollection(),
		db.NewMemoryServiceRecordCollection(),
		planner, nil, entry,
	)

	router := NewRouter(RouterConfig{
		Auth:     NewAuthHandler(authService, users),
		Vehicles: NewVehicleHandler(vehicles),
		Health:   Health("memory", nil),
		AuthMW:   middleware.NewAuthMiddleware(authService),
		Logger:   entry,
	})
	return &apiFixture{t: t, router: router, auth: authService, users: users}
}

// login creates a user with role and returns a bearer token for it.
func (f *apiFixture) login(username string, role models.Role) (token string, userID string) {
	f.t.Helper()
	user := models.User{
		ID:       primitive.NewObjectID(),
		Username: username,
		Email:    username + "@example.com",
		Role:     role,
		IsActive: true,
	}
	require.NoError(f.t, f.users.InsertUser(context.Background(), user))
	token, err := f.auth.GenerateToken(&user)
	require.NoError(f.t, err)
	return token, user.ID.Hex()
}

func (f *apiFixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	f.t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

const civic = `{"regNo":"AB12CDE","make":"Honda","model":"Civic","year":2019,"fuelType":"petrol","mileage":"16500","lastServiceMileage":5000}`

func TestVehicleAPI_DueServices(t *testing.T) {
	f := newAPIFixture(t)
	owner, ownerID := f.login("alice", models.RoleOwner)

	w := f.do(http.MethodPost, "/api/vehicles", owner, civic)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var created models.Vehicle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, ownerID, created.OwnerID)
	assert.Equal(t, models.Odometer(16500), created.Mileage)

	w = f.do(http.MethodGet, "/api/vehicles/AB12CDE/due", owner, "")
	require.Equal(t, http.StatusOK, w.Code)

	var due models.VehicleDue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &due))
	require.Len(t, due.Services, 3)
	assert.Equal(t, "Oil Change", due.Services[0].Name)
	assert.Equal(t, int64(-6500), due.Services[0].DueIn)
	assert.Equal(t, schedule.StatusOverdue, due.Services[0].Status)
	assert.Equal(t, "Tire Rotation", due.Services[1].Name)
	assert.Equal(t, int64(-1500), due.Services[1].DueIn)
	assert.Equal(t, "Brake Inspection", due.Services[2].Name)
	assert.Equal(t, int64(3500), due.Services[2].DueIn)
	assert.Equal(t, schedule.StatusUpcoming, due.Services[2].Status)

	w = f.do(http.MethodGet, "/api/vehicles/AB12CDE/due?attention=true", owner, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &due))
	require.Len(t, due.Services, 2)
	for _, s := range due.Services {
		assert.NotEqual(t, schedule.StatusUpcoming, s.Status)
	}
}

func TestVehicleAPI_Ownership(t *testing.T) {
	f := newAPIFixture(t)
	alice, _ := f.login("alice", models.RoleOwner)
	bob, bobID := f.login("bob", models.RoleOwner)
	mechanic, _ := f.login("mike", models.RoleMechanic)

	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/vehicles", alice, civic).Code)

	t.Run("other owner sees not found", func(t *testing.T) {
		for _, path := range []string{"/api/vehicles/AB12CDE", "/api/vehicles/AB12CDE/due", "/api/vehicles/AB12CDE/history"} {
			w := f.do(http.MethodGet, path, bob, "")
			assert.Equal(t, http.StatusNotFound, w.Code, path)
		}
		w := f.do(http.MethodDelete, "/api/vehicles/AB12CDE", bob, "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("owner list is scoped", func(t *testing.T) {
		w := f.do(http.MethodGet, "/api/vehicles", bob, "")
		require.Equal(t, http.StatusOK, w.Code)
		var list []models.Vehicle
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		assert.Empty(t, list)
	})

	t.Run("owner cannot register for someone else", func(t *testing.T) {
		body := `{"regNo":"XY99ZZZ","ownerId":"someone","make":"VW","model":"Golf","year":2020,"fuelType":"diesel"}`
		w := f.do(http.MethodPost, "/api/vehicles", bob, body)
		require.Equal(t, http.StatusCreated, w.Code)
		var v models.Vehicle
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
		assert.Equal(t, bobID, v.OwnerID)
	})

	t.Run("mechanic sees every vehicle", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/vehicles/AB12CDE", mechanic, "").Code)

		w := f.do(http.MethodGet, "/api/vehicles", mechanic, "")
		require.Equal(t, http.StatusOK, w.Code)
		var list []models.Vehicle
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		assert.Len(t, list, 2)

		w = f.do(http.MethodGet, "/api/vehicles?owner="+bobID, mechanic, "")
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
		assert.Len(t, list, 1)
	})
}

func TestVehicleAPI_Errors(t *testing.T) {
	f := newAPIFixture(t)
	owner, _ := f.login("alice", models.RoleOwner)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/vehicles", owner, civic).Code)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"duplicate registration", http.MethodPost, "/api/vehicles", owner, civic, http.StatusConflict},
		{"missing make", http.MethodPost, "/api/vehicles", owner, `{"regNo":"NEW1","model":"X","year":2020,"fuelType":"petrol"}`, http.StatusBadRequest},
		{"bad fuel type", http.MethodPost, "/api/vehicles", owner, `{"regNo":"NEW1","make":"A","model":"X","year":2020,"fuelType":"steam"}`, http.StatusBadRequest},
		{"slash in reg no", http.MethodPost, "/api/vehicles", owner, `{"regNo":"AB/12","make":"A","model":"X","year":2020,"fuelType":"petrol"}`, http.StatusBadRequest},
		{"plus in reg no", http.MethodPost, "/api/vehicles", owner, `{"regNo":"AB+1","make":"A","model":"X","year":2020,"fuelType":"petrol"}`, http.StatusBadRequest},
		{"malformed json", http.MethodPost, "/api/vehicles", owner, `{`, http.StatusBadRequest},
		{"reg no is immutable", http.MethodPut, "/api/vehicles/AB12CDE", owner, `{"regNo":"OTHER1","make":"Honda","model":"Civic","year":2019,"fuelType":"petrol"}`, http.StatusBadRequest},
		{"unknown vehicle", http.MethodGet, "/api/vehicles/NOPE", owner, "", http.StatusNotFound},
		{"owner cannot log service", http.MethodPost, "/api/vehicles/AB12CDE/history", owner, `{"date":"2026-05-01","serviceType":"Oil Change","mileage":16000}`, http.StatusForbidden},
		{"no token", http.MethodGet, "/api/vehicles", "", "", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/api/vehicles", "garbage", "", http.StatusUnauthorized},
		{"wrong method", http.MethodPatch, "/api/vehicles/AB12CDE", owner, "", http.StatusMethodNotAllowed},
		{"unknown route", http.MethodGet, "/api/nothing", owner, "", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(tt.method, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestVehicleAPI_UpdateAndDelete(t *testing.T) {
	f := newAPIFixture(t)
	owner, ownerID := f.login("alice", models.RoleOwner)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/vehicles", owner, civic).Code)

	w := f.do(http.MethodPut, "/api/vehicles/AB12CDE", owner,
		`{"make":"Honda","model":"Civic Type R","year":2019,"fuelType":"petrol","mileage":21000,"lastServiceMileage":20000}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var updated models.Vehicle
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.Equal(t, "AB12CDE", updated.RegNo)
	assert.Equal(t, ownerID, updated.OwnerID)
	assert.Equal(t, "Civic Type R", updated.Model)
	assert.Equal(t, models.Odometer(21000), updated.Mileage)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/vehicles/AB12CDE", owner, "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/vehicles/AB12CDE", owner, "").Code)
}

func TestVehicleAPI_ServiceHistory(t *testing.T) {
	f := newAPIFixture(t)
	owner, _ := f.login("alice", models.RoleOwner)
	mechanic, _ := f.login("mike", models.RoleMechanic)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/vehicles", owner, civic).Code)

	w := f.do(http.MethodPost, "/api/vehicles/AB12CDE/history", mechanic,
		`{"date":"2026-05-01","serviceType":"Oil Change","description":"5W-30","cost":89.5,"mileage":"16000","workshop":"Main St Garage"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var record models.ServiceRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.NotEmpty(t, record.ID)
	assert.Equal(t, "AB12CDE", record.RegNo)

	w = f.do(http.MethodPost, "/api/vehicles/AB12CDE/history", mechanic, `{"date":"yesterday","serviceType":"Oil Change"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodGet, "/api/vehicles/AB12CDE/history", owner, "")
	require.Equal(t, http.StatusOK, w.Code)
	var history []models.ServiceRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history, 1)
	assert.Equal(t, "Main St Garage", history[0].Workshop)

	// The logged service moves the last service reading forward.
	w = f.do(http.MethodGet, "/api/vehicles/AB12CDE/due", owner, "")
	require.Equal(t, http.StatusOK, w.Code)
	var due models.VehicleDue
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &due))
	assert.Equal(t, models.Odometer(16000), due.Vehicle.LastServiceMileage)
	assert.Equal(t, "2026-05-01", due.Vehicle.LastServiceDate)
	require.Len(t, due.Services, 2)
	assert.Equal(t, "Oil Change", due.Services[0].Name)
	assert.Equal(t, int64(3500), due.Services[0].DueIn)
	assert.Equal(t, "Brake Inspection", due.Services[1].Name)
}

func TestVehicleAPI_Overview(t *testing.T) {
	f := newAPIFixture(t)
	alice, _ := f.login("alice", models.RoleOwner)
	bob, _ := f.login("bob", models.RoleOwner)
	admin, _ := f.login("root", models.RoleAdmin)

	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/vehicles", alice, civic).Code)
	require.Equal(t, http.StatusCreated, f.do(http.MethodPost, "/api/vehicles", bob,
		`{"regNo":"EV0001","make":"Tesla","model":"3","year":2022,"fuelType":"electric"}`).Code)

	var overview []models.VehicleDue
	w := f.do(http.MethodGet, "/api/overview", alice, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &overview))
	require.Len(t, overview, 1)
	assert.Equal(t, "AB12CDE", overview[0].Vehicle.RegNo)
	assert.Len(t, overview[0].Services, 3)

	w = f.do(http.MethodGet, "/api/overview", admin, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &overview))
	require.Len(t, overview, 2)
	for _, o := range overview {
		if o.Vehicle.RegNo == "EV0001" {
			assert.Empty(t, o.Services, "no odometer reading, nothing due")
		}
	}
}

func TestVehicleAPI_Catalog(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(http.MethodGet, "/api/catalog", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var catalog CatalogResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &catalog))
	require.Len(t, catalog.Services, 6)
	assert.Equal(t, "Oil Change", catalog.Services[0].Name)
	assert.Equal(t, int64(80000), catalog.Services[5].Interval)
	assert.Equal(t, schedule.DefaultHorizon, catalog.Horizon)
	assert.Equal(t, schedule.DefaultDueSoonThreshold, catalog.DueSoonThreshold)
}

func TestHealth(t *testing.T) {
	t.Run("ok through router", func(t *testing.T) {
		f := newAPIFixture(t)
		w := f.do(http.MethodGet, "/health", "", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok","store":"memory"}`, w.Body.String())
	})

	t.Run("degraded", func(t *testing.T) {
		h := Health("mongo", func(context.Context) error { return errors.New("no reachable servers") })
		w := httptest.NewRecorder()
		h(w, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.JSONEq(t, `{"status":"degraded","store":"mongo","error":"no reachable servers"}`, w.Body.String())
	})
}
