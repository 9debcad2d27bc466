package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/vehicle-care/internal/db"
	"github.com/ukydev/vehicle-care/internal/events"
	"github.com/ukydev/vehicle-care/internal/models"
	"github.com/ukydev/vehicle-care/internal/schedule"
)

type recordingPublisher struct {
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) {
	p.events = append(p.events, e)
}

func (p *recordingPublisher) types() []events.Type {
	out := make([]events.Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

type fixture struct {
	svc       *VehicleService
	vehicles  *db.MemoryVehicleCollection
	history   *db.MemoryServiceRecordCollection
	published *recordingPublisher
	logs      *test.Hook
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	planner, err := schedule.NewPlanner(schedule.DefaultCatalog(), schedule.DefaultPolicy())
	require.NoError(t, err)

	logger, hook := test.NewNullLogger()
	f := &fixture{
		vehicles:  db.NewMemoryVehicleCollection(),
		history:   db.NewMemoryServiceRecordCollection(),
		published: &recordingPublisher{},
		logs:      hook,
	}
	f.svc = NewVehicleService(f.vehicles, f.history, planner, f.published, log.NewEntry(logger))
	f.svc.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func corolla() models.Vehicle {
	return models.Vehicle{
		RegNo:              "KA-01-1234",
		OwnerID:            "owner-1",
		Make:               "Toyota",
		Model:              "Corolla",
		Year:               2019,
		FuelType:           models.FuelPetrol,
		Color:              "#3366ff",
		Mileage:            15000,
		LastServiceMileage: 10000,
		LastServiceDate:    "2023-05-15",
	}
}

func TestRegisterVehicle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v := corolla()
	v.RegNo = "  KA-01-1234 "
	created, err := f.svc.RegisterVehicle(ctx, v)
	require.NoError(t, err)
	assert.Equal(t, "KA-01-1234", created.RegNo)
	assert.Equal(t, f.svc.now(), created.CreatedAt)

	stored, err := f.vehicles.FindVehicleByRegNo(ctx, "KA-01-1234")
	require.NoError(t, err)
	assert.Equal(t, "Corolla", stored.Model)
	assert.Equal(t, []events.Type{events.VehicleCreated}, f.published.types())

	_, err = f.svc.RegisterVehicle(ctx, corolla())
	assert.ErrorIs(t, err, ErrDuplicateVehicle)
	assert.Len(t, f.published.events, 1)
}

func TestRegisterVehicle_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*models.Vehicle)
		message string
	}{
		{"missing reg no", func(v *models.Vehicle) { v.RegNo = " " }, "regNo is required"},
		{"slash in reg no", func(v *models.Vehicle) { v.RegNo = "AB/12" }, "regNo may only contain letters and digits"},
		{"plus in reg no", func(v *models.Vehicle) { v.RegNo = "AB+1" }, "regNo may only contain letters and digits"},
		{"hash in reg no", func(v *models.Vehicle) { v.RegNo = "AB#1" }, "regNo may only contain"},
		{"doubled hyphen", func(v *models.Vehicle) { v.RegNo = "AB--12" }, "regNo may only contain"},
		{"missing make", func(v *models.Vehicle) { v.Make = "" }, "make is required"},
		{"bad fuel", func(v *models.Vehicle) { v.FuelType = "steam" }, "fuelType must be one of"},
		{"bad color", func(v *models.Vehicle) { v.Color = "blue" }, "color must be a hex color"},
		{"bad date", func(v *models.Vehicle) { v.LastServiceDate = "15/05/2023" }, "lastServiceDate must be a date"},
		{"ancient year", func(v *models.Vehicle) { v.Year = 1850 }, "year failed min=1900"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			v := corolla()
			tt.mutate(&v)

			_, err := f.svc.RegisterVehicle(context.Background(), v)
			require.ErrorIs(t, err, ErrValidation)
			assert.Contains(t, err.Error(), tt.message)
			assert.Empty(t, f.published.events)
		})
	}
}

func TestRegisterVehicle_RegNoFormats(t *testing.T) {
	for _, regNo := range []string{"AB12CDE", "KA-01-1234", "AB 12 CDE", "ÅÄ-123"} {
		t.Run(regNo, func(t *testing.T) {
			f := newFixture(t)
			v := corolla()
			v.RegNo = regNo

			created, err := f.svc.RegisterVehicle(context.Background(), v)
			require.NoError(t, err)
			assert.Equal(t, regNo, created.RegNo)
		})
	}
}

func TestUpdateVehicle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RegisterVehicle(ctx, corolla())
	require.NoError(t, err)

	update := corolla()
	update.RegNo = ""
	update.OwnerID = "someone-else"
	update.Mileage = 19500
	updated, err := f.svc.UpdateVehicle(ctx, "KA-01-1234", update)
	require.NoError(t, err)
	assert.Equal(t, "KA-01-1234", updated.RegNo)
	assert.Equal(t, "owner-1", updated.OwnerID)
	assert.Equal(t, models.Odometer(19500), updated.Mileage)
	assert.Equal(t, []events.Type{events.VehicleCreated, events.VehicleUpdated}, f.published.types())
	assert.Equal(t, models.Odometer(19500), f.published.events[1].Vehicle.Mileage)

	update.RegNo = "XX-99-0000"
	_, err = f.svc.UpdateVehicle(ctx, "KA-01-1234", update)
	assert.ErrorIs(t, err, ErrRegNoImmutable)

	update.RegNo = "KA-01-1234"
	_, err = f.svc.UpdateVehicle(ctx, "NOPE", update)
	assert.ErrorIs(t, err, ErrRegNoImmutable)

	update.RegNo = ""
	_, err = f.svc.UpdateVehicle(ctx, "NOPE", update)
	assert.ErrorIs(t, err, ErrVehicleNotFound)
}

func TestDeleteVehicle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RegisterVehicle(ctx, corolla())
	require.NoError(t, err)
	_, err = f.svc.LogService(ctx, "KA-01-1234", models.ServiceRecord{Date: "2023-05-15", ServiceType: "Oil Change", Mileage: 9000})
	require.NoError(t, err)

	require.NoError(t, f.svc.DeleteVehicle(ctx, "KA-01-1234"))
	_, err = f.svc.GetVehicle(ctx, "KA-01-1234")
	assert.ErrorIs(t, err, ErrVehicleNotFound)
	records, _ := f.history.FindServiceRecords(ctx, "KA-01-1234")
	assert.Empty(t, records)
	assert.Equal(t, events.VehicleDeleted, f.published.events[len(f.published.events)-1].Type)

	assert.ErrorIs(t, f.svc.DeleteVehicle(ctx, "KA-01-1234"), ErrVehicleNotFound)
}

func TestListVehicles_ByOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i, owner := range []string{"owner-1", "owner-2", "owner-1"} {
		v := corolla()
		v.RegNo = fmt.Sprintf("KA-0%d", i)
		v.OwnerID = owner
		_, err := f.svc.RegisterVehicle(ctx, v)
		require.NoError(t, err)
	}

	mine, err := f.svc.ListVehicles(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	all, err := f.svc.ListVehicles(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDueServices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RegisterVehicle(ctx, corolla())
	require.NoError(t, err)

	due, err := f.svc.DueServices(ctx, "KA-01-1234")
	require.NoError(t, err)
	assert.Equal(t, "KA-01-1234", due.Vehicle.RegNo)
	// mileage 15000, last service 10000
	require.Len(t, due.Services, 3)
	assert.Equal(t, "Tire Rotation", due.Services[0].Name)
	assert.Equal(t, schedule.StatusOverdue, due.Services[0].Status)
	assert.Equal(t, "Oil Change", due.Services[1].Name)
	assert.Equal(t, int64(5000), due.Services[1].DueIn)
	assert.Equal(t, "Brake Inspection", due.Services[2].Name)

	_, err = f.svc.DueServices(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrVehicleNotFound)
}

func TestDueServices_MileageRegressionIsWarnedNotCorrected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := corolla()
	v.Mileage = 8000
	v.LastServiceMileage = 12000
	_, err := f.svc.RegisterVehicle(ctx, v)
	require.NoError(t, err)

	due, err := f.svc.DueServices(ctx, v.RegNo)
	require.NoError(t, err)

	want := schedule.ComputeDueServices(v.Snapshot(), schedule.DefaultCatalog(), schedule.DefaultHorizon, schedule.DefaultDueSoonThreshold)
	assert.Equal(t, want, due.Services)

	var warned bool
	for _, e := range f.logs.AllEntries() {
		if e.Level == log.WarnLevel && e.Data["reg_no"] == v.RegNo {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestDueServices_NoMileage(t *testing.T) {
	f := newFixture(t)
	v := corolla()
	v.Mileage = 0
	_, err := f.svc.RegisterVehicle(context.Background(), v)
	require.NoError(t, err)

	due, err := f.svc.DueServices(context.Background(), v.RegNo)
	require.NoError(t, err)
	assert.NotNil(t, due.Services)
	assert.Empty(t, due.Services)
}

func TestFleetOverview_KeepsVehicleOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		v := corolla()
		v.RegNo = fmt.Sprintf("REG-%02d", i)
		v.Mileage = models.Odometer(1000 * (i + 1))
		v.LastServiceMileage = 0
		_, err := f.svc.RegisterVehicle(ctx, v)
		require.NoError(t, err)
	}

	overview, err := f.svc.FleetOverview(ctx, "")
	require.NoError(t, err)
	require.Len(t, overview, 20)
	for i, entry := range overview {
		assert.Equal(t, fmt.Sprintf("REG-%02d", i), entry.Vehicle.RegNo)
		assert.Equal(t, f.svc.Planner().Due(entry.Vehicle.Snapshot()), entry.Services)
	}
}

func TestFleetOverview_CancelledContext(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RegisterVehicle(context.Background(), corolla())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.svc.FleetOverview(ctx, "")
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLogService(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RegisterVehicle(ctx, corolla())
	require.NoError(t, err)

	// older service does not move the last service reading
	rec, err := f.svc.LogService(ctx, "KA-01-1234", models.ServiceRecord{Date: "2023-01-10", ServiceType: "Tire Rotation", Mileage: 8000})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "KA-01-1234", rec.RegNo)
	v, _ := f.svc.GetVehicle(ctx, "KA-01-1234")
	assert.Equal(t, models.Odometer(10000), v.LastServiceMileage)
	assert.Len(t, f.published.events, 1)

	_, err = f.svc.LogService(ctx, "KA-01-1234", models.ServiceRecord{Date: "2024-02-20", ServiceType: "Oil Change", Mileage: 15200, Cost: 89.99, Workshop: "City Garage"})
	require.NoError(t, err)
	v, _ = f.svc.GetVehicle(ctx, "KA-01-1234")
	assert.Equal(t, models.Odometer(15200), v.LastServiceMileage)
	assert.Equal(t, models.Odometer(15200), v.Mileage)
	assert.Equal(t, "2024-02-20", v.LastServiceDate)
	assert.Equal(t, events.VehicleUpdated, f.published.events[1].Type)

	history, err := f.svc.ServiceHistory(ctx, "KA-01-1234")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "Oil Change", history[0].ServiceType)
}

func TestLogService_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.LogService(ctx, "NOPE", models.ServiceRecord{Date: "2024-01-01", ServiceType: "Oil Change"})
	assert.ErrorIs(t, err, ErrVehicleNotFound)

	_, err = f.svc.RegisterVehicle(ctx, corolla())
	require.NoError(t, err)
	_, err = f.svc.LogService(ctx, "KA-01-1234", models.ServiceRecord{Date: "yesterday", ServiceType: "Oil Change"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.LogService(ctx, "KA-01-1234", models.ServiceRecord{Date: "2024-01-01"})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.ServiceHistory(ctx, "NOPE")
	assert.ErrorIs(t, err, ErrVehicleNotFound)
}

type failingHistory struct {
	*db.MemoryServiceRecordCollection
}

func (failingHistory) InsertServiceRecord(context.Context, models.ServiceRecord) error {
	return errors.New("disk full")
}

type failingVehicleUpdates struct {
	*db.MemoryVehicleCollection
}

func (failingVehicleUpdates) UpdateVehicle(context.Context, string, models.Vehicle) error {
	return errors.New("connection reset")
}

func TestLogService_HistoryFailureRestoresVehicle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RegisterVehicle(ctx, corolla())
	require.NoError(t, err)
	f.svc.history = failingHistory{f.history}

	_, err = f.svc.LogService(ctx, "KA-01-1234", models.ServiceRecord{Date: "2024-02-20", ServiceType: "Oil Change", Mileage: 15200})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	v, err := f.svc.GetVehicle(ctx, "KA-01-1234")
	require.NoError(t, err)
	assert.Equal(t, models.Odometer(10000), v.LastServiceMileage)
	assert.Equal(t, models.Odometer(15000), v.Mileage)
	assert.Equal(t, "2023-05-15", v.LastServiceDate)
	assert.Equal(t, []events.Type{events.VehicleCreated}, f.published.types())

	require.NotNil(t, f.logs.LastEntry())
	assert.Equal(t, log.WarnLevel, f.logs.LastEntry().Level)
	assert.Equal(t, "KA-01-1234", f.logs.LastEntry().Data["reg_no"])
}

func TestLogService_VehicleUpdateFailureStoresNoRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.RegisterVehicle(ctx, corolla())
	require.NoError(t, err)
	f.svc.vehicles = failingVehicleUpdates{f.vehicles}

	_, err = f.svc.LogService(ctx, "KA-01-1234", models.ServiceRecord{Date: "2024-02-20", ServiceType: "Oil Change", Mileage: 15200})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")

	history, err := f.svc.ServiceHistory(ctx, "KA-01-1234")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Len(t, f.published.events, 1)

	// an older record does not touch the vehicle, so it is still stored
	rec, err := f.svc.LogService(ctx, "KA-01-1234", models.ServiceRecord{Date: "2023-01-10", ServiceType: "Tire Rotation", Mileage: 8000})
	require.NoError(t, err)
	history, err = f.svc.ServiceHistory(ctx, "KA-01-1234")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, rec.ID, history[0].ID)
}

func TestNilPublisher(t *testing.T) {
	planner, err := schedule.NewPlanner(schedule.DefaultCatalog(), schedule.DefaultPolicy())
	require.NoError(t, err)
	svc := NewVehicleService(db.NewMemoryVehicleCollection(), db.NewMemoryServiceRecordCollection(), planner, nil, nil)

	_, err = svc.RegisterVehicle(context.Background(), corolla())
	assert.NoError(t, err)
}
