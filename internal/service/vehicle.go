// Package service implements the vehicle use cases on top of the stores, the
// scheduling engine and the change-event bus.
package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/vehicle-care/internal/db"
	"github.com/ukydev/vehicle-care/internal/events"
	"github.com/ukydev/vehicle-care/internal/models"
	"github.com/ukydev/vehicle-care/internal/schedule"
	"golang.org/x/sync/errgroup"
)

// overviewWorkers bounds concurrent per-vehicle work in FleetOverview.
const overviewWorkers = 8

// regNoPattern is what a registration number may look like: letters and
// digits, single spaces or hyphens between them. It keeps reg nos usable as
// a URL path segment and as an MQTT topic level.
var regNoPattern = regexp.MustCompile(`^[\p{L}\p{N}]+(?:[ -][\p{L}\p{N}]+)*$`)

// VehicleService owns vehicle records and their service history.
type VehicleService struct {
	vehicles db.VehicleCollection
	history  db.ServiceRecordCollection
	planner  *schedule.Planner
	events   events.Publisher
	validate *validator.Validate
	logger   *log.Entry
	now      func() time.Time
}

// NewVehicleService wires the service. publisher may be nil.
func NewVehicleService(vehicles db.VehicleCollection, history db.ServiceRecordCollection, planner *schedule.Planner, publisher events.Publisher, logger *log.Entry) *VehicleService {
	if logger == nil {
		logger = log.WithField("component", "vehicles")
	}
	return &VehicleService{
		vehicles: vehicles,
		history:  history,
		planner:  planner,
		events:   publisher,
		validate: newValidator(),
		logger:   logger,
		now:      time.Now,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	v.RegisterValidation("regno", func(fl validator.FieldLevel) bool {
		return regNoPattern.MatchString(fl.Field().String())
	})
	return v
}

// Planner returns the engine the service computes with.
func (s *VehicleService) Planner() *schedule.Planner {
	return s.planner
}

func (s *VehicleService) publish(ctx context.Context, t events.Type, v models.Vehicle) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, events.NewEvent(t, v))
}

// RegisterVehicle validates and stores a new vehicle.
func (s *VehicleService) RegisterVehicle(ctx context.Context, v models.Vehicle) (*models.Vehicle, error) {
	v.RegNo = strings.TrimSpace(v.RegNo)
	if err := s.validate.Struct(v); err != nil {
		return nil, validationError(err)
	}

	now := s.now().UTC()
	v.CreatedAt = now
	v.UpdatedAt = now
	if err := s.vehicles.InsertVehicle(ctx, v); err != nil {
		if errors.Is(err, db.ErrDuplicate) {
			return nil, fmt.Errorf("%s: %w", v.RegNo, ErrDuplicateVehicle)
		}
		return nil, fmt.Errorf("failed to insert vehicle: %w", err)
	}

	s.logger.WithFields(log.Fields{"reg_no": v.RegNo, "owner_id": v.OwnerID}).Info("Vehicle registered")
	s.publish(ctx, events.VehicleCreated, v)
	return &v, nil
}

// UpdateVehicle replaces the editable fields of a vehicle. The registration
// number, owner and creation time are kept from the stored record.
func (s *VehicleService) UpdateVehicle(ctx context.Context, regNo string, v models.Vehicle) (*models.Vehicle, error) {
	if body := strings.TrimSpace(v.RegNo); body != "" && body != regNo {
		return nil, fmt.Errorf("%s -> %s: %w", regNo, body, ErrRegNoImmutable)
	}
	existing, err := s.GetVehicle(ctx, regNo)
	if err != nil {
		return nil, err
	}

	v.RegNo = existing.RegNo
	v.OwnerID = existing.OwnerID
	v.CreatedAt = existing.CreatedAt
	v.UpdatedAt = s.now().UTC()
	if err := s.validate.Struct(v); err != nil {
		return nil, validationError(err)
	}
	if err := s.vehicles.UpdateVehicle(ctx, regNo, v); err != nil {
		return nil, s.storeError(regNo, err)
	}

	s.publish(ctx, events.VehicleUpdated, v)
	return &v, nil
}

// DeleteVehicle removes a vehicle and its service history.
func (s *VehicleService) DeleteVehicle(ctx context.Context, regNo string) error {
	existing, err := s.GetVehicle(ctx, regNo)
	if err != nil {
		return err
	}
	if err := s.vehicles.DeleteVehicle(ctx, regNo); err != nil {
		return s.storeError(regNo, err)
	}
	if err := s.history.DeleteServiceRecords(ctx, regNo); err != nil {
		s.logger.WithError(err).WithField("reg_no", regNo).Warn("Failed to delete service history")
	}

	s.logger.WithField("reg_no", regNo).Info("Vehicle deleted")
	s.publish(ctx, events.VehicleDeleted, *existing)
	return nil
}

// GetVehicle returns one vehicle.
func (s *VehicleService) GetVehicle(ctx context.Context, regNo string) (*models.Vehicle, error) {
	v, err := s.vehicles.FindVehicleByRegNo(ctx, regNo)
	if err != nil {
		return nil, s.storeError(regNo, err)
	}
	return v, nil
}

// ListVehicles lists one owner's vehicles, or all when ownerID is empty.
func (s *VehicleService) ListVehicles(ctx context.Context, ownerID string) ([]models.Vehicle, error) {
	vehicles, err := s.vehicles.FindVehicles(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list vehicles: %w", err)
	}
	return vehicles, nil
}

// DueServices computes the due services of one vehicle.
func (s *VehicleService) DueServices(ctx context.Context, regNo string) (*models.VehicleDue, error) {
	v, err := s.GetVehicle(ctx, regNo)
	if err != nil {
		return nil, err
	}
	return s.due(*v), nil
}

func (s *VehicleService) due(v models.Vehicle) *models.VehicleDue {
	if v.MileageRegressed() {
		s.logger.WithFields(log.Fields{
			"reg_no":               v.RegNo,
			"mileage":              int64(v.Mileage),
			"last_service_mileage": int64(v.LastServiceMileage),
		}).Warn("Current mileage is below last service mileage")
	}
	return &models.VehicleDue{Vehicle: v, Services: s.planner.Due(v.Snapshot())}
}

// FleetOverview computes due services for every vehicle of ownerID (all
// vehicles when empty). Results follow the store's vehicle order.
func (s *VehicleService) FleetOverview(ctx context.Context, ownerID string) ([]models.VehicleDue, error) {
	vehicles, err := s.ListVehicles(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	overview := make([]models.VehicleDue, len(vehicles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(overviewWorkers)
	for i := range vehicles {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			overview[i] = *s.due(vehicles[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return overview, nil
}

// ServiceHistory returns a vehicle's service log, newest first.
func (s *VehicleService) ServiceHistory(ctx context.Context, regNo string) ([]models.ServiceRecord, error) {
	if _, err := s.GetVehicle(ctx, regNo); err != nil {
		return nil, err
	}
	records, err := s.history.FindServiceRecords(ctx, regNo)
	if err != nil {
		return nil, fmt.Errorf("failed to load service history: %w", err)
	}
	return records, nil
}

// LogService appends a service record. A record at a higher odometer reading
// than the vehicle's last service becomes its new last service. The vehicle
// is moved first; if the record then cannot be stored the vehicle is put back.
func (s *VehicleService) LogService(ctx context.Context, regNo string, record models.ServiceRecord) (*models.ServiceRecord, error) {
	v, err := s.GetVehicle(ctx, regNo)
	if err != nil {
		return nil, err
	}

	record.ID = uuid.NewString()
	record.RegNo = regNo
	record.CreatedAt = s.now().UTC()
	if err := s.validate.Struct(record); err != nil {
		return nil, validationError(err)
	}

	prev := *v
	advanced := record.Mileage > v.LastServiceMileage
	if advanced {
		v.LastServiceMileage = record.Mileage
		v.LastServiceDate = record.Date
		if record.Mileage > v.Mileage {
			v.Mileage = record.Mileage
		}
		v.UpdatedAt = record.CreatedAt
		if err := s.vehicles.UpdateVehicle(ctx, regNo, *v); err != nil {
			return nil, s.storeError(regNo, err)
		}
	}

	if err := s.history.InsertServiceRecord(ctx, record); err != nil {
		if advanced {
			s.restoreVehicle(ctx, prev, record.ID)
		}
		return nil, fmt.Errorf("failed to insert service record: %w", err)
	}
	if advanced {
		s.publish(ctx, events.VehicleUpdated, *v)
	}

	s.logger.WithFields(log.Fields{
		"reg_no":  regNo,
		"service": record.ServiceType,
		"mileage": int64(record.Mileage),
	}).Info("Service logged")
	return &record, nil
}

// restoreVehicle undoes the last-service update of a LogService whose record
// was not stored. It runs even when ctx is already cancelled.
func (s *VehicleService) restoreVehicle(ctx context.Context, prev models.Vehicle, recordID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.vehicles.UpdateVehicle(ctx, prev.RegNo, prev); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"reg_no":    prev.RegNo,
			"record_id": recordID,
		}).Error("Failed to restore vehicle; last service no longer matches history")
		return
	}
	s.logger.WithFields(log.Fields{
		"reg_no":    prev.RegNo,
		"record_id": recordID,
	}).Warn("Service record not stored; vehicle restored")
}

func (s *VehicleService) storeError(regNo string, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%s: %w", regNo, ErrVehicleNotFound)
	}
	return fmt.Errorf("vehicle %s: %w", regNo, err)
}
