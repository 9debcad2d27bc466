package db

import (
	"context"
	"errors"

	"github.com/ukydev/vehicle-care/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// VehicleCollection defines the interface for vehicle data operations.
// Vehicles are keyed by registration number.
type VehicleCollection interface {
	InsertVehicle(ctx context.Context, vehicle models.Vehicle) error
	// FindVehicles lists vehicles ordered by registration number; an empty
	// ownerID lists every owner's vehicles.
	FindVehicles(ctx context.Context, ownerID string) ([]models.Vehicle, error)
	FindVehicleByRegNo(ctx context.Context, regNo string) (*models.Vehicle, error)
	UpdateVehicle(ctx context.Context, regNo string, vehicle models.Vehicle) error
	DeleteVehicle(ctx context.Context, regNo string) error
}

// ServiceRecordCollection defines the interface for service history operations.
type ServiceRecordCollection interface {
	InsertServiceRecord(ctx context.Context, record models.ServiceRecord) error
	// FindServiceRecords returns a vehicle's history, newest first.
	FindServiceRecords(ctx context.Context, regNo string) ([]models.ServiceRecord, error)
	DeleteServiceRecords(ctx context.Context, regNo string) error
}

// UserCollection defines the interface for user database operations
type UserCollection interface {
	InsertUser(ctx context.Context, user models.User) error
	FindUserByID(ctx context.Context, id string) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
	FindUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUser(ctx context.Context, id string, user models.User) error
	DeleteUser(ctx context.Context, id string) error
	UpdateLastLogin(ctx context.Context, id string) error
}
