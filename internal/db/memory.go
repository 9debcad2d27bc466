package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ukydev/vehicle-care/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Ensure the in-memory stores satisfy the collection interfaces.
var (
	_ VehicleCollection       = (*MemoryVehicleCollection)(nil)
	_ ServiceRecordCollection = (*MemoryServiceRecordCollection)(nil)
	_ UserCollection          = (*MemoryUserCollection)(nil)
)

// MemoryVehicleCollection keeps vehicles in a map. Values are copied in and
// out so callers never share state with the store.
type MemoryVehicleCollection struct {
	mu       sync.RWMutex
	vehicles map[string]models.Vehicle
}

// NewMemoryVehicleCollection creates an empty in-memory vehicle store.
func NewMemoryVehicleCollection() *MemoryVehicleCollection {
	return &MemoryVehicleCollection{vehicles: make(map[string]models.Vehicle)}
}

func (c *MemoryVehicleCollection) InsertVehicle(_ context.Context, vehicle models.Vehicle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.vehicles[vehicle.RegNo]; exists {
		return fmt.Errorf("vehicle %s: %w", vehicle.RegNo, ErrDuplicate)
	}
	c.vehicles[vehicle.RegNo] = vehicle
	return nil
}

func (c *MemoryVehicleCollection) FindVehicles(_ context.Context, ownerID string) ([]models.Vehicle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	vehicles := make([]models.Vehicle, 0, len(c.vehicles))
	for _, v := range c.vehicles {
		if ownerID == "" || v.OwnerID == ownerID {
			vehicles = append(vehicles, v)
		}
	}
	sort.Slice(vehicles, func(i, j int) bool {
		return vehicles[i].RegNo < vehicles[j].RegNo
	})
	return vehicles, nil
}

func (c *MemoryVehicleCollection) FindVehicleByRegNo(_ context.Context, regNo string) (*models.Vehicle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.vehicles[regNo]
	if !ok {
		return nil, fmt.Errorf("vehicle %s: %w", regNo, ErrNotFound)
	}
	return &v, nil
}

func (c *MemoryVehicleCollection) UpdateVehicle(_ context.Context, regNo string, vehicle models.Vehicle) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.vehicles[regNo]; !ok {
		return fmt.Errorf("vehicle %s: %w", regNo, ErrNotFound)
	}
	vehicle.RegNo = regNo
	c.vehicles[regNo] = vehicle
	return nil
}

func (c *MemoryVehicleCollection) DeleteVehicle(_ context.Context, regNo string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.vehicles[regNo]; !ok {
		return fmt.Errorf("vehicle %s: %w", regNo, ErrNotFound)
	}
	delete(c.vehicles, regNo)
	return nil
}

// MemoryServiceRecordCollection keeps service history per vehicle.
type MemoryServiceRecordCollection struct {
	mu      sync.RWMutex
	records map[string][]models.ServiceRecord
}

// NewMemoryServiceRecordCollection creates an empty in-memory history store.
func NewMemoryServiceRecordCollection() *MemoryServiceRecordCollection {
	return &MemoryServiceRecordCollection{records: make(map[string][]models.ServiceRecord)}
}

func (c *MemoryServiceRecordCollection) InsertServiceRecord(_ context.Context, record models.ServiceRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range c.records[record.RegNo] {
		if r.ID == record.ID {
			return fmt.Errorf("service record %s: %w", record.ID, ErrDuplicate)
		}
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	c.records[record.RegNo] = append(c.records[record.RegNo], record)
	return nil
}

func (c *MemoryServiceRecordCollection) FindServiceRecords(_ context.Context, regNo string) ([]models.ServiceRecord, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := make([]models.ServiceRecord, len(c.records[regNo]))
	copy(records, c.records[regNo])
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Date != records[j].Date {
			return records[i].Date > records[j].Date
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func (c *MemoryServiceRecordCollection) DeleteServiceRecords(_ context.Context, regNo string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.records, regNo)
	return nil
}

// MemoryUserCollection keeps user accounts in a map keyed by hex ID.
type MemoryUserCollection struct {
	mu    sync.RWMutex
	users map[string]models.User
}

// NewMemoryUserCollection creates an empty in-memory user store.
func NewMemoryUserCollection() *MemoryUserCollection {
	return &MemoryUserCollection{users: make(map[string]models.User)}
}

func (c *MemoryUserCollection) InsertUser(_ context.Context, user models.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, u := range c.users {
		if u.Username == user.Username || u.Email == user.Email {
			return fmt.Errorf("user %s: %w", user.Username, ErrDuplicate)
		}
	}
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt
	user.IsActive = true
	c.users[user.ID.Hex()] = user
	return nil
}

func (c *MemoryUserCollection) FindUserByID(_ context.Context, id string) (*models.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	u, ok := c.users[id]
	if !ok {
		return nil, fmt.Errorf("user: %w", ErrNotFound)
	}
	return &u, nil
}

func (c *MemoryUserCollection) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	return c.find(func(u models.User) bool { return u.Username == username })
}

func (c *MemoryUserCollection) FindUserByEmail(_ context.Context, email string) (*models.User, error) {
	return c.find(func(u models.User) bool { return u.Email == email })
}

func (c *MemoryUserCollection) find(match func(models.User) bool) (*models.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, u := range c.users {
		if match(u) {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user: %w", ErrNotFound)
}

func (c *MemoryUserCollection) UpdateUser(_ context.Context, id string, user models.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.users[id]; !ok {
		return fmt.Errorf("user: %w", ErrNotFound)
	}
	for otherID, u := range c.users {
		if otherID != id && (u.Username == user.Username || u.Email == user.Email) {
			return fmt.Errorf("user %s: %w", user.Username, ErrDuplicate)
		}
	}
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("invalid user ID: %w", err)
	}
	user.ID = objectID
	user.UpdatedAt = time.Now()
	c.users[id] = user
	return nil
}

func (c *MemoryUserCollection) DeleteUser(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.users[id]; !ok {
		return fmt.Errorf("user: %w", ErrNotFound)
	}
	delete(c.users, id)
	return nil
}

func (c *MemoryUserCollection) UpdateLastLogin(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	u, ok := c.users[id]
	if !ok {
		return fmt.Errorf("user: %w", ErrNotFound)
	}
	now := time.Now()
	u.LastLogin = &now
	u.UpdatedAt = now
	c.users[id] = u
	return nil
}
