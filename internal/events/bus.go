// Package events carries "vehicle changed" notifications from the vehicle
// service to whoever needs to recompute derived data.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/vehicle-care/internal/models"
)

// Type names a change.
type Type string

const (
	VehicleCreated Type = "vehicle.created"
	VehicleUpdated Type = "vehicle.updated"
	VehicleDeleted Type = "vehicle.deleted"
)

// Event describes one change to a vehicle record. Vehicle holds the state
// after the change; for deletions it is the last known state.
type Event struct {
	ID      string         `json:"id"`
	Type    Type           `json:"type"`
	RegNo   string         `json:"regNo"`
	Vehicle models.Vehicle `json:"vehicle"`
	At      time.Time      `json:"at"`
}

// NewEvent stamps a fresh event for vehicle.
func NewEvent(t Type, vehicle models.Vehicle) Event {
	return Event{
		ID:      uuid.NewString(),
		Type:    t,
		RegNo:   vehicle.RegNo,
		Vehicle: vehicle,
		At:      time.Now().UTC(),
	}
}

// Handler reacts to an event.
type Handler func(ctx context.Context, e Event) error

// Publisher is the sending half of the bus.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus delivers events synchronously to subscribers in subscription order.
// A failing or panicking subscriber is logged and skipped.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []subscription
	logger *log.Entry
}

// NewBus creates a bus that logs subscriber failures through logger.
func NewBus(logger *log.Entry) *Bus {
	if logger == nil {
		logger = log.WithField("component", "events")
	}
	return &Bus{logger: logger}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, handler: h})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish hands e to every current subscriber.
func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if err := b.deliver(ctx, s.handler, e); err != nil {
			b.logger.WithError(err).WithFields(log.Fields{
				"event_id": e.ID,
				"type":     e.Type,
				"reg_no":   e.RegNo,
			}).Error("Event subscriber failed")
		}
	}
}

func (b *Bus) deliver(ctx context.Context, h Handler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return h(ctx, e)
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
