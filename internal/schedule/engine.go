// Package schedule derives which maintenance services a vehicle is due for,
// from its odometer readings and a catalog of service intervals.
//
// The computation is a pure function of its inputs: it keeps no state, caches
// nothing and performs no I/O, so callers recompute whenever the vehicle they
// hold changes and may run calls for different vehicles in parallel.
package schedule

import (
	"errors"
	"fmt"
	"sort"
)

// Status classifies how urgent a due service is.
type Status string

const (
	StatusOverdue  Status = "Overdue"
	StatusDueSoon  Status = "Due Soon"
	StatusUpcoming Status = "Upcoming"
)

const (
	DefaultHorizon          int64 = 5000
	DefaultDueSoonThreshold int64 = 1000
)

var ErrInvalidPolicy = errors.New("invalid scheduling policy")

// Snapshot is the odometer state the engine needs from a vehicle.
// A Mileage of zero or less means no reading is available.
type Snapshot struct {
	Mileage            int64
	LastServiceMileage int64
}

// DueService is a catalog entry projected onto one vehicle.
type DueService struct {
	ServiceDefinition
	LastDoneAt    int64  `json:"lastDoneAt"`
	NextServiceAt int64  `json:"nextServiceAt"`
	DueIn         int64  `json:"dueIn"` // negative when overdue
	Status        Status `json:"status"`
}

// ComputeDueServices projects every catalog entry onto the snapshot and returns
// those due within horizon, most urgent first. Entries with equal DueIn keep
// catalog order. A snapshot without a positive mileage yields no services.
func ComputeDueServices(snap Snapshot, catalog *Catalog, horizon, dueSoonThreshold int64) []DueService {
	if catalog == nil || snap.Mileage <= 0 {
		return []DueService{}
	}
	lastService := snap.LastServiceMileage
	if lastService < 0 {
		lastService = 0
	}

	due := make([]DueService, 0, len(catalog.defs))
	for _, def := range catalog.defs {
		lastDone := (lastService / def.Interval) * def.Interval
		next := lastDone + def.Interval
		dueIn := next - snap.Mileage
		if dueIn > horizon {
			continue
		}
		due = append(due, DueService{
			ServiceDefinition: def,
			LastDoneAt:        lastDone,
			NextServiceAt:     next,
			DueIn:             dueIn,
			Status:            classify(dueIn, dueSoonThreshold),
		})
	}

	sort.SliceStable(due, func(i, j int) bool {
		return due[i].DueIn < due[j].DueIn
	})
	return due
}

func classify(dueIn, dueSoonThreshold int64) Status {
	switch {
	case dueIn <= 0:
		return StatusOverdue
	case dueIn <= dueSoonThreshold:
		return StatusDueSoon
	default:
		return StatusUpcoming
	}
}

// Policy holds the tunable thresholds of the engine.
type Policy struct {
	Horizon          int64 `json:"horizon"`
	DueSoonThreshold int64 `json:"dueSoonThreshold"`
}

// DefaultPolicy returns a 5000 horizon with a 1000 due-soon threshold.
func DefaultPolicy() Policy {
	return Policy{Horizon: DefaultHorizon, DueSoonThreshold: DefaultDueSoonThreshold}
}

// Validate rejects thresholds that cannot describe a planning window.
func (p Policy) Validate() error {
	if p.Horizon <= 0 {
		return fmt.Errorf("%w: horizon must be positive, got %d", ErrInvalidPolicy, p.Horizon)
	}
	if p.DueSoonThreshold < 0 {
		return fmt.Errorf("%w: due-soon threshold must not be negative, got %d", ErrInvalidPolicy, p.DueSoonThreshold)
	}
	return nil
}

// Planner binds a catalog to a policy so every call site shares one
// configuration.
type Planner struct {
	catalog *Catalog
	policy  Policy
}

// NewPlanner creates a planner; it fails on a nil catalog or invalid policy.
func NewPlanner(catalog *Catalog, policy Policy) (*Planner, error) {
	if catalog == nil {
		return nil, ErrEmptyCatalog
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Planner{catalog: catalog, policy: policy}, nil
}

// Due computes the due services for snap.
func (p *Planner) Due(snap Snapshot) []DueService {
	return ComputeDueServices(snap, p.catalog, p.policy.Horizon, p.policy.DueSoonThreshold)
}

// Catalog returns the planner's catalog.
func (p *Planner) Catalog() *Catalog {
	return p.catalog
}

// Policy returns the planner's thresholds.
func (p *Planner) Policy() Policy {
	return p.policy
}

// Attention filters due services down to those needing action now
// (overdue or due soon), keeping their order.
func Attention(due []DueService) []DueService {
	out := make([]DueService, 0, len(due))
	for _, d := range due {
		if d.Status == StatusOverdue || d.Status == StatusDueSoon {
			out = append(out, d)
		}
	}
	return out
}
