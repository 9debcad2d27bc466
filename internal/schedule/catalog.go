package schedule

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var (
	ErrInvalidInterval  = errors.New("service interval must be positive")
	ErrDuplicateService = errors.New("duplicate service id")
	ErrMissingName      = errors.New("service name is required")
	ErrEmptyCatalog     = errors.New("catalog has no services")
)

// ServiceDefinition is one recurring maintenance task of the catalog.
type ServiceDefinition struct {
	ID          int    `json:"id" toml:"id"`
	Name        string `json:"name" toml:"name"`
	Interval    int64  `json:"interval" toml:"interval"` // in the vehicle's odometer unit
	Description string `json:"description" toml:"description"`
}

// Catalog is an ordered, validated set of service definitions.
// It is immutable once built and safe to share between goroutines.
type Catalog struct {
	defs []ServiceDefinition
}

// NewCatalog validates defs and returns a catalog preserving their order.
func NewCatalog(defs ...ServiceDefinition) (*Catalog, error) {
	if len(defs) == 0 {
		return nil, ErrEmptyCatalog
	}

	seen := make(map[int]struct{}, len(defs))
	out := make([]ServiceDefinition, 0, len(defs))
	for i, d := range defs {
		if strings.TrimSpace(d.Name) == "" {
			return nil, fmt.Errorf("service #%d: %w", i+1, ErrMissingName)
		}
		if d.Interval <= 0 {
			return nil, fmt.Errorf("service %q: %w (got %d)", d.Name, ErrInvalidInterval, d.Interval)
		}
		if _, dup := seen[d.ID]; dup {
			return nil, fmt.Errorf("service %q: %w %d", d.Name, ErrDuplicateService, d.ID)
		}
		seen[d.ID] = struct{}{}
		out = append(out, d)
	}
	return &Catalog{defs: out}, nil
}

// MustCatalog is like NewCatalog but panics on an invalid definition.
func MustCatalog(defs ...ServiceDefinition) *Catalog {
	c, err := NewCatalog(defs...)
	if err != nil {
		panic(err)
	}
	return c
}

// DefaultCatalog returns the standard passenger-car schedule (intervals in km).
func DefaultCatalog() *Catalog {
	return MustCatalog(
		ServiceDefinition{ID: 1, Name: "Oil Change", Interval: 10000, Description: "Engine oil and filter replacement"},
		ServiceDefinition{ID: 2, Name: "Tire Rotation", Interval: 15000, Description: "Tire rotation and pressure check"},
		ServiceDefinition{ID: 3, Name: "Brake Inspection", Interval: 20000, Description: "Complete brake system inspection"},
		ServiceDefinition{ID: 4, Name: "Air Filter Replacement", Interval: 30000, Description: "Engine air filter replacement"},
		ServiceDefinition{ID: 5, Name: "Transmission Fluid", Interval: 60000, Description: "Transmission fluid change"},
		ServiceDefinition{ID: 6, Name: "Coolant Flush", Interval: 80000, Description: "Cooling system flush and refill"},
	)
}

// Definitions returns a copy of the catalog entries in catalog order.
func (c *Catalog) Definitions() []ServiceDefinition {
	out := make([]ServiceDefinition, len(c.defs))
	copy(out, c.defs)
	return out
}

// Len returns the number of services in the catalog.
func (c *Catalog) Len() int {
	return len(c.defs)
}

type catalogFile struct {
	Service []ServiceDefinition `toml:"service"`
}

// LoadCatalog reads a TOML catalog made of [[service]] tables.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates TOML catalog content.
func ParseCatalog(data []byte) (*Catalog, error) {
	var f catalogFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	return NewCatalog(f.Service...)
}
