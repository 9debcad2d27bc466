package schedule

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCatalog_Validation(t *testing.T) {
	tests := []struct {
		name    string
		defs    []ServiceDefinition
		wantErr error
	}{
		{"empty", nil, ErrEmptyCatalog},
		{"zero interval", []ServiceDefinition{{ID: 1, Name: "Oil", Interval: 0}}, ErrInvalidInterval},
		{"negative interval", []ServiceDefinition{{ID: 1, Name: "Oil", Interval: -5000}}, ErrInvalidInterval},
		{"missing name", []ServiceDefinition{{ID: 1, Name: "  ", Interval: 5000}}, ErrMissingName},
		{"duplicate id", []ServiceDefinition{
			{ID: 1, Name: "Oil", Interval: 5000},
			{ID: 1, Name: "Tires", Interval: 15000},
		}, ErrDuplicateService},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCatalog(tt.defs...)
			assert.Nil(t, c)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCatalog_DefinitionsIsACopy(t *testing.T) {
	c := DefaultCatalog()
	require.Equal(t, 6, c.Len())

	defs := c.Definitions()
	assert.Equal(t, "Oil Change", defs[0].Name)
	assert.Equal(t, int64(80000), defs[5].Interval)

	defs[0].Interval = 1
	assert.Equal(t, int64(10000), c.Definitions()[0].Interval)
}

func TestMustCatalog_Panics(t *testing.T) {
	assert.Panics(t, func() {
		MustCatalog(ServiceDefinition{ID: 1, Name: "Broken", Interval: 0})
	})
}

const sampleCatalog = `
[[service]]
id = 10
name = "Oil Change"
interval = 7500
description = "Synthetic oil and filter"

[[service]]
id = 11
name = "Chain Lube"
interval = 1000
`

func TestParseCatalog(t *testing.T) {
	c, err := ParseCatalog([]byte(sampleCatalog))
	require.NoError(t, err)

	defs := c.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, ServiceDefinition{ID: 10, Name: "Oil Change", Interval: 7500, Description: "Synthetic oil and filter"}, defs[0])
	assert.Equal(t, "Chain Lube", defs[1].Name)
}

func TestParseCatalog_RejectsBadInterval(t *testing.T) {
	_, err := ParseCatalog([]byte("[[service]]\nid = 1\nname = \"Oil\"\ninterval = 0\n"))
	assert.ErrorIs(t, err, ErrInvalidInterval)

	_, err = ParseCatalog([]byte("not = [valid"))
	assert.Error(t, err)
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	_, err = LoadCatalog(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}
