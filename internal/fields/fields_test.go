package fields

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/observablehq/airbyte/internal/commonroom"
)

var catalog = []commonroom.CustomField{
	{ID: 1, Name: "Plan", Type: "string"},
	{ID: 2, Name: "Seats", Type: "int"},
	{ID: 3, Name: "Paying", Type: "boolean"},
}

func TestResolve_ConfiguredOrder(t *testing.T) {
	table, err := Resolve(catalog, Mappings{
		{Source: "seats", Remote: "Seats"},
		{Source: "plan", Remote: "Plan"},
	})
	require.NoError(t, err)

	assert.Equal(t, []CustomFieldSpec{
		{Source: "seats", Name: "Seats", ID: 2, Type: "int"},
		{Source: "plan", Name: "Plan", ID: 1, Type: "string"},
	}, table.Custom())
	assert.Equal(t, 2, table.Len())

	spec, ok := table.Lookup("Plan")
	require.True(t, ok)
	assert.Equal(t, int64(1), spec.ID)
}

// TestResolve_MissingFields tests that every absent name is reported, sorted.
func TestResolve_MissingFields(t *testing.T) {
	_, err := Resolve(catalog, Mappings{
		{Source: "tier", Remote: "Tier"},
		{Source: "plan", Remote: "Plan"},
		{Source: "region", Remote: "Region"},
	})
	require.Error(t, err)

	var mfe *MissingFieldsError
	require.True(t, errors.As(err, &mfe))
	assert.Equal(t, []string{"Region", "Tier"}, mfe.Missing)
	assert.Equal(t, []string{"Paying", "Plan", "Seats"}, mfe.Available)
	assert.Equal(t, "Misconfigured fields [Region Tier] not present in [Paying Plan Seats]", err.Error())
}

func TestResolve_Empty(t *testing.T) {
	table, err := Resolve(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, table.Custom())

	var nilTable *Table
	assert.Equal(t, 0, nilTable.Len())
	assert.Nil(t, nilTable.Custom())
}

func TestMappings_Remotes(t *testing.T) {
	m := Mappings{{Source: "name", Remote: "fullName"}, {Source: "org", Remote: "organization"}}
	assert.Equal(t, []string{"fullName", "organization"}, m.Remotes())
}

// TestCoerceValue tests conversion of record values to each field type.
func TestCoerceValue(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		in      any
		want    any
		wantErr bool
	}{
		{"string passthrough", "string", "pro", "pro", false},
		{"number as string", "string", float64(3), "3", false},
		{"bool as string", "url", true, "true", false},
		{"list for multi value", "multi-value-enum", []any{"a", "b"}, []any{"a", "b"}, false},
		{"int from float", "int", float64(12), int64(12), false},
		{"int from string", "int", "12", int64(12), false},
		{"int rejects fraction", "int", 1.5, nil, true},
		{"int rejects text", "int", "many", nil, true},
		{"number", "number", 1.5, 1.5, false},
		{"boolean", "boolean", false, false, false},
		{"boolean from string", "boolean", "true", true, false},
		{"boolean rejects number", "boolean", float64(1), nil, true},
		{"large int as string", "string", json.Number("12345678901234567"), "12345678901234567", false},
		{"large int exact", "int", json.Number("12345678901234567"), int64(12345678901234567), false},
		{"int from exponent", "int", json.Number("1.2e3"), int64(1200), false},
		{"int rejects overflow", "int", json.Number("1e20"), nil, true},
		{"int rejects float overflow", "int", float64(1e20), nil, true},
		{"int rejects negative overflow", "int", -1e19, nil, true},
		{"number keeps text", "number", json.Number("0.1"), json.Number("0.1"), false},
		{"number rejects text", "number", "lots", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := CustomFieldSpec{Name: "F", Type: tt.typ}
			got, err := CoerceValue(spec, tt.in)
			if tt.wantErr {
				var ce *CoerceError
				require.True(t, errors.As(err, &ce))
				assert.Equal(t, "F", ce.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.typ, got.Type)
			assert.Equal(t, tt.want, got.Value)
		})
	}
}
