package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema() *Schema {
	max := 10.0
	min := 1.0
	return &Schema{
		Properties: map[string]Field{
			"tenant_slug": {Type: TypeString},
			"batch_size":  {Type: TypeInteger, Minimum: &min, Maximum: &max, Default: int64(4)},
			"dry_run":     {Type: TypeBoolean, Default: false},
			"mode":        {Type: TypeString, Enum: []interface{}{"fast", "full"}},
		},
		Required: []string{"tenant_slug"},
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     map[string]interface{}
		want    map[string]interface{}
		wantErr string
	}{
		{
			name: "applies defaults and coerces",
			raw:  map[string]interface{}{"tenant_slug": "acme"},
			want: map[string]interface{}{"tenant_slug": "acme", "batch_size": int64(4), "dry_run": false},
		},
		{
			name: "overrides defaults",
			raw:  map[string]interface{}{"tenant_slug": "acme", "batch_size": float64(7), "dry_run": true, "mode": "full"},
			want: map[string]interface{}{"tenant_slug": "acme", "batch_size": int64(7), "dry_run": true, "mode": "full"},
		},
		{
			name:    "rejects unknown key",
			raw:     map[string]interface{}{"tenant_slug": "acme", "bogus": 1},
			wantErr: "unsupported payload fields",
		},
		{
			name:    "rejects missing required",
			raw:     map[string]interface{}{},
			wantErr: "missing required field",
		},
		{
			name:    "rejects out of range",
			raw:     map[string]interface{}{"tenant_slug": "acme", "batch_size": float64(99)},
			wantErr: "above maximum",
		},
		{
			name:    "rejects bad enum",
			raw:     map[string]interface{}{"tenant_slug": "acme", "mode": "turbo"},
			wantErr: "not in enum",
		},
		{
			name:    "rejects wrong type",
			raw:     map[string]interface{}{"tenant_slug": 5},
			wantErr: "must be a string",
		},
		{
			name: "coerces string bool and int",
			raw:  map[string]interface{}{"tenant_slug": "acme", "batch_size": "7", "dry_run": "yes"},
			want: map[string]interface{}{"tenant_slug": "acme", "batch_size": int64(7), "dry_run": true},
		},
		{
			name:    "rejects unrecognized bool spelling",
			raw:     map[string]interface{}{"tenant_slug": "acme", "dry_run": "nope"},
			wantErr: "must be a boolean",
		},
	}

	schema := testSchema()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(schema, tt.raw)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeIsDeterministic(t *testing.T) {
	schema := testSchema()
	raw := map[string]interface{}{"tenant_slug": "acme", "batch_size": float64(7), "mode": "fast"}

	a, err := Normalize(schema, raw)
	require.NoError(t, err)
	b, err := Normalize(schema, raw)
	require.NoError(t, err)

	aj, err := CanonicalJSON(a)
	require.NoError(t, err)
	bj, err := CanonicalJSON(b)
	require.NoError(t, err)
	assert.Equal(t, string(aj), string(bj))
}
