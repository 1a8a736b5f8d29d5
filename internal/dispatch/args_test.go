package dispatch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"routerctl/internal/domain"
)

func TestArgsInt(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    int
		ok      bool
		wantErr bool
	}{
		{"float", float64(8080), 8080, true, false},
		{"int", 22, 22, true, false},
		{"string", " 443 ", 443, true, false},
		{"json number", json.Number("53"), 53, true, false},
		{"empty string", "", 0, false, false},
		{"nil", nil, 0, false, false},
		{"fraction", 80.5, 0, true, true},
		{"word", "http", 0, true, true},
		{"bool", true, 0, true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok, err := Args{"port": tt.value}.Int("port")
			if tt.wantErr {
				require.ErrorIs(t, err, domain.ErrPreconditionViolation)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, n)
		})
	}

	_, ok, err := Args{}.Int("missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestArgsString(t *testing.T) {
	args := Args{"a": "  x ", "n": float64(42), "b": true, "z": nil}
	require.Equal(t, "x", args.String("a"))
	require.Equal(t, "42", args.String("n"))
	require.Equal(t, "true", args.String("b"))
	require.Equal(t, "", args.String("z"))
	require.False(t, args.Has("missing"))
}

func TestParseAssignments(t *testing.T) {
	args, err := ParseAssignments([]string{"mac=aa:bb:cc:dd:ee:ff", "hostname=", "note=a=b"})
	require.NoError(t, err)
	require.Equal(t, Args{"mac": "aa:bb:cc:dd:ee:ff", "hostname": "", "note": "a=b"}, args)

	_, err = ParseAssignments([]string{"oops"})
	require.ErrorIs(t, err, domain.ErrPreconditionViolation)
}
