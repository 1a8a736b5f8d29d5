package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeMAC(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"colon lower", "aa:bb:cc:dd:ee:ff", "aa:bb:cc:dd:ee:ff", false},
		{"colon upper", "AA:BB:CC:DD:EE:FF", "aa:bb:cc:dd:ee:ff", false},
		{"dashes", "AA-BB-CC-DD-EE-0F", "aa:bb:cc:dd:ee:0f", false},
		{"cisco dotted", "aabb.ccdd.eeff", "aa:bb:cc:dd:ee:ff", false},
		{"bare hex", "AABBCCDDEEFF", "aa:bb:cc:dd:ee:ff", false},
		{"surrounding space", "  aa:bb:cc:dd:ee:ff ", "aa:bb:cc:dd:ee:ff", false},
		{"empty", "", "", true},
		{"too short", "aa:bb:cc:dd:ee", "", true},
		{"eui64", "aa:bb:cc:dd:ee:ff:00:11", "", true},
		{"garbage", "not-a-mac", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeMAC(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrPreconditionViolation)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestSameMAC(t *testing.T) {
	require.True(t, SameMAC("AA-BB-CC-DD-EE-FF", "aa:bb:cc:dd:ee:ff"))
	require.False(t, SameMAC("aa:bb:cc:dd:ee:ff", "aa:bb:cc:dd:ee:fe"))
	require.False(t, SameMAC("bogus", "bogus"))
}
