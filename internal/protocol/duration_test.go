package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUpdate(t *testing.T) {
	tests := []struct {
		in   string
		want Update
	}{
		{"+1h", AddUpdate(time.Hour)},
		{"-30m", SubUpdate(30 * time.Minute)},
		{"2d", SetUpdate(48 * time.Hour)},
		{"0", SetUpdate(0)},
		{"+1h30m", AddUpdate(90 * time.Minute)},
		{"1.5h", SetUpdate(90 * time.Minute)},
		{"1w", SetUpdate(7 * 24 * time.Hour)},
		{"250ms", SetUpdate(250 * time.Millisecond)},
		{" +10s ", AddUpdate(10 * time.Second)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUpdate(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseUpdateRejectsMalformed(t *testing.T) {
	for _, in := range []string{"", "+", "-", "abc", "10", "5x", "1h-2m", "+-1h", "..1m"} {
		_, err := ParseUpdate(in)
		assert.ErrorIs(t, err, ErrInvalidDuration, "input %q", in)
	}
}

func TestParseDurationOverflow(t *testing.T) {
	_, err := ParseDuration("100000y")
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = ParseDuration("9223372036854775807ns")
	assert.ErrorIs(t, err, ErrInvalidDuration, "2^63 after float rounding")

	d, err := ParseDuration("290y")
	require.NoError(t, err)
	assert.Positive(t, d)
}
