package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpdateFromWire(t *testing.T) {
	u, err := UpdateFromWire("add", uint64(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, AddUpdate(time.Minute), u)

	kind, nanos := SubUpdate(time.Second).Wire()
	assert.Equal(t, "sub", kind)
	assert.Equal(t, uint64(time.Second), nanos)

	_, err = UpdateFromWire("multiply", 1)
	assert.ErrorIs(t, err, ErrInvalidUpdate)

	_, err = UpdateFromWire("set", 1<<63)
	assert.ErrorIs(t, err, ErrInvalidUpdate)
}

func TestValidateRejectsNegative(t *testing.T) {
	assert.ErrorIs(t, Update{Kind: Add, Duration: -time.Second}.Validate(), ErrInvalidUpdate)
}

func TestNewReport(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	r := NewReport(Status{}, now)
	assert.False(t, r.Active)
	assert.Nil(t, r.RemainingSeconds)
	assert.Empty(t, r.Message)
	_, ok := r.NextCheck()
	assert.False(t, ok)

	r = NewReport(Status{Active: true, WakeUntil: uint64(now.Unix()) + 125}, now)
	require.NotNil(t, r.RemainingSeconds)
	assert.Equal(t, uint64(125), *r.RemainingSeconds)
	assert.Equal(t, "3m", r.Message)
	next, ok := r.NextCheck()
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, next)

	r = NewReport(Status{Active: true, WakeUntil: uint64(now.Unix()) + 120}, now)
	assert.Equal(t, "2m", r.Message)
	next, _ = r.NextCheck()
	assert.Equal(t, time.Minute, next)
}

func TestReportJSON(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	b, err := json.Marshal(NewReport(Status{Active: true, WakeUntil: uint64(now.Unix()) + 60}, now))
	require.NoError(t, err)
	assert.JSONEq(t, `{"active":true,"remaining_seconds":60,"message":"1m"}`, string(b))

	b, err = json.Marshal(NewReport(Status{}, now))
	require.NoError(t, err)
	assert.JSONEq(t, `{"active":false,"remaining_seconds":null,"message":""}`, string(b))
}
