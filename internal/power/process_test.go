//go:build linux || darwin

package power

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessInhibitorKeepsOneHelper(t *testing.T) {
	if _, err := exec.LookPath("sleep"); err != nil {
		t.Skip("sleep not available")
	}
	opts := testOptions()
	opts.LookPath = exec.LookPath
	p := &processInhibitor{
		mode: "sleep",
		opts: opts,
		command: func(Options) (string, []string) {
			return "sleep", []string{"60"}
		},
	}
	ctx := context.Background()

	require.NoError(t, p.Inhibit(ctx))
	first := p.cmd.Process.Pid
	require.NoError(t, p.Inhibit(ctx))
	assert.Equal(t, first, p.cmd.Process.Pid)

	done := p.done
	require.NoError(t, p.Release(ctx))
	select {
	case <-done:
	default:
		t.Fatal("helper still running after Release")
	}
	assert.Nil(t, p.cmd)
	require.NoError(t, p.Release(ctx))
}
