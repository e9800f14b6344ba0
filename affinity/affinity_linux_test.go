//go:build linux

package affinity_test

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-ingest/affinity"
	"github.com/momentics/hioload-ingest/api"
)

func TestSetAffinity_PinsLockedThread(t *testing.T) {
	cpus, err := affinity.CPUs()
	require.NoError(t, err)
	require.NotEmpty(t, cpus)

	done := make(chan struct{})
	go func() {
		defer close(done)
		// the thread is discarded on exit since it stays locked
		runtime.LockOSThread()

		target := cpus[len(cpus)-1]
		require.NoError(t, affinity.SetAffinity(target))
		got, err := affinity.CPUs()
		require.NoError(t, err)
		assert.Equal(t, []int{target}, got)
	}()
	<-done
}

func TestSetAffinity_RejectsInvalidCPU(t *testing.T) {
	assert.ErrorIs(t, affinity.SetAffinity(-1), api.ErrInvalidArgument)
	assert.ErrorIs(t, affinity.SetAffinity(4096), api.ErrInvalidArgument)
}
