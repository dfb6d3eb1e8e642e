package retryqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestManager() *Manager {
	proc := NewProcessor(newFakeQueueRepo(), &fakeReplayer{}, &fakeOutbound{})
	return &Manager{
		processor: proc,
		stopCh:    make(chan struct{}),
	}
}

func TestManagerStartStopRestart(t *testing.T) {
	m := newTestManager()
	assert.False(t, m.IsRunning())

	m.Start()
	assert.True(t, m.IsRunning())

	// Stop must wait out both workers without deadlocking on the stop channel.
	m.Stop()
	assert.False(t, m.IsRunning())

	// A second cycle reuses the manager cleanly.
	m.Start()
	assert.True(t, m.IsRunning())
	m.Stop()
	assert.False(t, m.IsRunning())
}

func TestManagerStartAndStopAreIdempotent(t *testing.T) {
	m := newTestManager()

	m.Start()
	m.Start()
	assert.True(t, m.IsRunning())

	m.Stop()
	m.Stop()
	assert.False(t, m.IsRunning())
}
