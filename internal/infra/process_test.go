package infra

import (
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessInspector(t *testing.T) {
	pi := NewProcessInspector()

	assert.Equal(t, os.Getpid(), pi.GetCurrentPID())
	assert.True(t, pi.IsRunning(pi.GetCurrentPID()))
	assert.False(t, pi.IsRunning(0))
	assert.False(t, pi.IsRunning(-1))
}

func TestProcessInspector_ExitedProcess(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Run())

	// Run reaps the child, so its PID is gone.
	assert.False(t, NewProcessInspector().IsRunning(cmd.Process.Pid))
}

func TestTimeScheduler(t *testing.T) {
	fired := make(chan struct{})
	timer := NewTimeScheduler().AfterFunc(5*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.False(t, timer.Stop(), "Stop after firing reports false")

	stopped := NewTimeScheduler().AfterFunc(time.Hour, func() { t.Error("stopped timer fired") })
	assert.True(t, stopped.Stop())
}
