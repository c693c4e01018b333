package daemon

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helios-kvm-balancer/internal/config"
)

type fakeConn struct {
	connectErr error
	healthyErr error
	closed     bool
}

func (c *fakeConn) Connect(ctx context.Context) error { return c.connectErr }
func (c *fakeConn) Healthy(ctx context.Context) error { return c.healthyErr }
func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

// fakeController returns the scripted errors in order from Cycle, then
// blocks on the context.
type fakeController struct {
	initErr   error
	cycleErrs []error
	cycles    int
}

func (f *fakeController) Name() string { return "test-loop" }

func (f *fakeController) Init(ctx context.Context) error { return f.initErr }

func (f *fakeController) Cycle(ctx context.Context) error {
	if f.cycles < len(f.cycleErrs) {
		err := f.cycleErrs[f.cycles]
		f.cycles++
		return err
	}
	f.cycles++
	<-ctx.Done()
	return nil
}

func newTestRunner(conn Conn, ctl Controller, health *HealthStatus) *Runner {
	cfg := config.Config{
		HealthInterval:  time.Hour,
		ShutdownTimeout: time.Second,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRunner(cfg, 5*time.Millisecond, conn, ctl, health, logger)
}

func TestCycleLoopContinuesPastApplyFailures(t *testing.T) {
	fatal := Failf(CategoryStatsRead, "counter read failed")
	ctl := &fakeController{cycleErrs: []error{
		Failf(CategoryApply, "pin rejected"),
		nil,
		Failf(CategoryApply, "balloon resize rejected"),
		fatal,
	}}
	health := NewHealthStatus()
	r := newTestRunner(&fakeConn{}, ctl, health)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := r.runCycleLoop(ctx)
	require.Error(t, err)
	assert.Equal(t, CategoryStatsRead, CategoryOf(err))
	assert.Equal(t, 4, ctl.cycles)

	snap := health.Snapshot()
	assert.Equal(t, int64(2), snap["apply_failures"])
	assert.Equal(t, int64(1), snap["cycles_total"])
}

func TestCycleLoopStopsOnContextCancel(t *testing.T) {
	ctl := &fakeController{}
	r := newTestRunner(&fakeConn{}, ctl, NewHealthStatus())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, r.runCycleLoop(ctx))
}

func TestRunConnectFailureIsFatal(t *testing.T) {
	conn := &fakeConn{connectErr: errors.New("dial unix /var/run/libvirt/libvirt-sock: no such file")}
	r := newTestRunner(conn, &fakeController{}, NewHealthStatus())

	err := r.run(context.Background())
	require.Error(t, err)
	assert.Equal(t, CategoryConnection, CategoryOf(err))
	assert.Equal(t, 10, ExitCode(err))
}

func TestRunInitFailurePropagates(t *testing.T) {
	initErr := Failf(CategoryNoDomains, "nothing to balance")
	r := newTestRunner(&fakeConn{}, &fakeController{initErr: initErr}, NewHealthStatus())

	err := r.run(context.Background())
	require.Error(t, err)
	assert.Equal(t, CategoryNoDomains, CategoryOf(err))
}

func TestRunClosesConnOnShutdown(t *testing.T) {
	conn := &fakeConn{}
	health := NewHealthStatus()
	r := newTestRunner(conn, &fakeController{}, health)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop after context cancel")
	}
	assert.True(t, conn.closed)
	assert.False(t, health.Snapshot()["libvirt_connected"].(bool))
}
