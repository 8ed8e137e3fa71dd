package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/claims-engine/facade"
	"github.com/warp/claims-engine/insurance"
)

func TestRegistryRefresher_RunNow(t *testing.T) {
	// GIVEN: A doctor authorized behind the default façade's back
	sim := setupSimAccounts(t)
	ctx := context.Background()
	owner := sim.Default()
	require.False(t, owner.Registry().IsAuthorized(DevDoctor))

	direct := facade.New(sim.Chain().Connect(DevOwner), facade.Options{})
	res := direct.AuthorizeDoctorAddress(ctx, DevDoctor.Hex(), true)
	require.True(t, res.Success, "%v", res.Error)
	require.False(t, owner.Registry().IsAuthorized(DevDoctor))

	// WHEN: The refresher runs once
	rr := NewRegistryRefresher(sim, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, rr.RunNow(ctx))

	// THEN: The cached registry sees the doctor
	assert.True(t, owner.Registry().IsAuthorized(DevDoctor))
	runs, failures := rr.Runs()
	assert.EqualValues(t, 1, runs)
	assert.EqualValues(t, 0, failures)
}

func TestRegistryRefresher_FailureKeepsSnapshot(t *testing.T) {
	sim := setupSimAccounts(t)
	ctx := context.Background()
	rr := NewRegistryRefresher(sim, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, rr.RunNow(ctx))
	before := sim.Default().Registry()

	sim.Chain().FailNext(errors.New("connection reset"))
	err := rr.RunNow(ctx)

	assert.True(t, insurance.IsRetryable(err))
	assert.Same(t, before, sim.Default().Registry())
	_, failures := rr.Runs()
	assert.EqualValues(t, 1, failures)
}

func TestRegistryRefresher_StartStop(t *testing.T) {
	sim := setupSimAccounts(t)
	rr := NewRegistryRefresher(sim, 10*time.Millisecond, slog.New(slog.NewTextHandler(io.Discard, nil)))

	rr.Start()
	require.Eventually(t, func() bool {
		runs, _ := rr.Runs()
		return runs >= 2
	}, time.Second, 5*time.Millisecond)
	rr.Stop()

	runs, _ := rr.Runs()
	time.Sleep(30 * time.Millisecond)
	after, _ := rr.Runs()
	assert.Equal(t, runs, after)

	// Stop twice is a no-op
	rr.Stop()
}

func TestRegistryRefresher_Disabled(t *testing.T) {
	sim := setupSimAccounts(t)
	rr := NewRegistryRefresher(sim, 0, nil)

	rr.Start()
	rr.Stop()

	runs, _ := rr.Runs()
	assert.Zero(t, runs)
}
