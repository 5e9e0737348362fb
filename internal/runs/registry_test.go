package runs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

func TestRegisterAndLookup(t *testing.T) {
	reg := NewRegistry(silentLog())
	assert.Nil(t, reg.Lookup("s1"))

	run := New(context.Background(), "s1")
	require.NoError(t, reg.Register(run))

	assert.Same(t, run, reg.Lookup("s1"))
	assert.True(t, reg.IsActive("s1", run.ID))
	assert.False(t, reg.IsActive("s1", "other"))
	assert.Equal(t, 1, reg.Count())
}

func TestRegisterConflict(t *testing.T) {
	reg := NewRegistry(silentLog())
	a := New(context.Background(), "s1")
	b := New(context.Background(), "s1")

	require.NoError(t, reg.Register(a))
	err := reg.Register(b)
	require.Error(t, err)

	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "s1", conflict.SessionID)
	assert.Equal(t, a.ID, conflict.ActiveID)
	assert.Same(t, a, reg.Lookup("s1"), "the first run keeps the slot")
}

func TestRegisterAfterDeregister(t *testing.T) {
	reg := NewRegistry(silentLog())
	a := New(context.Background(), "s1")
	require.NoError(t, reg.Register(a))
	assert.True(t, reg.Deregister("s1", a.ID))

	b := New(context.Background(), "s1")
	require.NoError(t, reg.Register(b))
}

func TestSessionsAreIndependent(t *testing.T) {
	reg := NewRegistry(silentLog())
	require.NoError(t, reg.Register(New(context.Background(), "s1")))
	require.NoError(t, reg.Register(New(context.Background(), "s2")))
	assert.Equal(t, 2, reg.Count())
}

func TestDeregisterIgnoresStaleRunID(t *testing.T) {
	reg := NewRegistry(silentLog())
	b := New(context.Background(), "s1")
	require.NoError(t, reg.Register(b))

	assert.False(t, reg.Deregister("s1", "run-a"))
	assert.Same(t, b, reg.Lookup("s1"))
	assert.False(t, reg.Deregister("unknown", "run-a"))
}

func TestRequestCancelNoActiveRun(t *testing.T) {
	reg := NewRegistry(silentLog())
	assert.Equal(t, NoActiveRun, reg.RequestCancel("s1", time.Second))
}

func TestRequestCancelClean(t *testing.T) {
	reg := NewRegistry(silentLog())
	run := New(context.Background(), "s1")
	require.NoError(t, reg.Register(run))

	go func() {
		<-run.Context().Done()
		reg.Deregister("s1", run.ID)
	}()

	start := time.Now()
	outcome := reg.RequestCancel("s1", 2*time.Second)
	assert.Equal(t, CancelledCleanly, outcome)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, run.CancelRequested())
	assert.False(t, run.Disowned())
	assert.True(t, errors.Is(context.Cause(run.Context()), ErrCancelRequested))
	assert.Nil(t, reg.Lookup("s1"))
}

func TestRequestCancelTimeoutDisownsRun(t *testing.T) {
	reg := NewRegistry(silentLog())
	a := New(context.Background(), "s1")
	require.NoError(t, reg.Register(a))

	outcome := reg.RequestCancel("s1", 20*time.Millisecond)
	assert.Equal(t, TimedOut, outcome)
	assert.True(t, a.Disowned())
	assert.Nil(t, reg.Lookup("s1"), "slot is freed after timeout")

	b := New(context.Background(), "s1")
	require.NoError(t, reg.Register(b))

	// The abandoned run finishing late must not clobber the newer run.
	assert.False(t, reg.Deregister("s1", a.ID))
	assert.Same(t, b, reg.Lookup("s1"))
}

func TestFinishedSessionsLeaveNoEntries(t *testing.T) {
	reg := NewRegistry(silentLog())
	for i := range 50 {
		run := New(context.Background(), fmt.Sprintf("s%d", i))
		require.NoError(t, reg.Register(run))
		if i%2 == 0 {
			require.True(t, reg.Deregister(run.SessionID, run.ID))
		} else {
			reg.RequestCancel(run.SessionID, 0)
		}
	}
	assert.Zero(t, reg.Count())
	assert.Empty(t, reg.runs)

	// Unknown sessions are not materialized by reads or stale deregisters.
	assert.Nil(t, reg.Lookup("never"))
	assert.False(t, reg.Deregister("never", "x"))
	assert.Empty(t, reg.runs)
}

func TestRequestCancelZeroGrace(t *testing.T) {
	reg := NewRegistry(silentLog())
	a := New(context.Background(), "s1")
	require.NoError(t, reg.Register(a))

	outcome := reg.RequestCancel("s1", 0)
	assert.Contains(t, []CancelOutcome{CancelledCleanly, TimedOut}, outcome)
	assert.Nil(t, reg.Lookup("s1"))
}

func TestCancelOutcomeString(t *testing.T) {
	assert.Equal(t, "no_active_run", NoActiveRun.String())
	assert.Equal(t, "cancelled_cleanly", CancelledCleanly.String())
	assert.Equal(t, "timed_out", TimedOut.String())
	assert.Equal(t, "CancelOutcome(9)", CancelOutcome(9).String())

	text, err := TimedOut.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "timed_out", string(text))

	var back CancelOutcome
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, TimedOut, back)
	assert.Error(t, back.UnmarshalText([]byte("maybe")))
}

func TestRunFinished(t *testing.T) {
	run := New(context.Background(), "s1")
	assert.False(t, run.Finished())
	run.MarkFinished()
	assert.True(t, run.Finished())
}

func TestRunKind(t *testing.T) {
	run := New(context.Background(), "s1")
	assert.Equal(t, domain.Intent(""), run.Kind())
	run.SetKind(domain.IntentHotel)
	assert.Equal(t, domain.IntentHotel, run.Kind())
	assert.Equal(t, domain.IntentHotel, run.Info().Kind)
}

func TestRunIDsAreUnique(t *testing.T) {
	a := New(context.Background(), "s1")
	b := New(context.Background(), "s1")
	assert.NotEqual(t, a.ID, b.ID)
}

func TestConcurrentRegisterOneWins(t *testing.T) {
	reg := NewRegistry(silentLog())

	const n = 32
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := reg.Register(New(context.Background(), "s1"))
			mu.Lock()
			defer mu.Unlock()
			var ce *ConflictError
			switch {
			case err == nil:
				wins++
			case errors.As(err, &ce):
				conflicts++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, n-1, conflicts)
}

func TestActiveOrderedByStart(t *testing.T) {
	reg := NewRegistry(silentLog())
	a := New(context.Background(), "s1")
	time.Sleep(time.Millisecond)
	b := New(context.Background(), "s2")
	require.NoError(t, reg.Register(b))
	require.NoError(t, reg.Register(a))

	active := reg.Active()
	require.Len(t, active, 2)
	assert.Equal(t, a.ID, active[0].ID)
	assert.Equal(t, b.ID, active[1].ID)
}
