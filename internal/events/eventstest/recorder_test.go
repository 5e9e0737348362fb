package eventstest

import (
	"testing"
	"time"

	"github.com/soyeahso/wayfarer/internal/domain"
	"github.com/soyeahso/wayfarer/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ events.Publisher = (*Recorder)(nil)

func TestRecorderWaitFor(t *testing.T) {
	rec := NewRecorder()
	go func() {
		time.Sleep(10 * time.Millisecond)
		rec.Publish(domain.NewStatus("s1", "r1", domain.StatusCompleted))
	}()

	assert.True(t, rec.WaitFor("s1", time.Second, IsRunStatus("r1", domain.StatusCompleted)))
	assert.False(t, rec.WaitFor("s1", 10*time.Millisecond, IsStatus(domain.StatusCancelled)))
	require.Len(t, rec.Events("s1"), 1)
	assert.Equal(t, uint64(1), rec.Events("s1")[0].Seq)
}

func TestRecorderSequencesPerSession(t *testing.T) {
	rec := NewRecorder()
	rec.Publish(domain.NewStatus("s1", "r1", domain.StatusProcessing))
	rec.Publish(domain.NewStatus("s2", "r2", domain.StatusProcessing))
	ev := rec.Publish(domain.NewStatus("s1", "r1", domain.StatusCompleted))

	assert.Equal(t, uint64(2), ev.Seq)
	assert.Len(t, rec.Events("s1"), 2)
	assert.Len(t, rec.Events("s2"), 1)
	assert.Empty(t, rec.Events("s3"))
}
