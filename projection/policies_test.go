package projection_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fluxlock/tideline/projection"
)

func TestEveryNEvents(t *testing.T) {
	p := projection.EveryNEvents(3)

	assert.False(t, p.ShouldCheckpoint(projection.FlushInfo{EventsSinceLastSave: 2}))
	assert.True(t, p.ShouldCheckpoint(projection.FlushInfo{EventsSinceLastSave: 3}))
	assert.True(t, p.ShouldCheckpoint(projection.FlushInfo{EventsSinceLastSave: 7}))
}

func TestAfterDuration(t *testing.T) {
	p := projection.AfterDuration(time.Minute)

	assert.False(t, p.ShouldCheckpoint(projection.FlushInfo{TimeSinceLastSave: 30 * time.Second}))
	assert.True(t, p.ShouldCheckpoint(projection.FlushInfo{TimeSinceLastSave: time.Minute}))
}

func TestAnyOf(t *testing.T) {
	p := projection.AnyOf(
		projection.EveryNEvents(100),
		projection.AfterDuration(time.Minute),
	)

	assert.False(t, p.ShouldCheckpoint(projection.FlushInfo{
		EventsSinceLastSave: 1,
		TimeSinceLastSave:   time.Second,
	}))
	assert.True(t, p.ShouldCheckpoint(projection.FlushInfo{
		EventsSinceLastSave: 1,
		TimeSinceLastSave:   2 * time.Minute,
	}))
	assert.True(t, p.ShouldCheckpoint(projection.FlushInfo{
		EventsSinceLastSave: 100,
		TimeSinceLastSave:   time.Second,
	}))
}
