package projection

import "time"

type FlushInfo struct {
	// EventsSinceLastSave is the number of events processed since the last checkpoint was saved.
	EventsSinceLastSave int
	// TimeSinceLastSave is the duration that has passed since the last checkpoint was saved.
	TimeSinceLastSave time.Duration
}

// Policy determines when a partition worker should persist its checkpoint.
// Regardless of policy, a partial batch is always flushed on shutdown.
type Policy interface {
	// ShouldCheckpoint is called after each processed event to decide if
	// it's time to save a checkpoint.
	ShouldCheckpoint(info FlushInfo) bool
}

type eventCountPolicy struct {
	count int
}

func (p *eventCountPolicy) ShouldCheckpoint(info FlushInfo) bool {
	return info.EventsSinceLastSave >= p.count
}

// EveryNEvents returns a policy that triggers a checkpoint after N events
// have been processed.
func EveryNEvents(n int) Policy {
	return &eventCountPolicy{count: n}
}

type durationPolicy struct {
	duration time.Duration
}

func (p *durationPolicy) ShouldCheckpoint(info FlushInfo) bool {
	return info.TimeSinceLastSave >= p.duration
}

// AfterDuration returns a policy that triggers a checkpoint once a given
// duration has passed since the last save.
func AfterDuration(d time.Duration) Policy {
	return &durationPolicy{duration: d}
}

type compositePolicy struct {
	policies []Policy
}

func (p *compositePolicy) ShouldCheckpoint(info FlushInfo) bool {
	for _, policy := range p.policies {
		if policy.ShouldCheckpoint(info) {
			return true
		}
	}
	return false
}

// AnyOf returns a policy that triggers a checkpoint if any of the provided
// policies trigger, e.g. "every 100 events OR after 5 seconds".
func AnyOf(policies ...Policy) Policy {
	return &compositePolicy{policies: policies}
}
