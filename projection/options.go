package projection

type StartupMode int

const (
	// StartupResume resumes from the last saved checkpoint, or from zero
	// when none exists.
	StartupResume StartupMode = iota
	// StartupReplay deletes any existing checkpoint and starts from zero.
	StartupReplay
	// StartupCatchUp skips the checkpoint lookup entirely. On a live bus
	// this means only events published after subscribing are seen.
	StartupCatchUp
	// StartupLiveOnly behaves like StartupCatchUp on a live bus; it exists
	// as a distinct mode for event sources that retain history.
	StartupLiveOnly
)

func (m StartupMode) String() string {
	switch m {
	case StartupResume:
		return "resume"
	case StartupReplay:
		return "replay"
	case StartupCatchUp:
		return "catch-up"
	case StartupLiveOnly:
		return "live-only"
	default:
		return "unknown"
	}
}

const (
	DefaultMaxParallelism      = 1
	DefaultCheckpointBatchSize = 100
	DefaultRetryAttempts       = 3

	// MaxParallelismCeiling caps "effectively unbounded" parallelism
	// requests (non-positive MaxParallelism).
	MaxParallelismCeiling = 1000
)

// Options configures one projection. The zero value is NOT the default:
// omit options entirely (plain Register) to get the sequential defaults of
// MaxParallelism 1, CheckpointBatchSize 100 and StartupResume.
type Options struct {
	// Name overrides the projection's own Name() as its identity key.
	Name string
	// MaxParallelism bounds concurrent handler invocations across all
	// partitions of this projection. Ordering within a partition is
	// unaffected. Non-positive requests effectively unbounded parallelism,
	// capped at MaxParallelismCeiling.
	MaxParallelism int
	// CheckpointBatchSize is the number of processed events between
	// durable checkpoint writes. Non-positive falls back to
	// DefaultCheckpointBatchSize.
	CheckpointBatchSize int
	StartupMode         StartupMode
	// CheckpointPolicy overrides the batch-size flush policy when set.
	CheckpointPolicy Policy
	// RetryAttempts is the number of attempts per event before it is
	// dead-lettered. Non-positive falls back to DefaultRetryAttempts.
	RetryAttempts int
}

// resolveOptions applies the precedence chain: explicitly registered
// options > options the projection declares itself > hard defaults.
func resolveOptions(p Projection, explicit *Options) Options {
	var o Options
	switch {
	case explicit != nil:
		o = *explicit
	default:
		if provider, ok := p.(OptionsProvider); ok {
			o = provider.ProjectionOptions()
		} else {
			o.MaxParallelism = DefaultMaxParallelism
		}
	}

	if o.Name == "" {
		o.Name = p.Name()
	}
	if o.MaxParallelism <= 0 || o.MaxParallelism > MaxParallelismCeiling {
		o.MaxParallelism = MaxParallelismCeiling
	}
	if o.CheckpointBatchSize <= 0 {
		o.CheckpointBatchSize = DefaultCheckpointBatchSize
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = DefaultRetryAttempts
	}
	if o.CheckpointPolicy == nil {
		o.CheckpointPolicy = EveryNEvents(o.CheckpointBatchSize)
	}

	return o
}
