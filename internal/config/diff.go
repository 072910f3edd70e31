package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked; provider, store,
// and server changes require a restart.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// BatchingChanged is true when any batching threshold changed.
	// New listener sessions pick up the new thresholds; running sessions
	// keep the policy they started with.
	BatchingChanged bool

	// PollIntervalChanged is true when translation.poll_interval changed.
	PollIntervalChanged bool

	// DuckFractionChanged is true when feedback.duck_fraction changed.
	DuckFractionChanged bool
}

// Empty reports whether no tracked field changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.BatchingChanged && !d.PollIntervalChanged && !d.DuckFractionChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Batching != new.Batching {
		d.BatchingChanged = true
	}

	if old.Translation.PollInterval != new.Translation.PollInterval {
		d.PollIntervalChanged = true
	}

	if old.Feedback.DuckFraction != new.Feedback.DuckFraction {
		d.DuckFractionChanged = true
	}

	return d
}
