package config

import "slices"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// WakeWordChanged is true when greetings, names, or phonetic tuning
	// changed. New sessions pick up the rebuilt matcher.
	WakeWordChanged bool

	// InstructionsChanged is true when the upstream system prompt changed.
	// Live sessions receive the new instructions via a session update.
	InstructionsChanged bool
	NewInstructions     string

	// RetrievalChanged is true when retrieval tuning changed.
	RetrievalChanged bool
}

// Changed reports whether the diff contains any hot-reloadable change.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.WakeWordChanged || d.InstructionsChanged || d.RetrievalChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.WakeWord.Greetings, new.WakeWord.Greetings) ||
		!slices.Equal(old.WakeWord.Names, new.WakeWord.Names) ||
		!phoneticEqual(old.WakeWord.Phonetic, new.WakeWord.Phonetic) ||
		old.WakeWord.PhoneticThreshold != new.WakeWord.PhoneticThreshold {
		d.WakeWordChanged = true
	}

	if old.Upstream.Instructions != new.Upstream.Instructions {
		d.InstructionsChanged = true
		d.NewInstructions = new.Upstream.Instructions
	}

	if old.Retrieval != new.Retrieval {
		d.RetrievalChanged = true
	}

	return d
}

func phoneticEqual(a, b *bool) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
