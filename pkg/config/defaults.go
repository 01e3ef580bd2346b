package config

// builtinDefaults returns the system-wide fallbacks applied when
// parley.yaml leaves defaults unset. MAX_HANDOFFS sets the built-in handoff
// cap; user YAML merges on top of both.
func builtinDefaults() (*Defaults, error) {
	maxHandoffs, err := envInt("MAX_HANDOFFS", 5)
	if err != nil {
		return nil, err
	}
	return &Defaults{
		MinConfidence:        0.2,
		MaxHandoffs:          maxHandoffs,
		ToolTimeoutMs:        10000,
		MaxConcurrentStreams: 4,
	}, nil
}

// applyRetentionDefaults fills unset retention fields.
// conversation_days stays 0 (keep forever) unless configured.
func applyRetentionDefaults(r *RetentionConfig) {
	if r.LogDays == 0 {
		r.LogDays = 90
	}
	if r.IntervalHours == 0 {
		r.IntervalHours = 12
	}
}

// applySlackDefaults fills unset Slack notification fields.
func applySlackDefaults(s *SlackConfig) {
	if s.DedupWindowMinutes == 0 {
		s.DedupWindowMinutes = 15
	}
}
