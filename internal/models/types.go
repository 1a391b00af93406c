package models

// Turn represents one role-tagged message in a conversation history.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GroupSettings represents per-group overrides. Both flags are pointers
// so an explicit false can be told apart from unset: a group entry that
// only sets rate_limit or ai_enabled stays administratively enabled.
type GroupSettings struct {
	Enabled   *bool `json:"enabled,omitempty" mapstructure:"enabled"`
	AIEnabled *bool `json:"ai_enabled,omitempty" mapstructure:"ai_enabled"`
	RateLimit int   `json:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// Disabled reports whether the group is administratively disabled, which
// requires an explicit enabled=false.
func (s *GroupSettings) Disabled() bool {
	return s != nil && s.Enabled != nil && !*s.Enabled
}

// AIDisabled reports whether the group's AI override is explicitly false.
func (s *GroupSettings) AIDisabled() bool {
	return s != nil && s.AIEnabled != nil && !*s.AIEnabled
}

// BotStats tracks processed-message counters.
// Day is the local date (2006-01-02) that TodayProcessed belongs to.
type BotStats struct {
	TotalProcessed int64  `json:"total_processed"`
	TodayProcessed int64  `json:"today_processed"`
	Day            string `json:"day"`
}
