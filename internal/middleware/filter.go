package middleware

import (
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/nc-ai-qqbot-go/internal/config"
)

// ContentFilter rejects inbound text by sender blacklist or regex pattern.
// Patterns are compiled once here; invalid ones are logged and dropped so
// a bad pattern can never block messages by itself.
type ContentFilter struct {
	blacklist map[string]struct{}
	patterns  []*regexp.Regexp
	logger    *logrus.Logger
}

// NewContentFilter creates a content filter from configuration.
func NewContentFilter(cfg *config.AccessConfig, logger *logrus.Logger) *ContentFilter {
	blacklist := make(map[string]struct{}, len(cfg.Blacklist))
	for _, id := range cfg.Blacklist {
		blacklist[id] = struct{}{}
	}

	compiled, invalid := config.CompilePatterns(cfg.Patterns)
	for _, p := range invalid {
		logger.WithField("pattern", p).Warn("Invalid filter pattern, skipping")
	}

	return &ContentFilter{
		blacklist: blacklist,
		patterns:  compiled,
		logger:    logger,
	}
}

// IsBlacklisted reports whether the sender identity is blacklisted.
func (f *ContentFilter) IsBlacklisted(userID string) bool {
	_, ok := f.blacklist[userID]
	return ok
}

// Matches returns every configured pattern that matches text. A non-empty
// result blocks the message.
func (f *ContentFilter) Matches(text string) []string {
	var matched []string
	for _, re := range f.patterns {
		if re.MatchString(text) {
			matched = append(matched, re.String())
		}
	}
	return matched
}
