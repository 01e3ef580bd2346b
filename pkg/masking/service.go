// Package masking scrubs secrets out of tool results before they are
// persisted, streamed, or fed back to the model.
package masking

import (
	"log/slog"
	"regexp"

	"github.com/parleyhq/parley/pkg/config"
)

// CompiledPattern holds a pre-compiled regex pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
}

// Service applies pattern-group masking to tool results. Created once at
// startup; thread-safe and stateless aside from compiled patterns.
type Service struct {
	patterns      map[string]*CompiledPattern
	patternGroups map[string][]string
}

// NewService compiles the built-in masking patterns. Invalid patterns are
// logged and skipped so one bad regex cannot disable the rest.
func NewService() *Service {
	builtin := config.GetBuiltinConfig()
	s := &Service{
		patterns:      make(map[string]*CompiledPattern, len(builtin.MaskingPatterns)),
		patternGroups: builtin.PatternGroups,
	}

	for name, pattern := range builtin.MaskingPatterns {
		compiled, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			slog.Error("Failed to compile masking pattern, skipping",
				"pattern", name, "error", err)
			continue
		}
		s.patterns[name] = &CompiledPattern{
			Name:        name,
			Regex:       compiled,
			Replacement: pattern.Replacement,
		}
	}

	slog.Info("Masking service initialized",
		"compiled_patterns", len(s.patterns),
		"pattern_groups", len(s.patternGroups))
	return s
}

// MaskToolResult applies the tool's configured pattern groups to result
// content. Unknown group names are ignored. Empty groups means no masking.
func (s *Service) MaskToolResult(content string, groups []string) string {
	if s == nil || content == "" || len(groups) == 0 {
		return content
	}

	masked := content
	for _, pattern := range s.resolveGroups(groups) {
		masked = pattern.Regex.ReplaceAllString(masked, pattern.Replacement)
	}
	return masked
}

// resolveGroups expands group names into a deduplicated pattern list.
func (s *Service) resolveGroups(groups []string) []*CompiledPattern {
	seen := make(map[string]bool)
	resolved := make([]*CompiledPattern, 0, 8)
	for _, groupName := range groups {
		for _, name := range s.patternGroups[groupName] {
			if seen[name] {
				continue
			}
			seen[name] = true
			if cp, ok := s.patterns[name]; ok {
				resolved = append(resolved, cp)
			}
		}
	}
	return resolved
}
