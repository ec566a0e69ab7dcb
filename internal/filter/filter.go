package filter

import (
	"fmt"

	"github.com/gobwas/glob"

	"github.com/wtthornton/HomeIQ-sub012/internal/domain"
)

// EntityFilter decides which events are admitted into the pipeline based
// on glob patterns matched against the entity ID and its domain. The
// filter is stateless and safe for concurrent use.
type EntityFilter struct {
	include []glob.Glob
	exclude []glob.Glob
}

// New compiles the include and exclude patterns. An invalid pattern is a
// configuration error and fails construction.
func New(includePatterns, excludePatterns []string) (*EntityFilter, error) {
	include, err := compile(includePatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid include pattern: %w", err)
	}

	exclude, err := compile(excludePatterns)
	if err != nil {
		return nil, fmt.Errorf("invalid exclude pattern: %w", err)
	}

	return &EntityFilter{include: include, exclude: exclude}, nil
}

// ShouldInclude reports whether the event passes the configured patterns.
// Events without an entity ID are always rejected. Exclusions win over
// inclusions; with no include patterns configured everything not excluded
// is admitted.
func (f *EntityFilter) ShouldInclude(event domain.Event) bool {
	if event.EntityID == "" {
		return false
	}

	for _, g := range f.exclude {
		if g.Match(event.EntityID) || g.Match(event.Domain) {
			return false
		}
	}

	if len(f.include) == 0 {
		return true
	}

	for _, g := range f.include {
		if g.Match(event.EntityID) || g.Match(event.Domain) {
			return true
		}
	}

	return false
}

func compile(patterns []string) ([]glob.Glob, error) {
	if len(patterns) == 0 {
		return nil, nil
	}

	compiled := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", p, err)
		}
		compiled = append(compiled, g)
	}
	return compiled, nil
}
