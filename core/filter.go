package nested

import (
	"fmt"
	"iter"
	"strings"

	"github.com/woozymasta/pathrules"
)

// EntryFilter selects entries by name with gitignore-style include and
// exclude patterns. The last matching pattern decides. With no include
// patterns every entry starts included.
type EntryFilter struct {
	matcher *pathrules.Matcher
}

// NewEntryFilter compiles the patterns. Include patterns are applied before
// exclude patterns.
func NewEntryFilter(include, exclude []string) (*EntryFilter, error) {
	rules := make([]pathrules.Rule, 0, len(include)+len(exclude))
	for _, p := range include {
		if p = strings.TrimSpace(p); p != "" {
			rules = append(rules, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: p})
		}
	}
	def := pathrules.ActionInclude
	if len(rules) > 0 {
		def = pathrules.ActionExclude
	}
	for _, p := range exclude {
		if p = strings.TrimSpace(p); p != "" {
			rules = append(rules, pathrules.Rule{Action: pathrules.ActionExclude, Pattern: p})
		}
	}
	if len(rules) == 0 {
		return &EntryFilter{}, nil
	}
	m, err := pathrules.NewMatcher(rules, pathrules.MatcherOptions{DefaultAction: def})
	if err != nil {
		return nil, fmt.Errorf("compile entry filter: %w", err)
	}
	return &EntryFilter{matcher: m}, nil
}

// Match reports whether e passes the filter. A nil filter passes everything.
func (f *EntryFilter) Match(e Entry) bool {
	if f == nil || f.matcher == nil {
		return true
	}
	return f.matcher.Included(strings.TrimSuffix(e.Name, "/"), e.IsDir())
}

// FilterEntries yields the entries of seq that pass f.
func FilterEntries(seq iter.Seq[Entry], f *EntryFilter) iter.Seq[Entry] {
	return func(yield func(Entry) bool) {
		for e := range seq {
			if f.Match(e) && !yield(e) {
				return
			}
		}
	}
}
