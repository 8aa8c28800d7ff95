package notifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// Filter decides whether a log message merits a notification
type Filter struct {
	excluded []glob.Glob
	included *regexp.Regexp
	blocked  *regexp.Regexp
}

// NewFilter compiles the filter. excludedLogGroups are glob patterns ('/' separated) over log group
// names, includedTerms and blockedStrings are regular expressions; includedTerms match case-insensitively.
// With no included terms nothing matches.
func NewFilter(excludedLogGroups, includedTerms, blockedStrings []string) (*Filter, error) {
	f := &Filter{}
	for _, pattern := range excludedLogGroups {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid excluded log group pattern %q: %w", pattern, err)
		}
		f.excluded = append(f.excluded, g)
	}

	var err error
	if len(includedTerms) > 0 {
		if f.included, err = regexp.Compile("(?i)" + alternation(includedTerms)); err != nil {
			return nil, fmt.Errorf("invalid included terms: %w", err)
		}
	}
	if len(blockedStrings) > 0 {
		if f.blocked, err = regexp.Compile(alternation(blockedStrings)); err != nil {
			return nil, fmt.Errorf("invalid blocked strings: %w", err)
		}
	}
	return f, nil
}

func alternation(terms []string) string {
	grouped := make([]string, len(terms))
	for i, t := range terms {
		grouped[i] = "(?:" + t + ")"
	}
	return strings.Join(grouped, "|")
}

// Matches returns true if logGroup is not excluded, message contains an included term
// and message contains no blocked string
func (f *Filter) Matches(message, logGroup string) bool {
	if f.included == nil || f.isExcluded(logGroup) {
		return false
	}
	if !f.included.MatchString(message) {
		return false
	}
	return f.blocked == nil || !f.blocked.MatchString(message)
}

func (f *Filter) isExcluded(logGroup string) bool {
	for _, g := range f.excluded {
		if g.Match(logGroup) {
			return true
		}
	}
	return false
}
