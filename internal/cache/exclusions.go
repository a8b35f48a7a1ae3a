package cache

import (
	"fmt"
	"regexp"

	"github.com/HarshitKumar9030/jetvein/internal/flights"
)

// ExclusionList decides whether a flight must bypass the cache, for example
// flights whose status changes faster than FlightTTL. Rules match the
// normalized flight number:
//
//   - Exact: the number equals the rule after normalization.
//   - Pattern: the number matches a compiled regexp, e.g. `^6E`.
//
// A nil *ExclusionList matches nothing.
type ExclusionList struct {
	exact    map[string]struct{}
	patterns []*regexp.Regexp
}

// NewExclusionList compiles exact flight numbers and regex patterns. An
// invalid pattern is an error so misconfiguration fails startup.
func NewExclusionList(exact, patterns []string) (*ExclusionList, error) {
	el := &ExclusionList{
		exact: make(map[string]struct{}, len(exact)),
	}

	for _, e := range exact {
		if n := flights.NormalizeNumber(e); n != "" {
			el.exact[n] = struct{}{}
		}
	}

	for _, p := range patterns {
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("cache: invalid exclusion pattern %q: %w", p, err)
		}
		el.patterns = append(el.patterns, re)
	}

	return el, nil
}

// Matches reports whether number is excluded from caching.
func (el *ExclusionList) Matches(number string) bool {
	if el == nil {
		return false
	}
	n := flights.NormalizeNumber(number)
	if _, ok := el.exact[n]; ok {
		return true
	}
	for _, re := range el.patterns {
		if re.MatchString(n) {
			return true
		}
	}
	return false
}

// Len returns the number of rules.
func (el *ExclusionList) Len() int {
	if el == nil {
		return 0
	}
	return len(el.exact) + len(el.patterns)
}
