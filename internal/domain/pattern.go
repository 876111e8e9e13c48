package domain

import (
	"fmt"
	"regexp"
)

// AllowDenyPattern filters names by regex. Deny rules win over allow rules;
// an empty allow list allows everything. The destination filter applies one
// pattern to the dataset component and one to the table component
// independently.
type AllowDenyPattern struct {
	allow []*regexp.Regexp
	deny  []*regexp.Regexp
}

// NewAllowDenyPattern compiles the given regex lists. Pass nil allow for
// allow-all semantics.
func NewAllowDenyPattern(allow, deny []string) (*AllowDenyPattern, error) {
	p := &AllowDenyPattern{}
	for _, expr := range allow {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile allow pattern %q: %w", expr, err)
		}
		p.allow = append(p.allow, re)
	}
	for _, expr := range deny {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile deny pattern %q: %w", expr, err)
		}
		p.deny = append(p.deny, re)
	}
	return p, nil
}

// AllowAll returns a pattern that accepts every name.
func AllowAll() *AllowDenyPattern {
	return &AllowDenyPattern{}
}

// Allowed reports whether name passes the filter.
func (p *AllowDenyPattern) Allowed(name string) bool {
	for _, re := range p.deny {
		if re.MatchString(name) {
			return false
		}
	}
	if len(p.allow) == 0 {
		return true
	}
	for _, re := range p.allow {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}
