// Package model contains domain models passed between layers.
package model

import (
	"fmt"
	"strings"
)

// Category tags an entity with the upstream collection it came from.
type Category string

// Known categories. Standings are derived during a sync cycle and never fetched.
const (
	Players   Category = "players"
	Teams     Category = "teams"
	Gameweeks Category = "gameweeks"
	Fixtures  Category = "fixtures"
	Standings Category = "standings"
)

// FetchedCategories returns the default set of categories pulled from upstream.
func FetchedCategories() []Category {
	return []Category{Players, Teams, Gameweeks, Fixtures}
}

// AllCategories returns every category a snapshot may contain.
func AllCategories() []Category {
	return []Category{Players, Teams, Gameweeks, Fixtures, Standings}
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllCategories() {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Derived reports whether the category is computed rather than fetched.
func (c Category) Derived() bool {
	return c == Standings
}

func (c Category) String() string { return string(c) }
