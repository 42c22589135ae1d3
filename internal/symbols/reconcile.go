package symbols

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"spreadwatch/internal/model"
)

// Mode selects how venue universes are combined.
type Mode string

const (
	// ModeIntersection keeps symbols listed on at least two venues.
	ModeIntersection Mode = "intersection"
	// ModeFallback behaves like ModeIntersection while two or more venues are
	// live, and keeps every symbol of the only live venue otherwise.
	ModeFallback Mode = "fallback"
)

// ErrNoVenues is returned when no venue reported a symbol list.
var ErrNoVenues = errors.New("no live venues to reconcile")

// ConfigurationError reports a normalization rule that maps two native
// symbols of one venue onto the same canonical symbol.
type ConfigurationError struct {
	Venue     model.Venue
	Canonical string
	Natives   []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("venue %s: symbols %s all normalize to %q",
		e.Venue, strings.Join(e.Natives, ", "), e.Canonical)
}

// Rule maps a venue-native symbol to its canonical form.
type Rule struct {
	TrimPrefix string
	TrimSuffix string
	Case       string // "", "upper" or "lower"
}

// Normalize applies the rule to a native symbol.
func (r Rule) Normalize(native string) string {
	s := strings.TrimSpace(native)
	s = strings.TrimPrefix(s, r.TrimPrefix)
	s = strings.TrimSuffix(s, r.TrimSuffix)
	switch r.Case {
	case "upper":
		s = strings.ToUpper(s)
	case "lower":
		s = strings.ToLower(s)
	}
	return s
}

// VenueSymbols is one venue's native universe together with its rule.
type VenueSymbols struct {
	Venue   model.Venue
	Rule    Rule
	Symbols []string
}

// Reconcile computes the canonical universe across venues.
func Reconcile(mode Mode, venues []VenueSymbols) (*Universe, error) {
	if mode != ModeIntersection && mode != ModeFallback {
		return nil, fmt.Errorf("unknown reconcile mode %q", mode)
	}
	if len(venues) == 0 {
		return nil, ErrNoVenues
	}

	u := &Universe{native: make(map[string]map[model.Venue]string)}
	seen := make(map[model.Venue]bool, len(venues))
	for _, v := range venues {
		if seen[v.Venue] {
			return nil, fmt.Errorf("venue %s listed twice", v.Venue)
		}
		seen[v.Venue] = true
		u.venues = append(u.venues, v.Venue)

		table, err := normalizeVenue(v)
		if err != nil {
			return nil, err
		}
		for canonical, native := range table {
			if u.native[canonical] == nil {
				u.native[canonical] = make(map[model.Venue]string)
			}
			u.native[canonical][v.Venue] = native
		}
	}
	sort.Slice(u.venues, func(i, j int) bool { return u.venues[i] < u.venues[j] })

	minVenues := 2
	if mode == ModeFallback && len(venues) == 1 {
		minVenues = 1
	}
	for canonical, aliases := range u.native {
		if len(aliases) < minVenues {
			delete(u.native, canonical)
			continue
		}
		u.symbols = append(u.symbols, canonical)
	}
	sort.Strings(u.symbols)
	return u, nil
}

// normalizeVenue maps canonical to native symbols for one venue, rejecting
// rules that are not injective.
func normalizeVenue(v VenueSymbols) (map[string]string, error) {
	table := make(map[string]string, len(v.Symbols))
	for _, native := range v.Symbols {
		canonical := v.Rule.Normalize(native)
		if canonical == "" {
			continue
		}
		if prev, ok := table[canonical]; ok {
			if prev == native {
				continue
			}
			natives := []string{prev, native}
			sort.Strings(natives)
			return nil, &ConfigurationError{Venue: v.Venue, Canonical: canonical, Natives: natives}
		}
		table[canonical] = native
	}
	return table, nil
}
