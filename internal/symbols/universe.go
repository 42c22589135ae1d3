package symbols

import (
	"sort"

	"spreadwatch/internal/model"
)

// Universe is the reconciled, immutable set of canonical symbols and their
// per-venue native aliases.
type Universe struct {
	symbols []string
	venues  []model.Venue
	native  map[string]map[model.Venue]string
}

// Symbols returns the canonical symbols in sorted order.
func (u *Universe) Symbols() []string {
	return append([]string(nil), u.symbols...)
}

// Venues returns the venues that took part in reconciliation.
func (u *Universe) Venues() []model.Venue {
	return append([]model.Venue(nil), u.venues...)
}

// Len returns the number of canonical symbols.
func (u *Universe) Len() int {
	return len(u.symbols)
}

// Contains reports whether canonical is part of the universe.
func (u *Universe) Contains(canonical string) bool {
	_, ok := u.native[canonical]
	return ok
}

// Native returns the symbol venue uses for canonical.
func (u *Universe) Native(canonical string, venue model.Venue) (string, bool) {
	s, ok := u.native[canonical][venue]
	return s, ok
}

// Aliases returns venue to native symbol for canonical.
func (u *Universe) Aliases(canonical string) map[model.Venue]string {
	aliases := u.native[canonical]
	out := make(map[model.Venue]string, len(aliases))
	for v, s := range aliases {
		out[v] = s
	}
	return out
}

// ForVenue returns native to canonical symbol for every symbol venue carries.
func (u *Universe) ForVenue(venue model.Venue) map[string]string {
	out := make(map[string]string)
	for canonical, aliases := range u.native {
		if s, ok := aliases[venue]; ok {
			out[s] = canonical
		}
	}
	return out
}

// VenuesFor returns the sorted venues carrying canonical.
func (u *Universe) VenuesFor(canonical string) []model.Venue {
	aliases := u.native[canonical]
	out := make([]model.Venue, 0, len(aliases))
	for v := range aliases {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
