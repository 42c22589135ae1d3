package aggregate

import (
	"sort"

	"spreadwatch/internal/model"
)

// CalculateSpread compares the highest and lowest venue price, as a percentage
// of the lowest. Non-positive prices count as missing. It returns nil unless
// at least two venues have a price.
func CalculateSpread(prices map[model.Venue]float64) *model.SpreadInfo {
	venues := make([]model.Venue, 0, len(prices))
	for v, p := range prices {
		if p > 0 {
			venues = append(venues, v)
		}
	}
	if len(venues) < 2 {
		return nil
	}
	sort.Slice(venues, func(i, j int) bool { return venues[i] < venues[j] })

	high, low := venues[0], venues[0]
	for _, v := range venues[1:] {
		if prices[v] > prices[high] {
			high = v
		}
		if prices[v] < prices[low] {
			low = v
		}
	}

	hp, lp := prices[high], prices[low]
	info := &model.SpreadInfo{
		Value:     (hp - lp) / lp * 100,
		Direction: model.DirectionEqual,
	}
	if hp > lp {
		info.Direction = model.HigherDirection(high)
	}
	return info
}

// Extremes returns the highest and lowest priced venues.
func Extremes(prices map[model.Venue]float64) (high, low model.Venue, ok bool) {
	for v, p := range prices {
		if p <= 0 {
			continue
		}
		if !ok {
			high, low, ok = v, v, true
			continue
		}
		if p > prices[high] || (p == prices[high] && v < high) {
			high = v
		}
		if p < prices[low] || (p == prices[low] && v < low) {
			low = v
		}
	}
	return high, low, ok
}
