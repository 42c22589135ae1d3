package aggregate

import (
	"maps"

	"spreadwatch/internal/model"
)

// ring is a fixed-capacity FIFO of history points.
type ring struct {
	buf   []model.HistoryPoint
	start int
	n     int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]model.HistoryPoint, capacity)}
}

// push appends p, evicting the oldest point when full.
func (r *ring) push(p model.HistoryPoint) {
	if r.n < len(r.buf) {
		r.buf[(r.start+r.n)%len(r.buf)] = p
		r.n++
		return
	}
	r.buf[r.start] = p
	r.start = (r.start + 1) % len(r.buf)
}

// points returns the points oldest first.
func (r *ring) points() []model.HistoryPoint {
	out := make([]model.HistoryPoint, r.n)
	for i := 0; i < r.n; i++ {
		p := r.buf[(r.start+i)%len(r.buf)]
		p.Prices = maps.Clone(p.Prices)
		if p.Spread != nil {
			spread := *p.Spread
			p.Spread = &spread
		}
		out[i] = p
	}
	return out
}

func (r *ring) len() int {
	return r.n
}

func (r *ring) reset() {
	clear(r.buf)
	r.start, r.n = 0, 0
}
