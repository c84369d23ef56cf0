package interlock

import (
	"math"

	"golang.org/x/exp/slices"
)

// SetOccupied marks rt as occupying the section from distanceTravelled on, and schedules the
// distance at which the section can be cleared again.
func (s *Section) SetOccupied(rt RoutedTrain, distanceTravelled float64) {
	if !rt.Valid() {
		return
	}
	n := rt.Number()
	st := &s.state
	dir := rt.Train.Front.Direction
	if e, i := s.routeElement(rt); i != -1 {
		dir = e.Direction
	}
	if st.ReservedByOther(n) {
		s.env.log.Warnw("occupied while reserved by another train",
			"section", s.Index, "train", n, "holder", st.reserved.Number())
	}
	st.reserved = nil
	st.signalReserved = -1
	st.claims.Remove(n)
	st.preReserves.Remove(n)
	st.occupy(rt, dir)

	t := rt.Train
	d := distanceTravelled + s.Length + s.clearingOverlap() + t.Length
	if k := len(t.clearing); k > 0 && t.clearing[k-1].Distance > d {
		d = t.clearing[k-1].Distance
	}
	t.clearing = slices.DeleteFunc(t.clearing, func(c clearing) bool { return c.Section == s.Index })
	t.clearing = append(t.clearing, clearing{Section: s.Index, Distance: d})
}

func (s *Section) clearingOverlap() float64 {
	cfg := s.env.cfg
	o := cfg.StandardOverlap
	if s.Type.Switchable() {
		jo := s.Overlap
		if jo <= 0 {
			jo = cfg.JunctionOverlap
		}
		o = math.Max(o, jo)
	}
	return math.Max(o, cfg.ClearanceDistance)
}

// ClearOccupied removes rt from the section. If resetEndSignal, signals on the section still
// enabled for rt are reset.
func (s *Section) ClearOccupied(rt RoutedTrain, resetEndSignal bool) {
	if !rt.Valid() {
		return
	}
	n := rt.Number()
	st := &s.state
	st.vacate(n)
	rt.Train.clearing = slices.DeleteFunc(rt.Train.clearing, func(c clearing) bool { return c.Section == s.Index })

	if resetEndSignal {
		for d := 0; d < 2; d++ {
			if si := s.endSignals[d]; si >= 0 && s.env.Signals[si].enabledFor(n) {
				s.env.Signals[si].resetSignalEnabled()
			}
			for fn := range s.items[d] {
				for _, si := range s.items[d][fn] {
					if s.env.Signals[si].enabledFor(n) {
						s.env.Signals[si].resetSignalEnabled()
					}
				}
			}
		}
	}

	if !st.Occupied() {
		if st.reserved == nil {
			s.deAlign()
		}
		if head, ok := st.preReserves.Peek(); ok && st.reserved == nil {
			st.preReserves.Dequeue()
			s.Reserve(head, head.Route())
		}
	}
	s.ClearDeadlockTrap(n)
	for _, area := range s.env.registry.ReleaseAt(s.Index, n) {
		s.env.log.Debugf("train %d left deadlock area %d", n, area)
	}
}

// TestTrainAhead returns the closest train other than t that is ahead of (or at) offset, looking
// in direction, together with the distance to it. offset is measured from the entry in direction.
func (s *Section) TestTrainAhead(t *Train, offset float64, direction int) (*Train, float64, bool) {
	var found *Train
	best := math.Inf(1)
	for _, o := range s.state.occupied {
		if o.Train == t || (t != nil && o.Number() == t.Number) {
			continue
		}
		lo, hi := s.extent(o.Train)
		if direction == 1 {
			lo, hi = s.Length-hi, s.Length-lo
		}
		if hi < offset {
			continue
		}
		d := math.Max(lo-offset, 0)
		if d < best {
			best, found = d, o.Train
		}
	}
	return found, best, found != nil
}

// extent returns the part of the section t covers, measured from the direction-0 entry.
func (s *Section) extent(t *Train) (lo, hi float64) {
	lo, hi = 0, s.Length
	coord := func(p Position) float64 {
		if p.Direction == 0 {
			return p.Offset
		}
		return s.Length - p.Offset
	}
	front, rear := t.Front.Section == s.Index, t.Rear.Section == s.Index
	switch {
	case front && rear:
		a, b := coord(t.Front), coord(t.Rear)
		return math.Min(a, b), math.Max(a, b)
	case front:
		if t.Front.Direction == 0 {
			return 0, coord(t.Front)
		}
		return coord(t.Front), s.Length
	case rear:
		if t.Rear.Direction == 0 {
			return coord(t.Rear), s.Length
		}
		return 0, coord(t.Rear)
	}
	return
}
