package interlock

// run is a stretch both trains need in opposite directions. entry and boundary are the first and
// last sections of the stretch in the first train's direction.
type run struct {
	entry, boundary int
}

// CheckDeadlock recomputes the deadlock traps between t and every other registered train from the
// routes ahead of them. Traps for sections a train already holds are installed right away.
func (e *Environment) CheckDeadlock(t *Train) {
	if t == nil {
		return
	}
	n := t.Number
	for _, refs := range t.deadlockInfo {
		for _, ref := range refs {
			if b, ok := e.boundary(ref); ok {
				b.removeTrap(n, ref.Train)
			}
		}
	}
	t.deadlockInfo = map[int][]trapRef{}
	others := e.Trains()
	for _, o := range others {
		if o == t {
			continue
		}
		for entry, refs := range o.deadlockInfo {
			for _, ref := range refs {
				if b, ok := e.boundary(ref); ok && ref.Train == n {
					b.removeTrap(o.Number, n)
				}
			}
			if refs = removeRefs(refs, n); len(refs) == 0 {
				delete(o.deadlockInfo, entry)
			} else {
				o.deadlockInfo[entry] = refs
			}
		}
	}

	ahead := routeAhead(t)
	for _, o := range others {
		if o == t {
			continue
		}
		if o.deadlockInfo == nil {
			o.deadlockInfo = map[int][]trapRef{}
		}
		for _, r := range e.opposingRuns(ahead, routeAhead(o)) {
			t.deadlockInfo[r.entry] = append(t.deadlockInfo[r.entry], trapRef{Train: o.Number, Boundary: r.boundary})
			o.deadlockInfo[r.boundary] = append(o.deadlockInfo[r.boundary], trapRef{Train: n, Boundary: r.entry})
			if e.Sections[r.entry].takenBy(n) {
				e.Sections[r.boundary].trapAgainst(n, o.Number)
			}
			if e.Sections[r.boundary].takenBy(o.Number) {
				e.Sections[r.entry].trapAgainst(o.Number, n)
			}
			e.log.Debugf("trains %d and %d meet on s%d..s%d", n, o.Number, r.entry, r.boundary)
		}
	}
}

// boundary returns the section a trap ref points at. Refs restored from a save may not fit the layout.
func (e *Environment) boundary(ref trapRef) (*Section, bool) {
	if ref.Boundary < 0 || ref.Boundary >= len(e.Sections) {
		return nil, false
	}
	return e.Sections[ref.Boundary], true
}

func routeAhead(t *Train) Route {
	r := t.activeRoute()
	i := t.Front.RouteIndex + 1
	if i < 0 {
		i = 0
	}
	if i > len(r) {
		return nil
	}
	return r[i:]
}

// opposingRuns finds the stretches a and b share in opposite directions. A lone junction is left
// out since trains can pass each other there.
func (e *Environment) opposingRuns(a, b Route) []run {
	var runs []run
	for i := 0; i < len(a); i++ {
		j := -1
		for k := len(b) - 1; k >= 0; k-- {
			if b[k].Section == a[i].Section && b[k].Direction != a[i].Direction {
				j = k
				break
			}
		}
		if j == -1 {
			continue
		}
		m := 0
		for i+m+1 < len(a) && j-m-1 >= 0 &&
			a[i+m+1].Section == b[j-m-1].Section && a[i+m+1].Direction != b[j-m-1].Direction {
			m++
		}
		if m == 0 && e.Sections[a[i].Section].Type.Switchable() {
			continue
		}
		runs = append(runs, run{entry: a[i].Section, boundary: a[i+m].Section})
		i += m
	}
	return runs
}

// trapAgainst keeps victim out unless it already holds the section.
func (s *Section) trapAgainst(blocker, victim int) {
	if s.takenBy(victim) || s.state.OccupiedBy(victim) {
		return
	}
	s.SetDeadlockTrap(blocker, []int{victim})
}

// takenBy reports whether train n reserved or claimed the section.
func (s *Section) takenBy(n int) bool {
	return s.state.ReservedBy(n) || s.state.claims.index(n) != -1
}
