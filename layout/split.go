package layout

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// SplitAtSignals splits sections wherever a normal signal is not placed at a section end, so that
// every normal signal sits on a section boundary afterwards.
// A signal at offset 0 is moved to the end of the section behind it instead.
// New sections are appended; existing indices stay valid.
func (y *Layout) SplitAtSignals() error {
	for changed := true; changed; {
		changed = false
		for i := range y.Signals {
			sig := &y.Signals[i]
			if !sig.HasFunction(FunctionNormal) || sig.Section < 0 || sig.Section >= len(y.Sections) {
				continue
			}
			s := &y.Sections[sig.Section]
			switch {
			case nearlyEqual(sig.Offset, s.Length):
				continue
			case sig.Offset <= lengthEpsilon:
				back := s.Pins[1-sig.Direction][0]
				if !back.Connected() {
					continue
				}
				sig.Section = back.Link
				sig.Direction = 1 - back.Direction
				sig.Offset = y.Sections[back.Link].Length
				changed = true
			case sig.Offset < s.Length:
				x := sig.Offset
				if sig.Direction == 1 {
					x = s.Length - sig.Offset
				}
				if _, err := y.Split(sig.Section, x); err != nil {
					return fmt.Errorf("signal %d (%s): %w", i, sig.Comment, err)
				}
				changed = true
			default:
				return fmt.Errorf("signal %d (%s): offset %.1f beyond section length %.1f", i, sig.Comment, sig.Offset, s.Length)
			}
		}
	}
	return nil
}

// Split cuts section si at x metres from its direction-0 entry. The part beyond x becomes a new
// section, returned as n, which lies ahead of si in direction 0.
// Signals, speed posts, platforms, tunnels and deadlock area paths are carried over.
func (y *Layout) Split(si int, x float64) (n int, err error) {
	y.checkSection(si)
	s := y.Sections[si]
	if x <= lengthEpsilon || x >= s.Length-lengthEpsilon {
		return -1, fmt.Errorf("split of s%d at %.1f outside (0, %.1f)", si, x, s.Length)
	}
	if s.Type == CircuitCrossover {
		return -1, fmt.Errorf("s%d (%s): crossovers can't be split", si, s.Comment)
	}
	n = len(y.Sections)
	ns := NewSection(s.Comment+"+", CircuitNormal, s.Length-x)
	ns.Pins[0] = s.Pins[0]
	ns.Pins[1] = [2]Pin{{Link: si, Direction: 1}, NoPin}
	if s.SwitchDirection() == 0 {
		ns.Type, ns.Overlap, ns.DefaultRoute = s.Type, s.Overlap, s.DefaultRoute
		s.Type, s.Overlap, s.DefaultRoute = CircuitNormal, 0, 0
	}
	old := s.Pins[0]
	s.Pins[0] = [2]Pin{{Link: n, Direction: 0}, NoPin}
	s.Length = x
	y.Sections[si] = s
	y.Sections = append(y.Sections, ns)

	// neighbours ahead now link back to n
	for _, p := range old {
		if !p.Connected() {
			continue
		}
		back := &y.Sections[p.Link].Pins[1-p.Direction]
		for k := range back {
			if back[k].Link == si && back[k].Direction == 1 {
				back[k].Link = n
			}
		}
	}

	full := s.Length + ns.Length
	move := func(section, direction *int, offset *float64) {
		if *section != si {
			return
		}
		if *direction == 0 {
			if *offset > x+lengthEpsilon {
				*section = n
				*offset -= x
			}
			return
		}
		if full-*offset >= x-lengthEpsilon {
			*section = n
		} else {
			*offset -= full - x
		}
	}
	for i := range y.Signals {
		sig := &y.Signals[i]
		move(&sig.Section, &sig.Direction, &sig.Offset)
	}
	for i := range y.SpeedPosts {
		sp := &y.SpeedPosts[i]
		move(&sp.Section, &sp.Direction, &sp.Offset)
	}
	for i := range y.Platforms {
		if slices.Contains(y.Platforms[i].Sections, si) {
			y.Platforms[i].Sections = append(y.Platforms[i].Sections, n)
		}
	}
	for i := range y.Tunnels {
		if slices.Contains(y.Tunnels[i].Sections, si) {
			y.Tunnels[i].Sections = append(y.Tunnels[i].Sections, n)
		}
	}
	for ai := range y.DeadlockAreas {
		a := &y.DeadlockAreas[ai]
		if a.Start == si && a.Direction == 0 && ns.Type.Switchable() {
			a.Start = n
		}
		for pi := range a.Paths {
			p := &a.Paths[pi]
			for j := 0; j < len(p.Elements); j++ {
				e := p.Elements[j]
				if e.Section != si {
					continue
				}
				if e.Direction == 0 {
					p.Elements = slices.Insert(p.Elements, j+1, Element{Section: n, Direction: 0})
				} else {
					p.Elements = slices.Insert(p.Elements, j, Element{Section: n, Direction: 1})
				}
				j++
			}
		}
	}
	return n, nil
}
