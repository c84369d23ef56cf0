package layout

import (
	"errors"
	"fmt"
)

var ErrPinTaken = errors.New("pin already connected")

// StraightLine returns a plain section of the given length.
func StraightLine(comment string, length float64) Section {
	return NewSection(comment, CircuitNormal, length)
}

// Turnout returns a junction section. Its switch side is decided by how it is joined.
func Turnout(comment string, length, overlap float64) Section {
	s := NewSection(comment, CircuitJunction, length)
	s.Overlap = overlap
	return s
}

// Connect lays sections out end to end in direction 0.
func Connect(sections []Section) (Layout, error) {
	y := Layout{Sections: make([]Section, 0, len(sections))}
	for _, s := range sections {
		if s.Pins == ([2][2]Pin{}) {
			s.Pins = [2][2]Pin{{NoPin, NoPin}, {NoPin, NoPin}}
		}
		y.Sections = append(y.Sections, s)
	}
	for i := 1; i < len(y.Sections); i++ {
		if err := y.Join(i-1, 0, 0, i, 0, 0); err != nil {
			return Layout{}, fmt.Errorf("connecting %d-%d: %w", i-1, i, err)
		}
	}
	return y, nil
}

// Add appends a section and returns its index.
func (y *Layout) Add(s Section) int {
	if s.Pins == ([2][2]Pin{}) {
		s.Pins = [2][2]Pin{{NoPin, NoPin}, {NoPin, NoPin}}
	}
	y.Sections = append(y.Sections, s)
	return len(y.Sections) - 1
}

// Join links section a (left travelling in da, through pin pa) to section b (entered travelling in db).
// The back-link is stored on b's pin pb for direction 1-db.
func (y *Layout) Join(a, da, pa, b, db, pb int) error {
	y.checkSection(a)
	y.checkSection(b)
	if pa < 0 || pa > 1 || pb < 0 || pb > 1 {
		return fmt.Errorf("pin %d/%d out of range", pa, pb)
	}
	sa, sb := &y.Sections[a], &y.Sections[b]
	if sa.Pins[da][pa].Connected() {
		return fmt.Errorf("s%d d%d p%d (%s): %w", a, da, pa, sa.Comment, ErrPinTaken)
	}
	if sb.Pins[1-db][pb].Connected() {
		return fmt.Errorf("s%d d%d p%d (%s): %w", b, 1-db, pb, sb.Comment, ErrPinTaken)
	}
	if (pa == 1 && !sa.Type.Switchable()) || (pb == 1 && !sb.Type.Switchable()) {
		return errors.New("only junctions and crossovers have a second pin")
	}
	sa.Pins[da][pa] = Pin{Link: b, Direction: db}
	sb.Pins[1-db][pb] = Pin{Link: a, Direction: 1 - da}
	return nil
}

// MustJoin is Join but panics on error. For presets and tests.
func (y *Layout) MustJoin(a, da, pa, b, db, pb int) {
	if err := y.Join(a, da, pa, b, db, pb); err != nil {
		panic(err)
	}
}

// Check verifies that every connected pin is reciprocated by its neighbour.
func (y *Layout) Check() error {
	var errs []error
	for si, s := range y.Sections {
		for d := 0; d < 2; d++ {
			for k := 0; k < 2; k++ {
				p := s.Pins[d][k]
				if !p.Connected() {
					continue
				}
				if p.Link >= len(y.Sections) {
					errs = append(errs, fmt.Errorf("s%d d%d p%d: link %d out of range", si, d, k, p.Link))
					continue
				}
				if !y.backLinked(si, d, p) {
					errs = append(errs, fmt.Errorf("s%d d%d p%d: %s does not link back", si, d, k, p))
				}
			}
		}
	}
	return errors.Join(errs...)
}

func (y *Layout) backLinked(si, d int, p Pin) bool {
	other := y.Sections[p.Link]
	if p.Direction < 0 || p.Direction > 1 {
		return false
	}
	for _, q := range other.Pins[1-p.Direction] {
		if q.Link == si && q.Direction == 1-d {
			return true
		}
	}
	return false
}

func (y *Layout) countLength() float64 {
	var sum float64
	for _, s := range y.Sections {
		sum += s.Length
	}
	return sum
}
