package interlock

import "golang.org/x/exp/slices"

// CircuitState is the occupation and reservation state of a section.
type CircuitState struct {
	occupied []Occupation
	reserved *RoutedTrain
	// signalReserved is the signal holding the section for a train not yet under its control, or -1.
	signalReserved int
	claims         Queue
	preReserves    Queue
	// forced is set when a dispatcher threw the switch while it was reserved.
	forced bool
}

// Occupation is a train occupying a section, running in Direction over it.
type Occupation struct {
	RoutedTrain
	Direction int
}

func newCircuitState() CircuitState {
	return CircuitState{signalReserved: -1}
}

func (c *CircuitState) Occupied() bool { return len(c.occupied) > 0 }

func (c *CircuitState) OccupiedBy(number int) bool {
	return slices.IndexFunc(c.occupied, func(o Occupation) bool { return o.Number() == number }) != -1
}

// OccupiedByOther reports whether another train occupies the section.
func (c *CircuitState) OccupiedByOther(number int) bool {
	return slices.IndexFunc(c.occupied, func(o Occupation) bool { return o.Number() != number }) != -1
}

// OccupiedDirection returns the direction trains other than number run in, or -1.
func (c *CircuitState) OccupiedDirection(number int) int {
	for _, o := range c.occupied {
		if o.Number() != number {
			return o.Direction
		}
	}
	return -1
}

func (c *CircuitState) Occupants() []Occupation { return slices.Clone(c.occupied) }

func (c *CircuitState) Reserved() (RoutedTrain, bool) {
	if c.reserved == nil {
		return RoutedTrain{}, false
	}
	return *c.reserved, true
}

func (c *CircuitState) ReservedBy(number int) bool {
	return c.reserved != nil && c.reserved.Number() == number
}

func (c *CircuitState) ReservedByOther(number int) bool {
	return c.reserved != nil && c.reserved.Number() != number
}

func (c *CircuitState) SignalReserved() int { return c.signalReserved }

func (c *CircuitState) Claims() []RoutedTrain { return c.claims.Items() }

func (c *CircuitState) PreReserves() []RoutedTrain { return c.preReserves.Items() }

// ClaimedByOther reports whether another train heads the claim queue.
func (c *CircuitState) ClaimedByOther(number int) bool {
	head, ok := c.claims.Peek()
	return ok && head.Number() != number
}

func (c *CircuitState) Forced() bool { return c.forced }

// Free reports whether nothing holds the section.
func (c *CircuitState) Free() bool {
	return len(c.occupied) == 0 && c.reserved == nil && c.signalReserved < 0 && c.claims.Len() == 0
}

func (c *CircuitState) reserve(rt RoutedTrain) {
	c.reserved = &rt
	c.claims.Remove(rt.Number())
	c.preReserves.Remove(rt.Number())
}

func (c *CircuitState) unreserve(number int) bool {
	if c.reserved == nil || c.reserved.Number() != number {
		return false
	}
	c.reserved = nil
	return true
}

func (c *CircuitState) occupy(rt RoutedTrain, direction int) {
	if !c.OccupiedBy(rt.Number()) {
		c.occupied = append(c.occupied, Occupation{RoutedTrain: rt, Direction: direction})
	}
}

func (c *CircuitState) vacate(number int) {
	c.occupied = slices.DeleteFunc(c.occupied, func(o Occupation) bool { return o.Number() == number })
}

// forget drops every trace of the train.
func (c *CircuitState) forget(number int) {
	c.vacate(number)
	c.unreserve(number)
	c.claims.Remove(number)
	c.preReserves.Remove(number)
}
