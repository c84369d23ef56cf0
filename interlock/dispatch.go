package interlock

import "fmt"

// SetSwitchManual sets a junction to route for the dispatcher. A junction held by a train's
// reservation is thrown anyway and marked forced; trains routed over it are rerouted on their
// next update.
func (e *Environment) SetSwitchManual(section, route int) error {
	sec, err := e.Section(section)
	if err != nil {
		return err
	}
	sd := sec.switchDirection()
	if !sec.Type.Switchable() || sd == -1 {
		return fmt.Errorf("s%d (%s): %w", section, sec.Comment, ErrNotSwitchable)
	}
	if route < 0 || route > 1 || !sec.Pins[sd][route].Connected() {
		return fmt.Errorf("s%d (%s): no route %d", section, sec.Comment, route)
	}
	if sec.state.Occupied() {
		return fmt.Errorf("s%d (%s): %w", section, sec.Comment, ErrSwitchOccupied)
	}
	sec.manualRoute = route
	if holder, ok := sec.state.Reserved(); ok && sec.activeRoute() != -1 && sec.activeRoute() != route {
		sec.state.forced = true
		e.log.Warnw("switch forced under a reservation", "section", section, "route", route, "train", holder.Number())
	}
	sec.alignTo(sd, sec.Pins[sd][route].Link)
	for _, s := range e.Signals {
		s.invalidate()
	}
	return nil
}

// ClearSwitchManual hands the junction back to the interlocking.
func (e *Environment) ClearSwitchManual(section int) error {
	sec, err := e.Section(section)
	if err != nil {
		return err
	}
	if !sec.Type.Switchable() {
		return fmt.Errorf("s%d (%s): %w", section, sec.Comment, ErrNotSwitchable)
	}
	sec.manualRoute = -1
	if sec.state.Free() {
		sec.deAlign()
	}
	for _, s := range e.Signals {
		s.invalidate()
	}
	return nil
}

// RequestHold holds a signal. Holding states keep the signal at stop until ClearHold.
func (e *Environment) RequestHold(sig int, h HoldState) error {
	s, err := e.Signal(sig)
	if err != nil {
		return err
	}
	s.holdState = h
	e.log.Infow("signal hold", "signal", sig, "hold", h)
	s.Update()
	return nil
}

func (e *Environment) ClearHold(sig int) error {
	return e.RequestHold(sig, HoldNone)
}

// RequestPermission asks for permission to pass the signal at danger into an occupied block.
// It is granted on the next evaluation if the block ahead is occupied in the same direction.
func (e *Environment) RequestPermission(sig int) error {
	s, err := e.Signal(sig)
	if err != nil {
		return err
	}
	s.overridePermission = PermissionRequested
	s.Update()
	return nil
}

// SetAILock keeps AI trains out of a section.
func (e *Environment) SetAILock(section int, lock bool) error {
	sec, err := e.Section(section)
	if err != nil {
		return err
	}
	sec.aiLock = lock
	return nil
}
