package interlock

import (
	"time"

	"nyiyui.ca/hato/shingo/layout"
)

// ApproachControlPosition clears once the enabled train's front is closer than reqPosition metres.
// Until then the signal is held and may not claim. forced re-evaluates a cleared gate.
func (s *Signal) ApproachControlPosition(reqPosition float64, forced bool) bool {
	if s.enabledTrain == nil {
		return false
	}
	if s.approachControlCleared && !forced {
		return true
	}
	if d, ok := s.env.distanceToSignal(*s.enabledTrain, s); ok && d < reqPosition {
		s.approachControlCleared = true
		s.approachControlSet = false
		s.claimLocked = false
		return true
	}
	s.approachControlSet = true
	s.claimLocked = true
	return false
}

// ApproachControlSpeed is ApproachControlPosition that also requires the train to be slower than reqSpeed.
func (s *Signal) ApproachControlSpeed(reqPosition, reqSpeed float64) bool {
	if s.enabledTrain == nil {
		return false
	}
	if s.approachControlCleared {
		return true
	}
	d, ok := s.env.distanceToSignal(*s.enabledTrain, s)
	if ok && d < reqPosition && s.enabledTrain.Train.Speed <= reqSpeed {
		s.approachControlCleared = true
		s.approachControlSet = false
		s.claimLocked = false
		return true
	}
	s.approachControlSet = true
	s.claimLocked = true
	return false
}

// ApproachControlNextStop clears once the train is within reqPosition and dwell has passed since
// TriggerApproachTimer.
func (s *Signal) ApproachControlNextStop(reqPosition float64, dwell time.Duration) bool {
	if s.enabledTrain == nil {
		return false
	}
	if s.approachControlCleared {
		return true
	}
	d, ok := s.env.distanceToSignal(*s.enabledTrain, s)
	timed := !s.approachTimer.IsZero() && s.env.now().Sub(s.approachTimer) >= dwell
	if ok && d < reqPosition && timed {
		s.approachControlCleared = true
		s.approachControlSet = false
		s.claimLocked = false
		return true
	}
	s.approachControlSet = true
	s.claimLocked = true
	return false
}

func (s *Signal) approachGate(a *layout.Approach) bool {
	switch a.Kind {
	case layout.ApproachPosition:
		return s.ApproachControlPosition(a.Distance, false)
	case layout.ApproachSpeed:
		return s.ApproachControlSpeed(a.Distance, a.Speed)
	case layout.ApproachNextStop:
		return s.ApproachControlNextStop(a.Distance, time.Duration(a.Dwell*float64(time.Second)))
	}
	return true
}

// approachGatesPass reports whether every approach-controlled head would let the signal clear.
func (s *Signal) approachGatesPass() bool {
	ok := true
	for _, h := range s.heads {
		if h.Approach != nil && !s.approachGate(h.Approach) {
			ok = false
		}
	}
	return ok
}
