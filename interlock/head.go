package interlock

import "nyiyui.ca/hato/shingo/layout"

const scriptSwitchstand = "switchstand"

// Head is one head of a signal. Its aspect is derived from the signal each update.
type Head struct {
	sig *Signal

	Function   layout.Function
	Aspects    int
	Script     string
	SpeedLimit float64
	Approach   *layout.Approach

	state Aspect
	speed float64
}

func newHead(s *Signal, lh layout.Head) *Head {
	return &Head{
		sig:        s,
		Function:   lh.Function,
		Aspects:    lh.Aspects,
		Script:     lh.Script,
		SpeedLimit: lh.SpeedLimit,
		Approach:   lh.Approach,
	}
}

func (h *Head) State() Aspect { return h.state }

// Speed returns the signalled speed in m/s, 0 at stop and -1 when unrestricted.
func (h *Head) Speed() float64 { return h.speed }

func (h *Head) update() {
	s := h.sig
	var a Aspect
	switch h.Function {
	case layout.FunctionNormal:
		a = h.normalAspect()
	case layout.FunctionDistance:
		if s.NextSigLR(layout.FunctionNormal) == AspectStop {
			a = AspectApproach1
		} else {
			a = AspectClear2
		}
	case layout.FunctionRepeater:
		a = s.NextSigLR(layout.FunctionNormal)
	case layout.FunctionShunting:
		if s.BlockState() == BlockJnObstructed {
			a = AspectStop
		} else {
			a = AspectRestricted
		}
	default:
		a = AspectClear2
	}
	if h.Script == scriptSwitchstand {
		a = s.Switchstand(AspectClear2, AspectApproach1)
	}
	if a > AspectStop && h.Approach != nil && !s.approachGate(h.Approach) {
		a = AspectStop
	}
	h.state = a
	switch {
	case a == AspectStop:
		h.speed = 0
	case h.SpeedLimit > 0:
		h.speed = h.SpeedLimit
	default:
		h.speed = -1
	}
}

func (h *Head) normalAspect() Aspect {
	s := h.sig
	switch s.BlockState() {
	case BlockClear:
		if h.Aspects >= 3 && s.NextSigMR(layout.FunctionNormal) == AspectStop {
			return AspectApproach1
		}
		return AspectClear2
	case BlockOccupied:
		if s.overridePermission == PermissionGranted {
			return AspectStopAndProceed
		}
		if s.TrainHasCallOn(true) {
			return AspectRestricted
		}
	}
	return AspectStop
}
