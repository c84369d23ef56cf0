package interlock

import (
	"time"

	"github.com/google/uuid"
	"nyiyui.ca/hato/shingo/deadlock"
)

// Snapshot is a copy of the environment's state for display.
type Snapshot struct {
	RunID       uuid.UUID             `json:"run-id"`
	Time        time.Time             `json:"time"`
	Sections    []SectionSnapshot     `json:"sections"`
	Signals     []SignalSnapshot      `json:"signals"`
	Trains      []TrainSnapshot       `json:"trains"`
	Allocations []deadlock.Allocation `json:"allocations"`
}

type SectionSnapshot struct {
	Index          int    `json:"index"`
	Comment        string `json:"comment"`
	Type           string `json:"type"`
	Occupied       []int  `json:"occupied"`
	Reserved       int    `json:"reserved"`
	SignalReserved int    `json:"signal-reserved"`
	Claims         []int  `json:"claims"`
	PreReserves    []int  `json:"pre-reserves"`
	// Route is the junction's route, or -1 for plain track.
	Route   int           `json:"route"`
	Manual  int           `json:"manual"`
	Forced  bool          `json:"forced"`
	AILock  bool          `json:"ai-lock"`
	Traps   map[int][]int `json:"traps,omitempty"`
	Awaited []int         `json:"awaited,omitempty"`
}

type SignalSnapshot struct {
	Index      int      `json:"index"`
	Comment    string   `json:"comment"`
	Section    int      `json:"section"`
	Direction  int      `json:"direction"`
	Aspect     string   `json:"aspect"`
	Heads      []string `json:"heads"`
	Enabled    int      `json:"enabled"`
	Route      []int    `json:"route"`
	State      string   `json:"state"`
	Hold       string   `json:"hold"`
	Permission string   `json:"permission"`
	Approach   bool     `json:"approach-held"`
}

type TrainSnapshot struct {
	Number    int      `json:"number"`
	Name      string   `json:"name"`
	Mode      string   `json:"mode"`
	Front     Position `json:"front"`
	Rear      Position `json:"rear"`
	Speed     float64  `json:"speed"`
	Authority string   `json:"authority"`
}

func numbers(rts []RoutedTrain) []int {
	ns := make([]int, len(rts))
	for i, rt := range rts {
		ns[i] = rt.Number()
	}
	return ns
}

func (e *Environment) Snapshot() Snapshot {
	snap := Snapshot{
		RunID:       e.RunID,
		Time:        e.now(),
		Sections:    make([]SectionSnapshot, len(e.Sections)),
		Signals:     make([]SignalSnapshot, len(e.Signals)),
		Allocations: e.registry.Allocations(),
	}
	for i, sec := range e.Sections {
		st := &sec.state
		ss := SectionSnapshot{
			Index:          sec.Index,
			Comment:        sec.Comment,
			Type:           sec.Type.String(),
			Reserved:       -1,
			SignalReserved: st.signalReserved,
			Claims:         numbers(st.claims.Items()),
			PreReserves:    numbers(st.preReserves.Items()),
			Route:          -1,
			Manual:         sec.manualRoute,
			Forced:         st.forced,
			AILock:         sec.aiLock,
			Awaited:        sec.DeadlockAwaited(),
		}
		for _, o := range st.occupied {
			ss.Occupied = append(ss.Occupied, o.Number())
		}
		if st.reserved != nil {
			ss.Reserved = st.reserved.Number()
		}
		if sec.Type.Switchable() {
			ss.Route = sec.JunctionRoute()
		}
		if len(sec.traps) > 0 {
			ss.Traps = sec.DeadlockTraps()
		}
		snap.Sections[i] = ss
	}
	for i, s := range e.Signals {
		ss := SignalSnapshot{
			Index:      s.Index,
			Comment:    s.Comment,
			Section:    s.section,
			Direction:  s.direction,
			Aspect:     s.TranslatedAspect().String(),
			Enabled:    -1,
			Route:      s.signalRoute.Sections(),
			State:      s.internalBlockState.String(),
			Hold:       s.holdState.String(),
			Permission: s.overridePermission.String(),
			Approach:   s.approachControlSet,
		}
		for _, h := range s.heads {
			ss.Heads = append(ss.Heads, h.Function.String()+":"+h.state.String())
		}
		if s.enabledTrain != nil {
			ss.Enabled = s.enabledTrain.Number()
		}
		snap.Signals[i] = ss
	}
	for _, t := range e.Trains() {
		snap.Trains = append(snap.Trains, TrainSnapshot{
			Number:    t.Number,
			Name:      t.Name,
			Mode:      t.ControlMode.String(),
			Front:     t.Front,
			Rear:      t.Rear,
			Speed:     t.Speed,
			Authority: t.authority[t.Dir].String(),
		})
	}
	return snap
}
