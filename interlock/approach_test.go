package interlock

import (
	"testing"
	"time"

	"nyiyui.ca/hato/shingo/layout"
)

func TestApproachControlHeld(t *testing.T) {
	cases := []struct {
		name     string
		approach layout.Approach
		// hold brings the train within the distance without meeting the rest of the condition.
		hold     func(e *Environment, s *Signal, tr *Train)
		release  func(e *Environment, s *Signal, tr *Train)
	}{
		{
			name:     "speed",
			approach: layout.Approach{Kind: layout.ApproachSpeed, Distance: 300, Speed: 5},
			hold: func(e *Environment, s *Signal, tr *Train) {
				tr.Front.Offset = 750
				tr.Speed = 12
			},
			release: func(e *Environment, s *Signal, tr *Train) { tr.Speed = 4 },
		},
		{
			name:     "next stop",
			approach: layout.Approach{Kind: layout.ApproachNextStop, Distance: 300, Dwell: 30},
			hold: func(e *Environment, s *Signal, tr *Train) {
				tr.Front.Offset = 750
				s.TriggerApproachTimer()
			},
			release: func(e *Environment, s *Signal, tr *Train) {
				e.SetClock(func() time.Time { return testEpoch.Add(31 * time.Second) })
			},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			init := func() (*layout.Layout, error) {
				y, err := layout.Connect([]layout.Section{
					layout.StraightLine("0", 1000),
					layout.StraightLine("1", 1000),
					layout.StraightLine("2", 1000),
				})
				if err != nil {
					return nil, err
				}
				approach := c.approach
				y.Signals = []layout.Signal{
					layout.NewSignal("S", 1, 0, 1000, layout.Head{
						Function: layout.FunctionNormal,
						Aspects:  2,
						Approach: &approach,
					}),
				}
				return &y, nil
			}
			e, _ := newTestEnv(t, init, DefaultConfig())
			tr := placeTrain(t, e, 1, lineRoute(e, 0, 0, 1, 2), 1, 500)
			s := mustSignal(t, e, "S")
			if request(t, s, tr) {
				t.Fatalf("cleared 500m out")
			}

			c.hold(e, s, tr)
			e.Update(true)
			if !s.ApproachControlSet() || s.ApproachControlCleared() || !s.ClaimLocked() {
				t.Fatalf("approach control released early")
			}
			if s.ThisSigLR(layout.FunctionNormal) != AspectStop {
				t.Fatalf("not at stop while held")
			}
			if !e.Sections[2].State().Free() {
				t.Fatalf("s2 taken while held")
			}

			c.release(e, s, tr)
			e.Update(true)
			if s.ApproachControlSet() || !s.ApproachControlCleared() {
				t.Fatalf("approach control not released")
			}
			if s.ThisSigLR(layout.FunctionNormal) == AspectStop {
				t.Fatalf("still at stop")
			}
			if !e.Sections[2].State().ReservedBy(1) {
				t.Fatalf("s2 not reserved after release")
			}
		})
	}
}
