package interlock

import (
	"testing"

	"nyiyui.ca/hato/shingo/layout"
)

func TestReserveOccupiedJunction(t *testing.T) {
	cases := []struct {
		name      string
		leg       string
		available bool
	}{
		{"same leg", "2", true},
		{"other leg", "3", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e, y := newTestEnv(t, layout.InitJunction, DefaultConfig())
			s0, j := y.MustLookupIndex("0"), y.MustLookupIndex("j")
			tr := placeTrain(t, e, 1, lineRoute(e, 0, s0, j, y.MustLookupIndex("2")), 1, 20)
			sec := e.Sections[j]
			sec.Reserve(routed(tr), tr.Route[0])
			if got := sec.JunctionRoute(); got != 0 {
				t.Fatalf("junction set to %d under the train", got)
			}

			tr.Route[0] = lineRoute(e, 0, s0, j, y.MustLookupIndex(c.leg))
			sec.Reserve(routed(tr), tr.Route[0])
			if got := sec.JunctionRoute(); got != 0 {
				t.Fatalf("occupied junction thrown to %d", got)
			}
			if got := sec.IsAvailable(routed(tr)); got != c.available {
				t.Fatalf("available %t", got)
			}
			blocked := sec.GetSectionState(routed(tr), 0, Reserved, tr.Route[0], -1) == Blocked
			if blocked == c.available {
				t.Fatalf("section state blocked %t", blocked)
			}
			if !sec.State().OccupiedBy(1) {
				t.Fatalf("occupation lost")
			}
		})
	}
}
