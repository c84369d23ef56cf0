package interlock

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"nyiyui.ca/hato/shingo/layout"
)

func TestPathStrategyAlternative(t *testing.T) {
	cases := []struct {
		name   string
		// manual pins Wj by hand, -1 for none.
		manual int
		clears bool
		via    string
		used   int
	}{
		{"through the loop", -1, true, "loop", 0},
		{"loop entry pinned", 0, false, "main", -1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			e, y := newTestEnv(t, layout.InitPassingLoop, DefaultConfig())
			idx := func(names ...string) []int {
				is := make([]int, len(names))
				for i, n := range names {
					is[i] = y.MustLookupIndex(n)
				}
				return is
			}
			wj, ej, loop := y.MustLookupIndex("Wj"), y.MustLookupIndex("Ej"), y.MustLookupIndex("loop")
			if c.manual >= 0 {
				if err := e.SetSwitchManual(wj, c.manual); err != nil {
					t.Fatal(err)
				}
			}
			mainRoute := idx("W0", "W", "Wj", "main", "Ej", "E", "E0")
			tr := placeTrain(t, e, 1, lineRoute(e, 0, mainRoute...), 1, 100)
			tr.AlternativePaths = map[int]Route{0: lineRoute(e, 0, loop, ej)}
			tr.Route[0][2].StartAlternativePath = &AltRef{Path: 0, EndSection: ej}
			placeTrain(t, e, 2, lineRoute(e, 0, mainRoute...), 3, 200)

			w := mustSignal(t, e, "W")
			if got := request(t, w, tr); got != c.clears {
				t.Fatalf("W cleared %t, state %s", got, w.InternalBlockState())
			}
			want := idx("W0", "W", "Wj", c.via, "Ej", "E", "E0")
			if diff := cmp.Diff(want, tr.Route[0].Sections()); diff != "" {
				t.Fatalf("route (-want +got):\n%s", diff)
			}
			if got := tr.Route[0][2].UsedAlternativePath; got != c.used {
				t.Fatalf("alternative used %d, want %d", got, c.used)
			}
			if diff := cmp.Diff(idx("Wj", c.via), w.Route().Sections()); diff != "" {
				t.Fatalf("signal route (-want +got):\n%s", diff)
			}
			if st := e.Sections[loop].State(); c.clears != st.ReservedBy(1) {
				t.Fatalf("loop reserved %t", st.ReservedBy(1))
			}
			if !c.clears && !e.Sections[loop].State().Free() {
				t.Fatalf("loop held after falling back")
			}
		})
	}
}
