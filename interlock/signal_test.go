package interlock

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"nyiyui.ca/hato/shingo/layout"
)

func TestSingleLineOpposing(t *testing.T) {
	e, _ := newTestEnv(t, layout.InitSingleLine, DefaultConfig())
	east := placeTrain(t, e, 1, lineRoute(e, 0, 0, 1, 2, 3, 4, 5, 6), 1, 50)
	west := placeTrain(t, e, 2, lineRoute(e, 1, 6, 5, 4, 3, 2, 1, 0), 1, 50)
	a, b := mustSignal(t, e, "A"), mustSignal(t, e, "B")

	if !request(t, a, east) {
		t.Fatalf("A: got %s, want proceed", a.ThisSigLR(layout.FunctionNormal))
	}
	for _, si := range []int{2, 3, 4} {
		if !e.Sections[si].State().ReservedBy(1) {
			t.Fatalf("s%d not reserved by east", si)
		}
	}
	if diff := cmp.Diff(map[int][]int{2: {1}}, e.Sections[4].DeadlockTraps()); diff != "" {
		t.Fatalf("traps on s4 (-want +got):\n%s", diff)
	}

	if request(t, b, west) {
		t.Fatalf("B cleared into a single line reserved the other way")
	}
	if got := b.ThisSigLR(layout.FunctionNormal); got != AspectStop {
		t.Fatalf("B: got %s", got)
	}
	if diff := cmp.Diff([]int{2}, e.Sections[4].DeadlockAwaited()); diff != "" {
		t.Fatalf("awaited on s4 (-want +got):\n%s", diff)
	}
	if !e.Sections[4].CheckDeadlockAwaited(1) {
		t.Fatalf("east should see west waiting")
	}
	if e.Sections[4].CheckDeadlockAwaited(2) {
		t.Fatalf("west should not see itself waiting")
	}
	if len(e.Sections[2].DeadlockTraps()) != 0 {
		t.Fatalf("trap against east on a section it holds: %v", e.Sections[2].DeadlockTraps())
	}

	if err := e.RemoveTrain(1); err != nil {
		t.Fatal(err)
	}
	if len(e.Sections[4].DeadlockTraps()) != 0 {
		t.Fatalf("traps left after removal: %v", e.Sections[4].DeadlockTraps())
	}
	if !request(t, b, west) {
		t.Fatalf("B: got %s after east left", b.ThisSigLR(layout.FunctionNormal))
	}
	for _, si := range []int{4, 3, 2} {
		if !e.Sections[si].State().ReservedBy(2) {
			t.Fatalf("s%d not reserved by west", si)
		}
	}
}

func TestTrapClearedAtBoundary(t *testing.T) {
	e, _ := newTestEnv(t, layout.InitSingleLine, DefaultConfig())
	east := placeTrain(t, e, 1, lineRoute(e, 0, 0, 1, 2, 3, 4, 5, 6), 1, 50)
	placeTrain(t, e, 2, lineRoute(e, 1, 6, 5, 4, 3, 2, 1, 0), 1, 50)
	request(t, mustSignal(t, e, "A"), east)

	rt := routed(east)
	e.Sections[4].SetOccupied(rt, 250)
	e.Sections[4].ClearOccupied(rt, true)
	if len(e.Sections[4].DeadlockTraps()) != 0 {
		t.Fatalf("trap survived its blocker leaving: %v", e.Sections[4].DeadlockTraps())
	}
}

func TestApproachControlPosition(t *testing.T) {
	init := func() (*layout.Layout, error) {
		y, err := layout.Connect([]layout.Section{
			layout.StraightLine("0", 1000),
			layout.StraightLine("1", 1000),
			layout.StraightLine("2", 1000),
		})
		if err != nil {
			return nil, err
		}
		y.Signals = []layout.Signal{
			layout.NewSignal("S", 1, 0, 1000, layout.Head{
				Function: layout.FunctionNormal,
				Aspects:  2,
				Approach: &layout.Approach{Kind: layout.ApproachPosition, Distance: 300},
			}),
		}
		return &y, nil
	}
	e, _ := newTestEnv(t, init, DefaultConfig())
	tr := placeTrain(t, e, 1, lineRoute(e, 0, 0, 1, 2), 1, 500)
	s := mustSignal(t, e, "S")

	if request(t, s, tr) {
		t.Fatalf("cleared 500m out with approach control at 300m")
	}
	if !s.ApproachControlSet() || !s.ClaimLocked() {
		t.Fatalf("approach control flags not set")
	}
	if !e.Sections[2].State().Free() {
		t.Fatalf("s2 taken while approach control pending")
	}

	tr.Front.Offset = 750
	e.Update(true)
	if s.ApproachControlSet() || !s.ApproachControlCleared() {
		t.Fatalf("approach control not cleared at 250m")
	}
	if s.ThisSigLR(layout.FunctionNormal) == AspectStop {
		t.Fatalf("still at stop at 250m")
	}
	if !e.Sections[2].State().ReservedBy(1) {
		t.Fatalf("s2 not reserved after clearing")
	}
}

func TestSwitchstand(t *testing.T) {
	e, y := newTestEnv(t, layout.InitJunction, DefaultConfig())
	j := y.MustLookupIndex("j")
	s := mustSignal(t, e, "J")

	if got := s.Switchstand(AspectClear2, AspectApproach1); got != AspectClear2 {
		t.Fatalf("unset junction: got %s", got)
	}
	e.Update(true)
	if got := s.ThisSigLR(layout.FunctionShunting); got != AspectClear2 {
		t.Fatalf("switchstand head: got %s", got)
	}
	if err := e.SetSwitchManual(j, 1); err != nil {
		t.Fatal(err)
	}
	if got := s.Switchstand(AspectClear2, AspectApproach1); got != AspectApproach1 {
		t.Fatalf("diverging junction: got %s", got)
	}
	e.Update(true)
	if got := s.ThisSigLR(layout.FunctionShunting); got != AspectApproach1 {
		t.Fatalf("switchstand head: got %s", got)
	}
}

func TestBalloonLoopTerminates(t *testing.T) {
	e, y := newTestEnv(t, layout.InitBalloonLoop, DefaultConfig())
	in, j, a, b := y.MustLookupIndex("in"), y.MustLookupIndex("j"), y.MustLookupIndex("a"), y.MustLookupIndex("b")

	res := e.ScanRoute(ScanOptions{
		Start:        layout.Element{Section: in, Direction: 0},
		StartOffset:  200,
		FindSignal:   true,
		Function:     layout.FunctionNormal,
		HonourManual: true,
	})
	if res.Stop != ScanLoop {
		t.Fatalf("scan stopped with %s", res.Stop)
	}
	if diff := cmp.Diff([]int{in, j, a, b}, res.Route.Sections()); diff != "" {
		t.Fatalf("scan route (-want +got):\n%s", diff)
	}

	route := e.RouteOf([]layout.Element{{Section: in, Direction: 0}, {Section: j, Direction: 0}, {Section: a, Direction: 0}, {Section: b, Direction: 0}, {Section: j, Direction: 1}, {Section: in, Direction: 1}})
	tr := placeTrain(t, e, 1, route, 0, 100)
	s := mustSignal(t, e, "S")
	if !request(t, s, tr) {
		t.Fatalf("S: got %s", s.ThisSigLR(layout.FunctionNormal))
	}
	if diff := cmp.Diff([]int{j, a, b}, s.Route().Sections()); diff != "" {
		t.Fatalf("signal route (-want +got):\n%s", diff)
	}
	if !s.FullRoute() {
		t.Fatalf("truncated loop route should count as full")
	}
}

func TestLocationStrategyPassingLoop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DeadlockStrategy = StrategyLocation
	e, y := newTestEnv(t, layout.InitPassingLoop, cfg)
	idx := func(names ...string) []int {
		is := make([]int, len(names))
		for i, n := range names {
			is[i] = y.MustLookupIndex(n)
		}
		return is
	}
	east := placeTrain(t, e, 1, lineRoute(e, 0, idx("W0", "W", "Wj", "main", "Ej", "E", "E0")...), 1, 100)
	west := placeTrain(t, e, 2, lineRoute(e, 1, idx("E0", "E", "Ej", "main", "Wj", "W", "W0")...), 1, 100)

	if !request(t, mustSignal(t, e, "W"), east) {
		t.Fatalf("W should clear for east")
	}
	if path, ok := e.Registry().Allocation(0, 1); !ok || path != 0 {
		t.Fatalf("east: got path %d (%t), want main", path, ok)
	}
	sig := mustSignal(t, e, "E")
	if !request(t, sig, west) {
		t.Fatalf("E should clear for west through the loop, got %s", sig.InternalBlockState())
	}
	if path, ok := e.Registry().Allocation(1, 2); !ok || path != 1 {
		t.Fatalf("west: got path %d (%t), want loop", path, ok)
	}
	if diff := cmp.Diff(idx("E0", "E", "Ej", "loop", "Wj", "W", "W0"), west.Route[0].Sections()); diff != "" {
		t.Fatalf("west route (-want +got):\n%s", diff)
	}
	for _, name := range []string{"Wj", "Ej"} {
		if traps := e.Sections[y.MustLookupIndex(name)].DeadlockTraps(); len(traps) != 0 {
			t.Fatalf("%s: traps left although the trains pass: %v", name, traps)
		}
	}
}

func TestForcedSwitch(t *testing.T) {
	e, y := newTestEnv(t, layout.InitPassingLoop, DefaultConfig())
	wj := y.MustLookupIndex("Wj")
	route := lineRoute(e, 0, y.MustLookupIndex("W0"), y.MustLookupIndex("W"), wj, y.MustLookupIndex("main"), y.MustLookupIndex("Ej"))
	tr := placeTrain(t, e, 1, route, 1, 100)
	hooks := &recHooks{}
	tr.Hooks = hooks
	w := mustSignal(t, e, "W")
	if !request(t, w, tr) {
		t.Fatalf("W should clear")
	}

	if err := e.SetSwitchManual(y.MustLookupIndex("W"), 0); err == nil {
		t.Fatalf("plain track accepted as a switch")
	}
	if err := e.SetSwitchManual(wj, 1); err != nil {
		t.Fatal(err)
	}
	if !e.Sections[wj].State().Forced() {
		t.Fatalf("switch thrown under a reservation not marked forced")
	}
	e.Update(true)
	want := []hookCall{{"reroute", 1, wj}, {"reset", 1, -1}}
	if diff := cmp.Diff(want, hooks.calls); diff != "" {
		t.Fatalf("hooks (-want +got):\n%s", diff)
	}
	if _, ok := w.EnabledTrain(); ok {
		t.Fatalf("W still enabled")
	}
	if e.Sections[wj].State().Forced() || !e.Sections[wj].State().Free() {
		t.Fatalf("Wj not released")
	}
}

func TestConflictingRequest(t *testing.T) {
	e, _ := newTestEnv(t, layout.InitSingleLine, DefaultConfig())
	hooks := &recHooks{}
	first := placeTrain(t, e, 1, lineRoute(e, 0, 0, 1, 2, 3, 4, 5, 6), 1, 90)
	second := placeTrain(t, e, 2, lineRoute(e, 0, 0, 1, 2, 3, 4, 5, 6), 0, 50)
	first.Hooks, second.Hooks = hooks, hooks
	a := mustSignal(t, e, "A")
	if !request(t, a, first) {
		t.Fatalf("A should clear for the first train")
	}
	if request(t, a, second) {
		t.Fatalf("A cleared for a second train")
	}
	if _, ok := a.EnabledTrain(); ok {
		t.Fatalf("A still enabled after conflict")
	}
	for _, tr := range []*Train{first, second} {
		if tr.ControlMode != ControlAutoNode {
			t.Fatalf("train %d: mode %s", tr.Number, tr.ControlMode)
		}
	}
	want := []hookCall{{"node", 1, 1}, {"node", 2, 1}}
	if diff := cmp.Diff(want, hooks.calls); diff != "" {
		t.Fatalf("hooks (-want +got):\n%s", diff)
	}
}

func TestHold(t *testing.T) {
	e, _ := newTestEnv(t, layout.InitSingleLine, DefaultConfig())
	tr := placeTrain(t, e, 1, lineRoute(e, 0, 0, 1, 2, 3, 4, 5, 6), 1, 50)
	a := mustSignal(t, e, "A")
	if err := e.RequestHold(a.Index, HoldManualLock); err != nil {
		t.Fatal(err)
	}
	if request(t, a, tr) {
		t.Fatalf("held signal cleared")
	}
	if a.InternalBlockState() != Blocked {
		t.Fatalf("held signal state %s", a.InternalBlockState())
	}
	if err := e.ClearHold(a.Index); err != nil {
		t.Fatal(err)
	}
	if a.ThisSigLR(layout.FunctionNormal) == AspectStop {
		t.Fatalf("still at stop after hold cleared")
	}
}

func TestPermission(t *testing.T) {
	e, _ := newTestEnv(t, layout.InitSingleLine, DefaultConfig())
	tr := placeTrain(t, e, 1, lineRoute(e, 0, 0, 1, 2, 3, 4, 5, 6), 1, 50)
	placeTrain(t, e, 2, lineRoute(e, 0, 0, 1, 2, 3, 4, 5, 6), 3, 60)
	a := mustSignal(t, e, "A")
	if request(t, a, tr) {
		t.Fatalf("cleared into an occupied block")
	}
	if a.BlockState() != BlockOccupied {
		t.Fatalf("block state %s", a.BlockState())
	}
	if err := e.RequestPermission(a.Index); err != nil {
		t.Fatal(err)
	}
	if a.OverridePermission() != PermissionGranted {
		t.Fatalf("permission %s", a.OverridePermission())
	}
	if got := a.ThisSigLR(layout.FunctionNormal); got != AspectStopAndProceed {
		t.Fatalf("aspect %s", got)
	}
	if got := a.TranslatedAspect(); got != TranslatedStopAndProceed {
		t.Fatalf("translated %s", got)
	}
	if diff := cmp.Diff([]int{1}, numbers(e.Sections[3].State().PreReserves())); diff != "" {
		t.Fatalf("pre-reserves on s3 (-want +got):\n%s", diff)
	}
	if !e.Sections[2].State().ReservedBy(1) {
		t.Fatalf("s2 not reserved")
	}
}

func TestClearAheadCount(t *testing.T) {
	cases := []struct {
		name       string
		active     int
		override   int
		heads      int
		inherited  int
		propagated bool
		want       int
	}{
		{"default", -1, -2, 1, 0, false, 1},
		{"default propagated", -1, -2, 1, 3, true, 3},
		{"never", 0, -2, 1, 5, true, 0},
		{"n", 3, -2, 1, 0, false, 2},
		{"n propagated", 3, -2, 1, 3, true, 2},
		{"override", -1, 4, 2, 0, false, 2},
		{"override propagated", -1, 4, 2, 1, true, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := &Signal{numClearAheadActive: c.active, numClearAheadOverride: c.override}
			for i := 0; i < c.heads; i++ {
				s.heads = append(s.heads, &Head{Function: layout.FunctionNormal})
			}
			if got := s.clearAheadCount(c.inherited, c.propagated); got != c.want {
				t.Fatalf("got %d, want %d", got, c.want)
			}
		})
	}
}

func TestRequestNilTrain(t *testing.T) {
	e, _ := newTestEnv(t, layout.InitSingleLine, DefaultConfig())
	a := mustSignal(t, e, "A")
	if _, err := a.RequestClearSignal(Route{NewRouteElement(2, 0)}, RoutedTrain{}, 0, false, nil); err != ErrNilTrain {
		t.Fatalf("nil train: got %v", err)
	}
	tr := NewTrain(1, "", 10)
	if _, err := a.RequestClearSignal(nil, RoutedTrain{Train: tr}, 0, false, nil); err != ErrNilRoute {
		t.Fatalf("nil route: got %v", err)
	}
}
