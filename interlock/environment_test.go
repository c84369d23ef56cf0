package interlock

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"nyiyui.ca/hato/shingo/layout"
)

func TestNewPatchesTopology(t *testing.T) {
	init := func() (*layout.Layout, error) {
		y, err := layout.Connect([]layout.Section{
			layout.StraightLine("a", 100),
			layout.StraightLine("b", 100),
		})
		if err != nil {
			return nil, err
		}
		y.Sections[1].Pins[0][0] = layout.Pin{Link: 99, Direction: 0}
		y.Signals = []layout.Signal{
			layout.NewSignal("ok", 0, 0, 100, layout.Head{Function: layout.FunctionNormal, Aspects: 2}),
			layout.NewSignal("mid", 0, 1, 40, layout.Head{Function: layout.FunctionNormal, Aspects: 2}),
			layout.NewSignal("nowhere", 7, 0, 10, layout.Head{Function: layout.FunctionNormal, Aspects: 2}),
		}
		return &y, nil
	}
	e, y := newTestEnv(t, init, DefaultConfig())
	if len(e.Sections) != 4 {
		t.Fatalf("got %d sections, want a stub and a split added", len(e.Sections))
	}
	stub := e.Sections[2]
	if stub.Type != layout.CircuitEndOfTrack {
		t.Fatalf("stub type %s", stub.Type)
	}
	if p := e.Sections[1].Pins[0][0]; p.Link != 2 {
		t.Fatalf("dangling pin not patched: %s", p)
	}
	if len(y.Sections) != 2 {
		t.Fatalf("caller's layout modified")
	}
	if len(e.Signals) != 2 {
		t.Fatalf("signals: %d", len(e.Signals))
	}
	split := e.Sections[3]
	if split.Length != 40 || e.Sections[0].Length != 60 {
		t.Fatalf("split at %f/%f", e.Sections[0].Length, split.Length)
	}
	if p := e.Sections[0].Pins[0][0]; p.Link != 3 {
		t.Fatalf("s0 not linked to the split: %s", p)
	}
	for d, want := range []string{"ok", "mid"} {
		si := split.EndSignal(d)
		if si < 0 || e.Signals[si].Comment != want {
			t.Fatalf("end signal d%d: %d", d, si)
		}
	}
}

func TestNewRejectsConfig(t *testing.T) {
	y, err := layout.InitSingleLine()
	if err != nil {
		t.Fatal(err)
	}
	cfg := DefaultConfig()
	cfg.DeadlockStrategy = "pray"
	if _, err := New(y, cfg); err == nil {
		t.Fatalf("unknown strategy accepted")
	}
}

func TestScanRoute(t *testing.T) {
	e, _ := newTestEnv(t, layout.InitSingleLine, DefaultConfig())
	a, a2 := mustSignal(t, e, "A"), mustSignal(t, e, "A2")

	res := e.ScanRoute(ScanOptions{
		Start:       layout.Element{Section: 1, Direction: 0},
		StartOffset: 100,
		FindSignal:  true,
		Function:    layout.FunctionNormal,
	})
	if res.Stop != ScanFound || res.Found[0].Index != a2.Index || res.Distance != 300 {
		t.Fatalf("forward: %s %v at %f", res.Stop, res.Found, res.Distance)
	}
	if diff := cmp.Diff([]int{1, 2, 3, 4}, res.Route.Sections()); diff != "" {
		t.Fatalf("forward route (-want +got):\n%s", diff)
	}

	res = e.ScanRoute(ScanOptions{
		Start:       layout.Element{Section: 4, Direction: 0},
		StartOffset: 100,
		FindSignal:  true,
		Function:    layout.FunctionNormal,
		Backward:    true,
	})
	if res.Stop != ScanFound || res.Found[0].Index != a.Index || res.Distance != 300 {
		t.Fatalf("backward: %s %v at %f", res.Stop, res.Found, res.Distance)
	}

	res = e.ScanRoute(ScanOptions{Start: layout.Element{Section: 5, Direction: 0}})
	if res.Stop != ScanEndOfTrack || res.Distance != 200 {
		t.Fatalf("end of track: %s at %f", res.Stop, res.Distance)
	}
	res = e.ScanRoute(ScanOptions{Start: layout.Element{Section: 0, Direction: 0}, MaxDistance: 250})
	if res.Stop != ScanMaxDistance || res.Distance != 250 {
		t.Fatalf("max distance: %s at %f", res.Stop, res.Distance)
	}
}

func TestRouteClearedToSignal(t *testing.T) {
	e, _ := newTestEnv(t, layout.InitSingleLine, DefaultConfig())
	tr := placeTrain(t, e, 1, lineRoute(e, 0, 0, 1, 2, 3, 4, 5, 6), 1, 50)
	a2 := mustSignal(t, e, "A2")
	ok, err := e.RouteClearedToSignal(a2.Index, routed(tr))
	if err != nil || ok {
		t.Fatalf("before clearing: %t %v", ok, err)
	}
	request(t, mustSignal(t, e, "A"), tr)
	ok, err = e.RouteClearedToSignal(a2.Index, routed(tr))
	if err != nil || !ok {
		t.Fatalf("after clearing: %t %v", ok, err)
	}
	if _, err := e.RouteClearedToSignal(42, routed(tr)); !errors.Is(err, ErrUnknownSignal) {
		t.Fatalf("unknown signal: %v", err)
	}
}

func TestRequestClearNode(t *testing.T) {
	t.Run("end of track", func(t *testing.T) {
		e, _ := newTestEnv(t, layout.InitSingleLine, DefaultConfig())
		tr := placeTrain(t, e, 1, lineRoute(e, 0, 0, 1, 2, 3, 4, 5, 6), 1, 50)
		tr.ControlMode = ControlAutoNode
		auth, err := e.RequestClearNode(routed(tr))
		if err != nil {
			t.Fatal(err)
		}
		want := EndAuthority{Type: AuthorityEndOfTrack, Distance: 550, Section: 6, RouteIndex: 6}
		if diff := cmp.Diff(want, auth); diff != "" {
			t.Fatalf("authority (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(want, tr.Authority(0)); diff != "" {
			t.Fatalf("stored authority (-want +got):\n%s", diff)
		}
		for si := 2; si <= 6; si++ {
			if !e.Sections[si].State().ReservedBy(1) {
				t.Fatalf("s%d not reserved", si)
			}
		}
	})
	t.Run("train ahead", func(t *testing.T) {
		e, _ := newTestEnv(t, layout.InitSingleLine, DefaultConfig())
		tr := placeTrain(t, e, 1, lineRoute(e, 0, 0, 1, 2, 3, 4, 5, 6), 1, 50)
		placeTrain(t, e, 2, lineRoute(e, 0, 0, 1, 2, 3, 4, 5, 6), 4, 80)
		tr.ControlMode = ControlAutoNode
		auth, err := e.RequestClearNode(routed(tr))
		if err != nil {
			t.Fatal(err)
		}
		want := EndAuthority{Type: AuthorityTrainAhead, Distance: 305, Section: 4, RouteIndex: 4}
		if diff := cmp.Diff(want, auth); diff != "" {
			t.Fatalf("authority (-want +got):\n%s", diff)
		}
	})
	t.Run("signal", func(t *testing.T) {
		e, _ := newTestEnv(t, layout.InitSingleLine, DefaultConfig())
		tr := placeTrain(t, e, 1, lineRoute(e, 0, 0, 1, 2, 3, 4, 5, 6), 1, 50)
		auth, err := e.RequestClearNode(routed(tr))
		if err != nil {
			t.Fatal(err)
		}
		if auth.Type != AuthoritySignal || auth.Section != 4 {
			t.Fatalf("authority %s", auth)
		}
	})
	t.Run("nil", func(t *testing.T) {
		e, _ := newTestEnv(t, layout.InitSingleLine, DefaultConfig())
		if _, err := e.RequestClearNode(RoutedTrain{}); err != ErrNilTrain {
			t.Fatalf("got %v", err)
		}
	})
}

func TestBreakDownRoute(t *testing.T) {
	e, _ := newTestEnv(t, layout.InitSingleLine, DefaultConfig())
	tr := placeTrain(t, e, 1, lineRoute(e, 0, 0, 1, 2, 3, 4, 5, 6), 1, 50)
	a, a2 := mustSignal(t, e, "A"), mustSignal(t, e, "A2")
	if !request(t, a, tr) {
		t.Fatalf("A should clear")
	}
	if !e.Sections[6].State().ReservedBy(1) {
		t.Fatalf("A2 did not clear ahead")
	}
	e.BreakDownRoute(2, routed(tr))
	for si := 2; si <= 6; si++ {
		if !e.Sections[si].State().Free() {
			t.Fatalf("s%d still held", si)
		}
	}
	if !e.Sections[1].State().OccupiedBy(1) {
		t.Fatalf("occupation released")
	}
	for _, s := range []*Signal{a, a2} {
		if _, ok := s.EnabledTrain(); ok {
			t.Fatalf("%s still enabled", s.Comment)
		}
	}
}

func TestProcessClearing(t *testing.T) {
	e, _ := newTestEnv(t, layout.InitSingleLine, DefaultConfig())
	tr := placeTrain(t, e, 1, lineRoute(e, 0, 0, 1, 2, 3, 4, 5, 6), 1, 50)
	rt := routed(tr)
	e.Sections[2].SetOccupied(rt, 50)

	tr.DistanceTravelled = 80
	if got := e.ProcessClearing(tr); len(got) != 0 {
		t.Fatalf("cleared %v too early", got)
	}
	tr.DistanceTravelled = 100
	if diff := cmp.Diff([]int{1}, e.ProcessClearing(tr)); diff != "" {
		t.Fatalf("cleared (-want +got):\n%s", diff)
	}
	if e.Sections[1].State().Occupied() {
		t.Fatalf("s1 still occupied")
	}
	tr.DistanceTravelled = 185
	if diff := cmp.Diff([]int{2}, e.ProcessClearing(tr)); diff != "" {
		t.Fatalf("cleared (-want +got):\n%s", diff)
	}
}

func TestAddTrainErrors(t *testing.T) {
	e, _ := newTestEnv(t, layout.InitSingleLine, DefaultConfig())
	if err := e.AddTrain(nil); err != ErrNilTrain {
		t.Fatalf("nil: %v", err)
	}
	if err := e.AddTrain(NewTrain(1, "", 10)); !errors.Is(err, ErrNilRoute) {
		t.Fatalf("no route: %v", err)
	}
	placeTrain(t, e, 1, lineRoute(e, 0, 0, 1, 2), 1, 50)
	dup := NewTrain(1, "", 10)
	dup.Route[0] = lineRoute(e, 0, 0, 1, 2)
	if err := e.AddTrain(dup); err == nil {
		t.Fatalf("duplicate number accepted")
	}
	if err := e.RemoveTrain(5); !errors.Is(err, ErrUnknownTrain) {
		t.Fatalf("remove unknown: %v", err)
	}
}

func TestUpdateSlices(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpdateSlices = 4
	e, _ := newTestEnv(t, layout.InitPassingLoop, cfg)
	var cursors []int
	for i := 0; i < 3; i++ {
		e.Update(false)
		cursors = append(cursors, e.updateCursor)
	}
	if diff := cmp.Diff([]int{2, 4, 0}, cursors); diff != "" {
		t.Fatalf("cursor (-want +got):\n%s", diff)
	}
}

func TestAutomaticBlock(t *testing.T) {
	e, _ := newTestEnv(t, layout.InitSingleLine, DefaultConfig())
	b, a2 := mustSignal(t, e, "B"), mustSignal(t, e, "A2")
	e.Update(true)
	if b.BlockState() != BlockClear {
		t.Fatalf("empty block: %s", b.BlockState())
	}
	if a2.BlockState() == BlockClear {
		t.Fatalf("signal facing the end of track shows clear")
	}
	placeTrain(t, e, 1, lineRoute(e, 0, 0, 1, 2, 3, 4, 5, 6), 3, 50)
	e.Update(true)
	if b.BlockState() == BlockClear {
		t.Fatalf("occupied block shows clear")
	}
}
