package interlock

import (
	"testing"
	"time"

	"nyiyui.ca/hato/shingo/layout"
)

var testEpoch = time.Date(2023, 7, 1, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T, init func() (*layout.Layout, error), cfg Config) (*Environment, *layout.Layout) {
	t.Helper()
	y, err := init()
	if err != nil {
		t.Fatalf("layout: %s", err)
	}
	e, err := New(y, cfg)
	if err != nil {
		t.Fatalf("New: %s", err)
	}
	e.SetClock(func() time.Time { return testEpoch })
	return e, y
}

// lineRoute builds a route over sections in one direction.
func lineRoute(e *Environment, dir int, sections ...int) Route {
	els := make([]layout.Element, len(sections))
	for i, s := range sections {
		els[i] = layout.Element{Section: s, Direction: dir}
	}
	return e.RouteOf(els)
}

// placeTrain adds a train with its front frontOffset into route[frontIndex], fully inside that section.
func placeTrain(t *testing.T, e *Environment, number int, route Route, frontIndex int, frontOffset float64) *Train {
	t.Helper()
	tr := NewTrain(number, "", 20)
	tr.Route[0] = route
	el := route[frontIndex]
	tr.Front = Position{Section: el.Section, Direction: el.Direction, Offset: frontOffset, RouteIndex: frontIndex}
	tr.Rear = Position{Section: el.Section, Direction: el.Direction, Offset: frontOffset - tr.Length, RouteIndex: frontIndex}
	if err := e.AddTrain(tr); err != nil {
		t.Fatalf("AddTrain %d: %s", number, err)
	}
	return tr
}

func routed(tr *Train) RoutedTrain { return RoutedTrain{Train: tr, Dir: tr.Dir} }

func mustSignal(t *testing.T, e *Environment, comment string) *Signal {
	t.Helper()
	i := e.LookupSignal(comment)
	if i == -1 {
		t.Fatalf("no signal %s", comment)
	}
	return e.Signals[i]
}

func request(t *testing.T, s *Signal, tr *Train) bool {
	t.Helper()
	ok, err := s.RequestClearSignal(tr.Route[tr.Dir], routed(tr), 0, false, nil)
	if err != nil {
		t.Fatalf("RequestClearSignal %s: %s", s.Comment, err)
	}
	return ok
}

type hookCall struct {
	Kind    string
	Train   int
	Section int
}

type recHooks struct {
	calls []hookCall
}

func (h *recHooks) SwitchToNodeControl(t *Train, section int) {
	h.calls = append(h.calls, hookCall{"node", t.Number, section})
}

func (h *recHooks) Reroute(t *Train, section int) {
	h.calls = append(h.calls, hookCall{"reroute", t.Number, section})
}

func (h *recHooks) PoolAccess(t *Train, section int) {
	h.calls = append(h.calls, hookCall{"pool", t.Number, section})
}

func (h *recHooks) ResetActions(t *Train) {
	h.calls = append(h.calls, hookCall{"reset", t.Number, -1})
}
