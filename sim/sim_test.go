package sim

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"nyiyui.ca/hato/shingo/interlock"
	"nyiyui.ca/hato/shingo/layout"
)

var testConf = Conf{Speed: 10, LookAhead: 400}

func newDriver(t *testing.T, init func() (*layout.Layout, error)) (*Driver, *interlock.Environment) {
	t.Helper()
	y, err := init()
	if err != nil {
		t.Fatal(err)
	}
	e, err := interlock.New(y, interlock.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	return New(e, testConf), e
}

func place(t *testing.T, d *Driver, number int, from, dir int, vias ...int) *interlock.Train {
	t.Helper()
	route, err := d.Path(from, dir, vias...)
	if err != nil {
		t.Fatal(err)
	}
	tr := interlock.NewTrain(number, "", 20)
	if err := d.Place(tr, route); err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestRunToEnd(t *testing.T) {
	d, e := newDriver(t, layout.InitSingleLine)
	place(t, d, 1, 0, 0, 6)
	for i := 0; i < 200 && d.Done() == 0; i++ {
		d.Step(time.Second)
	}
	if d.Done() != 1 {
		t.Fatalf("train did not finish, at %+v", d.Trains()[0].Front)
	}
	for _, sec := range e.Sections {
		if !sec.State().Free() {
			t.Fatalf("s%d not freed", sec.Index)
		}
	}
}

func TestStopsAtHeldSignal(t *testing.T) {
	d, e := newDriver(t, layout.InitSingleLine)
	tr := place(t, d, 1, 0, 0, 6)
	a := e.LookupSignal("A")
	if err := e.RequestHold(a, interlock.HoldManualLock); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 50; i++ {
		d.Step(time.Second)
	}
	if tr.Front.Section != 1 || tr.Front.Offset > 100 || tr.Speed != 0 {
		t.Fatalf("passed held signal: front %+v speed %f", tr.Front, tr.Speed)
	}
	for si := 2; si < len(e.Sections); si++ {
		if e.Sections[si].State().OccupiedBy(1) {
			t.Fatalf("s%d occupied", si)
		}
	}

	if err := e.ClearHold(a); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 200 && d.Done() == 0; i++ {
		d.Step(time.Second)
	}
	if d.Done() != 1 {
		t.Fatalf("train did not finish after hold cleared")
	}
}

func TestSaveRestore(t *testing.T) {
	d, e := newDriver(t, layout.InitPassingLoop)
	y := e.Layout()
	place(t, d, 1, y.MustLookupIndex("W0"), 0, y.MustLookupIndex("main"), y.MustLookupIndex("E0"))
	place(t, d, 2, y.MustLookupIndex("E0"), 1, y.MustLookupIndex("loop"), y.MustLookupIndex("W0"))
	for i := 0; i < 10; i++ {
		d.Step(time.Second)
	}
	var buf bytes.Buffer
	if err := d.Save(&buf); err != nil {
		t.Fatal(err)
	}

	d2, e2 := newDriver(t, layout.InitPassingLoop)
	if err := d2.Restore(bytes.NewReader(buf.Bytes())); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(e.Snapshot().Sections, e2.Snapshot().Sections, cmpopts.EquateEmpty()); diff != "" {
		t.Fatalf("sections (-want +got):\n%s", diff)
	}
	if len(d2.Trains()) != 2 {
		t.Fatalf("got %d trains", len(d2.Trains()))
	}
	for i, tr := range d2.Trains() {
		want := d.Trains()[i]
		if tr.Front != want.Front || tr.Rear != want.Rear || tr.DistanceTravelled != want.DistanceTravelled {
			t.Fatalf("train %d: got %+v, want %+v", tr.Number, tr.Front, want.Front)
		}
		if diff := cmp.Diff(want.Route[0].Sections(), tr.Route[0].Sections()); diff != "" {
			t.Fatalf("train %d route (-want +got):\n%s", tr.Number, diff)
		}
	}

	if err := newEmpty(t).Restore(bytes.NewReader([]byte{0xc1})); err == nil {
		t.Fatalf("garbage accepted")
	}
}

func newEmpty(t *testing.T) *Driver {
	d, _ := newDriver(t, layout.InitPassingLoop)
	return d
}
