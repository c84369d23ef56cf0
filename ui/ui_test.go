package ui

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"nyiyui.ca/hato/shingo/interlock"
)

func TestSectionRows(t *testing.T) {
	snap := interlock.Snapshot{
		Sections: []interlock.SectionSnapshot{
			{Index: 0, Comment: "W0", Reserved: -1, Route: -1, Manual: -1},
			{Index: 1, Comment: "Wj", Occupied: []int{1, 2}, Reserved: 1, Claims: []int{2}, Route: 1, Manual: 1, Forced: true},
		},
	}
	want := [][]string{
		{"#", "name", "occ", "res", "claims", "route"},
		{"0", "W0", "-", "-", "-", "-"},
		{"1", "Wj", "1,2", "1", "2", "1m!"},
	}
	if diff := cmp.Diff(want, sectionRows(snap)); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
}

func TestSignalRows(t *testing.T) {
	snap := interlock.Snapshot{
		Signals: []interlock.SignalSnapshot{
			{Index: 3, Comment: "A", Aspect: "stop", Enabled: -1, State: "blocked", Hold: "none"},
			{Index: 4, Comment: "B", Aspect: "clear", Enabled: 2, State: "clear", Hold: "none"},
		},
	}
	want := [][]string{
		{"#", "name", "aspect", "train", "state", "hold"},
		{"3", "A", "stop", "-", "blocked", "none"},
		{"4", "B", "clear", "2", "clear", "none"},
	}
	if diff := cmp.Diff(want, signalRows(snap)); diff != "" {
		t.Fatalf("rows (-want +got):\n%s", diff)
	}
}

func TestTrainText(t *testing.T) {
	snap := interlock.Snapshot{
		Trains: []interlock.TrainSnapshot{
			{Number: 1, Mode: "signal", Front: interlock.Position{Section: 2, Offset: 40.4}, Speed: 10, Authority: "signal"},
		},
	}
	if got, want := trainText(snap), "1 signal s2+40 10.0m/s signal\n"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
