// Package ui renders the interlocking state on the terminal.
package ui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"
	"nyiyui.ca/hato/shingo/interlock"
	"nyiyui.ca/hato/shingo/notify"
)

// Run draws every snapshot from m until ctx is done or the user quits with q or Ctrl-C.
func Run(ctx context.Context, m *notify.Multiplexer[interlock.Snapshot]) error {
	err := termui.Init()
	if err != nil {
		return fmt.Errorf("termui init: %w", err)
	}
	defer termui.Close()

	ch := make(chan interlock.Snapshot)
	m.Subscribe("ui", ch)
	defer m.Unsubscribe(ch)

	sections := widgets.NewTable()
	sections.Title = "sections"
	sections.RowSeparator = false
	signals := widgets.NewTable()
	signals.Title = "signals"
	signals.RowSeparator = false
	trains := widgets.NewParagraph()
	trains.Title = "trains"
	layoutWidgets := func() {
		w, h := termui.TerminalDimensions()
		sections.SetRect(0, 0, w/2, h-6)
		signals.SetRect(w/2, 0, w, h-6)
		trains.SetRect(0, h-6, w, h)
	}
	layoutWidgets()
	draw := func(snap interlock.Snapshot) {
		sections.Rows = sectionRows(snap)
		signals.Rows = signalRows(snap)
		trains.Text = trainText(snap)
		termui.Render(sections, signals, trains)
	}
	if snap, ok := m.Latest(); ok {
		draw(snap)
	} else {
		trains.Text = "waiting for the first snapshot"
		termui.Render(trains)
	}

	events := termui.PollEvents()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-events:
			switch e.ID {
			case "q", "<C-c>":
				return nil
			case "<Resize>":
				termui.Clear()
				layoutWidgets()
				termui.Render(sections, signals, trains)
			}
		case snap := <-ch:
			draw(snap)
		}
	}
}

func number(n int) string {
	if n < 0 {
		return "-"
	}
	return strconv.Itoa(n)
}

func numbers(ns []int) string {
	if len(ns) == 0 {
		return "-"
	}
	ss := make([]string, len(ns))
	for i, n := range ns {
		ss[i] = strconv.Itoa(n)
	}
	return strings.Join(ss, ",")
}

func sectionRows(snap interlock.Snapshot) [][]string {
	rows := [][]string{{"#", "name", "occ", "res", "claims", "route"}}
	for _, ss := range snap.Sections {
		route := number(ss.Route)
		if ss.Route >= 0 && ss.Manual >= 0 {
			route += "m"
		}
		if ss.Forced {
			route += "!"
		}
		rows = append(rows, []string{
			strconv.Itoa(ss.Index),
			ss.Comment,
			numbers(ss.Occupied),
			number(ss.Reserved),
			numbers(ss.Claims),
			route,
		})
	}
	return rows
}

func signalRows(snap interlock.Snapshot) [][]string {
	rows := [][]string{{"#", "name", "aspect", "train", "state", "hold"}}
	for _, ss := range snap.Signals {
		rows = append(rows, []string{
			strconv.Itoa(ss.Index),
			ss.Comment,
			ss.Aspect,
			number(ss.Enabled),
			ss.State,
			ss.Hold,
		})
	}
	return rows
}

func trainText(snap interlock.Snapshot) string {
	b := new(strings.Builder)
	for _, t := range snap.Trains {
		fmt.Fprintf(b, "%d %s s%d+%.0f %.1fm/s %s\n", t.Number, t.Mode, t.Front.Section, t.Front.Offset, t.Speed, t.Authority)
	}
	return b.String()
}
