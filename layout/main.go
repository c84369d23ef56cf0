package layout

import (
	"fmt"
	"math"

	"golang.org/x/exp/slices"
)

// CircuitType is the topological kind of a track circuit section.
type CircuitType int

const (
	CircuitNormal CircuitType = iota
	CircuitJunction
	CircuitCrossover
	CircuitEndOfTrack
)

func (c CircuitType) String() string {
	switch c {
	case CircuitNormal:
		return "normal"
	case CircuitJunction:
		return "junction"
	case CircuitCrossover:
		return "crossover"
	case CircuitEndOfTrack:
		return "end-of-track"
	default:
		return fmt.Sprintf("circuit(%d)", int(c))
	}
}

// Switchable reports whether sections of this type have a second, selectable pin.
func (c CircuitType) Switchable() bool {
	return c == CircuitJunction || c == CircuitCrossover
}

// Function is the function of a signal head.
// The set is closed; per-function tables are sized with FunctionCount.
type Function int

const (
	FunctionNormal Function = iota
	FunctionDistance
	FunctionRepeater
	FunctionShunting
	FunctionInfo
	FunctionSpeed
	FunctionAlert
	FunctionCount
)

func (f Function) String() string {
	switch f {
	case FunctionNormal:
		return "normal"
	case FunctionDistance:
		return "distance"
	case FunctionRepeater:
		return "repeater"
	case FunctionShunting:
		return "shunting"
	case FunctionInfo:
		return "info"
	case FunctionSpeed:
		return "speed"
	case FunctionAlert:
		return "alert"
	default:
		return fmt.Sprintf("function(%d)", int(f))
	}
}

// Pin links one end of a section to a neighbouring section.
type Pin struct {
	// Link is the index of the neighbouring section, or -1 if there is none.
	Link int
	// Direction is the direction of travel on Link after crossing this pin.
	Direction int
}

// NoPin is an unconnected pin.
var NoPin = Pin{Link: -1, Direction: -1}

func (p Pin) Connected() bool { return p.Link >= 0 }

func (p Pin) String() string {
	if !p.Connected() {
		return "NA"
	}
	return fmt.Sprintf("s%d/d%d", p.Link, p.Direction)
}

// Section is a track circuit section as delivered by the topology loader.
type Section struct {
	// Comment is a human-readable name, used by MustLookupIndex.
	Comment string
	Type    CircuitType
	// Length in metres.
	Length float64
	// Overlap is the clearing overlap past a junction or crossover in metres. 0 uses the configured default.
	Overlap float64
	// Pins[d] are the sections reached when leaving this section while travelling in direction d.
	// Only switchable sections use Pins[d][1].
	Pins [2][2]Pin
	// DefaultRoute is the route (0 or 1) a junction takes when nothing else set it.
	DefaultRoute int
}

// NewSection returns an unconnected section.
func NewSection(comment string, ct CircuitType, length float64) Section {
	return Section{
		Comment: comment,
		Type:    ct,
		Length:  length,
		Pins:    [2][2]Pin{{NoPin, NoPin}, {NoPin, NoPin}},
	}
}

// SwitchDirection returns the direction in which the section offers two exits, or -1.
func (s *Section) SwitchDirection() int {
	for d := 0; d < 2; d++ {
		if s.Pins[d][1].Connected() {
			return d
		}
	}
	return -1
}

// Head is a single signal head.
type Head struct {
	Function Function
	// Aspects is the number of aspects the head can show (2 or 3).
	Aspects int
	// Script selects the head logic; empty means the default for Function.
	Script string
	// SpeedLimit is the speed in m/s the head signals when clear (0 for none).
	SpeedLimit float64
	// Approach, if set, holds the head at stop until the approach condition is met.
	Approach *Approach
}

// ApproachKind selects the approach-control condition.
type ApproachKind int

const (
	ApproachPosition ApproachKind = iota + 1
	ApproachSpeed
	ApproachNextStop
)

// Approach configures approach control for a head.
type Approach struct {
	Kind ApproachKind
	// Distance in metres within which the train must be.
	Distance float64
	// Speed in m/s below which the train must be (ApproachSpeed only).
	Speed float64
	// Dwell in seconds after the timing trigger (ApproachNextStop only).
	Dwell float64
}

// Signal is a physical signal placement.
type Signal struct {
	Comment   string
	Section   int
	Direction int
	// Offset from the entry of Section when travelling in Direction, in metres.
	Offset float64
	Heads  []Head
	// ClearAhead is the number of signals to clear ahead: -1 (clear one / inherit), 0 (never propagate) or N.
	ClearAhead int
	// ClearAheadOverride overrides ClearAhead when > -2.
	ClearAheadOverride int
	// NoClaim disables claiming of sections for this signal.
	NoClaim bool
}

// NewSignal returns a signal with default clear-ahead settings.
func NewSignal(comment string, section, direction int, offset float64, heads ...Head) Signal {
	return Signal{
		Comment:            comment,
		Section:            section,
		Direction:          direction,
		Offset:             offset,
		Heads:              heads,
		ClearAhead:         -1,
		ClearAheadOverride: -2,
	}
}

// HasFunction reports whether any head of the signal has function f.
func (s *Signal) HasFunction(f Function) bool {
	for _, h := range s.Heads {
		if h.Function == f {
			return true
		}
	}
	return false
}

// SpeedPost is a speed limit sign.
type SpeedPost struct {
	Comment   string
	Section   int
	Direction int
	Offset    float64
	// Passenger and Freight are limits in m/s.
	Passenger float64
	Freight   float64
}

// Platform is a station platform spanning one or more sections.
type Platform struct {
	Name     string
	Station  string
	Sections []int
	Length   float64
}

// Tunnel is a tunnel spanning one or more sections.
type Tunnel struct {
	Name     string
	Sections []int
}

// Element is a section travelled in a direction.
type Element struct {
	Section   int
	Direction int
}

func (e Element) String() string {
	return fmt.Sprintf("s%d/d%d", e.Section, e.Direction)
}

// DeadlockArea is a passing area starting at a facing junction with a number of paths through it.
type DeadlockArea struct {
	Name string
	// Start is the facing junction where the area begins, entered in Direction.
	Start     int
	Direction int
	Paths     []AreaPath
}

// AreaPath is one way through a deadlock area.
type AreaPath struct {
	Name string
	// Elements run from the section after Start up to and including the trailing junction.
	Elements []Element
	// Main marks the path trains use by default.
	Main bool
}

type Layout struct {
	Sections      []Section
	Signals       []Signal
	SpeedPosts    []SpeedPost
	Platforms     []Platform
	Tunnels       []Tunnel
	DeadlockAreas []DeadlockArea
}

// checkSection panics if si doesn't exist in this Layout.
func (y *Layout) checkSection(si int) {
	if si < 0 || si >= len(y.Sections) {
		panic(fmt.Sprintf("invalid section %d: layout has %d", si, len(y.Sections)))
	}
}

// LookupIndex finds a section with a matching comment.
func (y *Layout) LookupIndex(comment string) (int, bool) {
	for si, s := range y.Sections {
		if s.Comment == comment {
			return si, true
		}
	}
	return -1, false
}

// MustLookupIndex is LookupIndex that panics when nothing matches.
// This is for debugging/testing.
func (y *Layout) MustLookupIndex(comment string) int {
	si, ok := y.LookupIndex(comment)
	if !ok {
		panic(fmt.Sprintf("found nothing when looking up for %s", comment))
	}
	return si
}

// Step returns the element reached by leaving e, following pin.
func (y *Layout) Step(e Element, pin int) (next Element, exists bool) {
	y.checkSection(e.Section)
	p := y.Sections[e.Section].Pins[e.Direction][pin]
	if !p.Connected() {
		return Element{}, false
	}
	return Element{Section: p.Link, Direction: p.Direction}, true
}

// Clone returns a deep copy of y.
func (y *Layout) Clone() *Layout {
	c := &Layout{
		Sections:      slices.Clone(y.Sections),
		Signals:       slices.Clone(y.Signals),
		SpeedPosts:    slices.Clone(y.SpeedPosts),
		Platforms:     slices.Clone(y.Platforms),
		Tunnels:       slices.Clone(y.Tunnels),
		DeadlockAreas: slices.Clone(y.DeadlockAreas),
	}
	for i := range c.Signals {
		c.Signals[i].Heads = slices.Clone(c.Signals[i].Heads)
	}
	for i := range c.Platforms {
		c.Platforms[i].Sections = slices.Clone(c.Platforms[i].Sections)
	}
	for i := range c.Tunnels {
		c.Tunnels[i].Sections = slices.Clone(c.Tunnels[i].Sections)
	}
	for i := range c.DeadlockAreas {
		a := &c.DeadlockAreas[i]
		a.Paths = slices.Clone(a.Paths)
		for j := range a.Paths {
			a.Paths[j].Elements = slices.Clone(a.Paths[j].Elements)
		}
	}
	return c
}

const lengthEpsilon = 0.01

func nearlyEqual(a, b float64) bool {
	return math.Abs(a-b) < lengthEpsilon
}
