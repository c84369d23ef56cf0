package interlock

import (
	"fmt"

	"golang.org/x/exp/slices"
)

type ControlMode int

const (
	ControlAutoSignal ControlMode = iota
	ControlAutoNode
	ControlManual
	ControlExplorer
	ControlUndefined
)

func (c ControlMode) String() string {
	switch c {
	case ControlAutoSignal:
		return "auto-signal"
	case ControlAutoNode:
		return "auto-node"
	case ControlManual:
		return "manual"
	case ControlExplorer:
		return "explorer"
	default:
		return "undefined"
	}
}

type TrainType int

const (
	TrainPlayer TrainType = iota
	TrainAI
)

// TrainHooks is how the interlocking tells a train's owner that it has to act.
type TrainHooks interface {
	// SwitchToNodeControl is called after a protocol conflict took the train's signal away.
	SwitchToNodeControl(t *Train, section int)
	// Reroute is called when a dispatcher forced a switch in the train's route.
	Reroute(t *Train, section int)
	// ResetActions drops any pending actions (stops, waits) that depended on the old route.
	ResetActions(t *Train)
	// PoolAccess is called when node authority stops at the train's PoolAccessSection. The owner
	// re-routes the train and clears PoolAccessSection.
	PoolAccess(t *Train, section int)
}

// Position is one end of a train.
type Position struct {
	Section   int
	Direction int
	// Offset from the entry of Section when travelling in Direction.
	Offset float64
	// RouteIndex is the index of Section in the train's active route.
	RouteIndex int
}

// Train is the part of a train the interlocking needs. Exported fields are owned by the train's
// owner; the rest is owned by the interlocking.
type Train struct {
	Number      int
	Name        string
	Type        TrainType
	ControlMode ControlMode
	// Length in metres.
	Length float64
	// Speed in m/s.
	Speed             float64
	DistanceTravelled float64
	Priority          int
	Subpath           int
	// Dir is the active running direction and selects from Route.
	Dir   int
	Route [2]Route
	// AlternativePaths are routes around conflicts, referenced by RouteElement.StartAlternativePath.
	AlternativePaths map[int]Route
	Front, Rear      Position
	// Placing is set while the train is being put on the track for the first time.
	Placing bool
	// WaitSections are sections the train has to wait in front of.
	WaitSections []int
	// PoolAccessSection, if set, is where the train has to stop to be re-routed into a pool.
	PoolAccessSection int
	CallOnAllowed     bool
	Hooks             TrainHooks

	authority [2]EndAuthority
	// lastReserved is the route index of the last section reserved per direction.
	lastReserved [2]int
	clearing     []clearing
	// deadlockInfo is entry section → traps to install when the section is taken.
	deadlockInfo map[int][]trapRef
}

type clearing struct {
	Section  int
	Distance float64
}

// trapRef is a trap against train Train, to be put on section Boundary.
type trapRef struct {
	Train    int
	Boundary int
}

// NewTrain returns a train with no route in signal control.
func NewTrain(number int, name string, length float64) *Train {
	return &Train{
		Number:            number,
		Name:              name,
		Length:            length,
		PoolAccessSection: -1,
		lastReserved:      [2]int{-1, -1},
	}
}

func (t *Train) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%d(%s)", t.Number, t.Name)
}

// Authority returns the last end of authority computed for direction dir.
func (t *Train) Authority(dir int) EndAuthority { return t.authority[dir] }

func (t *Train) waitsAt(section int) bool { return slices.Contains(t.WaitSections, section) }

func (t *Train) stopped() bool { return t.Speed == 0 }

func (t *Train) activeRoute() Route { return t.Route[t.Dir] }

// RoutedTrain is a train together with the running direction a reservation is for.
type RoutedTrain struct {
	Train *Train
	Dir   int
}

func (rt RoutedTrain) Number() int {
	if rt.Train == nil {
		return -1
	}
	return rt.Train.Number
}

func (rt RoutedTrain) Route() Route { return rt.Train.Route[rt.Dir] }

func (rt RoutedTrain) Valid() bool { return rt.Train != nil }

func (rt RoutedTrain) Same(o RoutedTrain) bool {
	return rt.Train != nil && o.Train != nil && rt.Train.Number == o.Train.Number
}

func (rt RoutedTrain) String() string {
	return fmt.Sprintf("%s/d%d", rt.Train, rt.Dir)
}

// AltRef refers to an alternative path of a train.
type AltRef struct {
	Path int
	// EndSection is where the alternative path rejoins the route.
	EndSection int
}

type RouteElement struct {
	Section   int
	Direction int
	// FacingPoint is set when the element is a junction entered from its single side.
	FacingPoint          bool
	StartAlternativePath *AltRef
	EndAlternativePath   *AltRef
	// UsedAlternativePath is the alternative or deadlock path taken from here, or -1.
	UsedAlternativePath int
}

func NewRouteElement(section, direction int) RouteElement {
	return RouteElement{Section: section, Direction: direction, UsedAlternativePath: -1}
}

type Route []RouteElement

// Index returns the index of section in the route, looking from start, or -1.
func (r Route) Index(section, start int) int {
	if start < 0 {
		start = 0
	}
	for i := start; i < len(r); i++ {
		if r[i].Section == section {
			return i
		}
	}
	return -1
}

func (r Route) Sections() []int {
	s := make([]int, len(r))
	for i, e := range r {
		s[i] = e.Section
	}
	return s
}

func (r Route) Clone() Route {
	c := slices.Clone(r)
	for i := range c {
		if c[i].StartAlternativePath != nil {
			ref := *c[i].StartAlternativePath
			c[i].StartAlternativePath = &ref
		}
		if c[i].EndAlternativePath != nil {
			ref := *c[i].EndAlternativePath
			c[i].EndAlternativePath = &ref
		}
	}
	return c
}

// EndAuthority is how far a train may go under node control, and why no further.
type EndAuthority struct {
	Type     AuthorityType
	Distance float64
	// Section is the last section of the authority, or -1.
	Section    int
	RouteIndex int
}

func (e EndAuthority) String() string {
	return fmt.Sprintf("%s at %.1fm (s%d)", e.Type, e.Distance, e.Section)
}
