package interlock

import (
	"fmt"
	"math"

	"nyiyui.ca/hato/shingo/layout"
)

// ScanStop is why a scan ended.
type ScanStop int

const (
	ScanFound ScanStop = iota
	ScanMaxDistance
	ScanLoop
	ScanUnreserved
	ScanEndOfTrack
)

func (s ScanStop) String() string {
	switch s {
	case ScanFound:
		return "found"
	case ScanMaxDistance:
		return "max-distance"
	case ScanLoop:
		return "loop"
	case ScanUnreserved:
		return "unreserved"
	case ScanEndOfTrack:
		return "end-of-track"
	default:
		return fmt.Sprintf("scan-stop(%d)", int(s))
	}
}

type ItemKind int

const (
	ItemSignal ItemKind = iota
	ItemSpeedPost
)

// ScanItem is something found along a scan.
type ScanItem struct {
	Kind    ItemKind
	Index   int
	Section int
	// Distance from the scan start.
	Distance float64
}

type ScanOptions struct {
	Start layout.Element
	// StartOffset is measured from the entry of Start in Start.Direction.
	StartOffset float64
	// MaxDistance limits the scan; 0 is unlimited.
	MaxDistance float64
	// Train, with ReservedOnly, stops the scan at the first section not held by the train.
	Train        *RoutedTrain
	ReservedOnly bool
	// FindSignal looks for the first signal with a head of Function.
	FindSignal bool
	Function   layout.Function
	// FindSpeedPost looks for the first speed post.
	FindSpeedPost bool
	HonourManual  bool
	// Backward scans against Start.Direction, looking for items facing Start.Direction.
	Backward bool
}

type ScanResult struct {
	// Route holds the elements walked, Start first, in walking direction.
	Route    Route
	Found    []ScanItem
	Stop     ScanStop
	Distance float64
	// Junctions are the switchable sections passed after Start.
	Junctions []int
}

// ScanRoute walks the track from a position following the junctions as they lie (or as they will be
// thrown). It never enters a section twice.
func (e *Environment) ScanRoute(o ScanOptions) ScanResult {
	var res ScanResult
	cur := o.Start
	pos := o.StartOffset
	if o.Backward {
		cur.Direction = 1 - cur.Direction
		pos = e.Sections[cur.Section].Length - o.StartOffset
	}
	visited := map[int]bool{}
	dist := 0.0
	for first := true; ; first = false {
		sec := e.Sections[cur.Section]
		if visited[cur.Section] {
			res.Stop = ScanLoop
			res.Distance = dist
			return res
		}
		visited[cur.Section] = true
		if !first && o.ReservedOnly && o.Train != nil && !sec.IsSet(*o.Train, true) {
			res.Stop = ScanUnreserved
			res.Distance = dist
			return res
		}
		res.Route = append(res.Route, e.routeElement(cur))
		if !first && sec.Type.Switchable() {
			res.Junctions = append(res.Junctions, cur.Section)
		}
		entry := 0.0
		if first {
			entry = pos
		}
		if item, ok := e.scanSection(sec, cur.Direction, entry, first, o); ok {
			item.Distance = dist + item.Distance - entry
			res.Found = append(res.Found, item)
			res.Stop = ScanFound
			res.Distance = item.Distance
			return res
		}
		dist += sec.Length - entry
		if o.MaxDistance > 0 && dist >= o.MaxDistance {
			res.Stop = ScanMaxDistance
			res.Distance = o.MaxDistance
			return res
		}
		next, ok := sec.next(cur.Direction, o.HonourManual)
		if !ok {
			res.Stop = ScanEndOfTrack
			res.Distance = dist
			return res
		}
		cur = next
	}
}

// scanSection returns the first wanted item on sec when walking in wd from entry. The item's
// Distance is its offset in walking direction.
func (e *Environment) scanSection(sec *Section, wd int, entry float64, first bool, o ScanOptions) (ScanItem, bool) {
	id := wd
	if o.Backward {
		id = 1 - wd
	}
	best := ScanItem{Distance: math.Inf(1)}
	consider := func(kind ItemKind, index int, offset float64) {
		wo := offset
		if o.Backward {
			wo = sec.Length - offset
		}
		if first && wo <= entry {
			return
		}
		if wo < best.Distance {
			best = ScanItem{Kind: kind, Index: index, Section: sec.Index, Distance: wo}
		}
	}
	if o.FindSignal {
		if o.Function == layout.FunctionNormal {
			if si := sec.endSignals[id]; si >= 0 {
				consider(ItemSignal, si, e.Signals[si].offset)
			}
		} else {
			for _, si := range sec.items[id][o.Function] {
				consider(ItemSignal, si, e.Signals[si].offset)
			}
		}
	}
	if o.FindSpeedPost {
		for _, pi := range sec.speedPosts[id] {
			consider(ItemSpeedPost, pi, e.SpeedPosts[pi].Offset)
		}
	}
	return best, !math.IsInf(best.Distance, 1)
}

// RouteClearedToSignal reports whether every section from rt's front up to signal sig is held by rt.
func (e *Environment) RouteClearedToSignal(sig int, rt RoutedTrain) (bool, error) {
	s, err := e.Signal(sig)
	if err != nil {
		return false, err
	}
	if !rt.Valid() {
		return false, ErrNilTrain
	}
	t := rt.Train
	res := e.ScanRoute(ScanOptions{
		Start:        layout.Element{Section: t.Front.Section, Direction: t.Front.Direction},
		StartOffset:  t.Front.Offset,
		MaxDistance:  e.cfg.MaxAuthority,
		Train:        &rt,
		ReservedOnly: true,
		HonourManual: true,
	})
	for _, el := range res.Route {
		if el.Section == s.section && el.Direction == s.direction {
			return true, nil
		}
	}
	return false, nil
}
