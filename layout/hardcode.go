package layout

import "fmt"

func normalHead(aspects int) Head {
	return Head{Function: FunctionNormal, Aspects: aspects}
}

// InitSingleLine is a 7-section line where sections 2 to 4 are single track guarded from both ends.
//
//	0 - 1 |A> 2 - 3 - 4 |A2> 5 - 6
//	0 - 1 <B2| 2 - 3 - 4 <B| 5 - 6
func InitSingleLine() (*Layout, error) {
	sections := make([]Section, 7)
	for i := range sections {
		sections[i] = StraightLine(fmt.Sprint(i), 100)
	}
	y, err := Connect(sections)
	if err != nil {
		return nil, err
	}
	y.Signals = []Signal{
		NewSignal("A", 1, 0, 100, normalHead(3)),
		NewSignal("B", 5, 1, 100, normalHead(3)),
		NewSignal("A2", 4, 0, 100, normalHead(2)),
		NewSignal("B2", 2, 1, 100, normalHead(2)),
	}
	y.Platforms = []Platform{
		{Name: "west", Station: "Nishi", Sections: []int{0}, Length: 100},
		{Name: "east", Station: "Higashi", Sections: []int{6}, Length: 100},
	}
	return &y, nil
}

// InitPassingLoop is a single line with a passing loop between two junctions.
//
//	            /- loop -\
//	W0 - W - Wj -- main -- Ej - E - E0
func InitPassingLoop() (*Layout, error) {
	y := &Layout{}
	w0 := y.Add(StraightLine("W0", 200))
	w := y.Add(StraightLine("W", 150))
	wj := y.Add(Turnout("Wj", 30, 20))
	main := y.Add(StraightLine("main", 300))
	loop := y.Add(StraightLine("loop", 320))
	ej := y.Add(Turnout("Ej", 30, 20))
	e := y.Add(StraightLine("E", 150))
	e0 := y.Add(StraightLine("E0", 200))
	for _, j := range [][6]int{
		{w0, 0, 0, w, 0, 0},
		{w, 0, 0, wj, 0, 0},
		{wj, 0, 0, main, 0, 0},
		{wj, 0, 1, loop, 0, 0},
		{main, 0, 0, ej, 0, 0},
		{loop, 0, 0, ej, 0, 1},
		{ej, 0, 0, e, 0, 0},
		{e, 0, 0, e0, 0, 0},
	} {
		if err := y.Join(j[0], j[1], j[2], j[3], j[4], j[5]); err != nil {
			return nil, err
		}
	}
	y.Signals = []Signal{
		NewSignal("W", w, 0, 150, normalHead(3)),
		NewSignal("E", e, 1, 150, normalHead(3)),
		NewSignal("main-E", main, 0, 300, normalHead(2)),
		NewSignal("loop-E", loop, 0, 320, normalHead(2)),
		NewSignal("main-W", main, 1, 300, normalHead(2)),
		NewSignal("loop-W", loop, 1, 320, normalHead(2)),
	}
	y.Platforms = []Platform{
		{Name: "1", Station: "Kawa", Sections: []int{main}, Length: 300},
		{Name: "2", Station: "Kawa", Sections: []int{loop}, Length: 300},
	}
	y.DeadlockAreas = []DeadlockArea{
		{
			Name: "Kawa eastbound", Start: wj, Direction: 0,
			Paths: []AreaPath{
				{Name: "main", Elements: []Element{{main, 0}, {ej, 0}}, Main: true},
				{Name: "loop", Elements: []Element{{loop, 0}, {ej, 0}}},
			},
		},
		{
			Name: "Kawa westbound", Start: ej, Direction: 1,
			Paths: []AreaPath{
				{Name: "main", Elements: []Element{{main, 1}, {wj, 1}}},
				{Name: "loop", Elements: []Element{{loop, 1}, {wj, 1}}, Main: true},
			},
		},
	}
	return y, nil
}

// InitBalloonLoop is a line ending in a balloon loop, so a train can come back onto itself.
//
//	in -S> j - a - b
//	       \_________/
func InitBalloonLoop() (*Layout, error) {
	y := &Layout{}
	in := y.Add(StraightLine("in", 200))
	j := y.Add(Turnout("j", 30, 20))
	a := y.Add(StraightLine("a", 250))
	b := y.Add(StraightLine("b", 250))
	y.MustJoin(in, 0, 0, j, 0, 0)
	y.MustJoin(j, 0, 0, a, 0, 0)
	y.MustJoin(a, 0, 0, b, 0, 0)
	y.MustJoin(b, 0, 0, j, 1, 1)
	y.Signals = []Signal{
		NewSignal("S", in, 0, 200, normalHead(2)),
	}
	return y, nil
}

// InitJunction is a single facing junction with a signal in front.
//
//	0 -J> j - 2
//	        \ 3
func InitJunction() (*Layout, error) {
	y := &Layout{}
	s0 := y.Add(StraightLine("0", 100))
	j := y.Add(Turnout("j", 30, 20))
	s2 := y.Add(StraightLine("2", 100))
	s3 := y.Add(StraightLine("3", 100))
	y.MustJoin(s0, 0, 0, j, 0, 0)
	y.MustJoin(j, 0, 0, s2, 0, 0)
	y.MustJoin(j, 0, 1, s3, 0, 0)
	y.Signals = []Signal{
		NewSignal("J", s0, 0, 100, normalHead(3), Head{Function: FunctionShunting, Aspects: 2, Script: "switchstand"}),
	}
	return y, nil
}

// InitPreset returns a preset by name.
func InitPreset(name string) (*Layout, error) {
	switch name {
	case "single-line":
		return InitSingleLine()
	case "passing-loop", "":
		return InitPassingLoop()
	case "balloon-loop":
		return InitBalloonLoop()
	case "junction":
		return InitJunction()
	default:
		return nil, fmt.Errorf("unknown layout preset %q", name)
	}
}
