package layout

func reverse[S ~[]E, E any](s S) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

// PathTo returns the elements travelled from from to goal, both inclusive, in the order they are followed.
// Both pins of a junction are tried. Returns nil if goal can't be reached.
func (y *Layout) PathTo(from Element, goal int) []Element {
	y.checkSection(from.Section)
	y.checkSection(goal)
	if from.Section == goal {
		return []Element{from}
	}
	key := func(e Element) int { return e.Section*2 + e.Direction }
	using := make([]int, len(y.Sections)*2)
	for i := range using {
		using[i] = -1
	}
	using[key(from)] = key(from)
	queue := []Element{from}
	var found *Element
	for len(queue) > 0 && found == nil {
		current := queue[0]
		queue = queue[1:]
		for pin := 0; pin < 2; pin++ {
			next, ok := y.Step(current, pin)
			if !ok || using[key(next)] != -1 {
				continue
			}
			using[key(next)] = key(current)
			if next.Section == goal {
				found = &next
				break
			}
			queue = append(queue, next)
		}
	}
	if found == nil {
		return nil
	}
	path := []Element{*found}
	for k := key(*found); k != key(from); {
		k = using[k]
		path = append(path, Element{Section: k / 2, Direction: k % 2})
	}
	reverse(path)
	return path
}

// PathVia is PathTo but the path must pass through each of vias in order.
func (y *Layout) PathVia(from Element, vias ...int) []Element {
	path := []Element{from}
	for _, via := range vias {
		leg := y.PathTo(path[len(path)-1], via)
		if leg == nil {
			return nil
		}
		path = append(path, leg[1:]...)
	}
	return path
}

// PathLength sums the lengths of the sections in path.
func (y *Layout) PathLength(path []Element) float64 {
	var sum float64
	for _, e := range path {
		sum += y.Sections[e.Section].Length
	}
	return sum
}
