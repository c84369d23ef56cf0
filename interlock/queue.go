package interlock

import "golang.org/x/exp/slices"

// Queue is a FIFO of routed trains without duplicates.
type Queue struct {
	items []RoutedTrain
}

// Enqueue adds rt unless the train is already queued.
func (q *Queue) Enqueue(rt RoutedTrain) {
	if q.Contains(rt) {
		return
	}
	q.items = append(q.items, rt)
}

func (q *Queue) Peek() (RoutedTrain, bool) {
	if len(q.items) == 0 {
		return RoutedTrain{}, false
	}
	return q.items[0], true
}

func (q *Queue) Dequeue() (RoutedTrain, bool) {
	rt, ok := q.Peek()
	if ok {
		q.items = q.items[1:]
	}
	return rt, ok
}

// PeekTrain reports whether rt is at the head of the queue.
func (q *Queue) PeekTrain(rt RoutedTrain) bool {
	head, ok := q.Peek()
	return ok && head.Same(rt)
}

func (q *Queue) Contains(rt RoutedTrain) bool {
	return q.index(rt.Number()) != -1
}

func (q *Queue) index(number int) int {
	return slices.IndexFunc(q.items, func(o RoutedTrain) bool { return o.Number() == number })
}

// Remove drops every entry of the train.
func (q *Queue) Remove(number int) {
	q.items = slices.DeleteFunc(q.items, func(o RoutedTrain) bool { return o.Number() == number })
}

func (q *Queue) Len() int { return len(q.items) }

func (q *Queue) Items() []RoutedTrain { return slices.Clone(q.items) }

func (q *Queue) Clear() { q.items = nil }
