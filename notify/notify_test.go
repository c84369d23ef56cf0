package notify

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestMultiplexer(t *testing.T) {
	ms, m := NewMultiplexerSender[int]("test")
	a, b := make(chan int, 4), make(chan int, 4)
	m.Subscribe("a", a)
	m.Subscribe("b", b)
	ms.SendSync(1)
	m.Unsubscribe(a)
	ms.SendSync(2)

	var gotA, gotB []int
	for len(a) > 0 {
		gotA = append(gotA, <-a)
	}
	for len(b) > 0 {
		gotB = append(gotB, <-b)
	}
	if diff := cmp.Diff([]int{1}, gotA); diff != "" {
		t.Fatalf("a (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2}, gotB); diff != "" {
		t.Fatalf("b (-want +got):\n%s", diff)
	}
	if m.Len() != 1 {
		t.Fatalf("Len: %d", m.Len())
	}
}

func TestMultiplexerSlowSubscriber(t *testing.T) {
	ms, m := NewMultiplexerSender[string]("test")
	m.timeout = 10 * time.Millisecond
	slow, fast := make(chan string), make(chan string, 1)
	m.Subscribe("slow", slow)
	m.Subscribe("fast", fast)
	ms.SendSync("x")
	select {
	case got := <-fast:
		if got != "x" {
			t.Fatalf("got %q", got)
		}
	default:
		t.Fatalf("fast subscriber starved by slow one")
	}
	if m.Dropped() != 1 {
		t.Fatalf("Dropped: %d", m.Dropped())
	}
}

func TestLatest(t *testing.T) {
	ms, m := NewMultiplexerSender[int]("test")
	if _, ok := m.Latest(); ok {
		t.Fatalf("latest before any send")
	}
	ms.SendSync(3)
	ms.SendSync(4)
	if got, ok := m.Latest(); !ok || got != 4 {
		t.Fatalf("latest: %d %t", got, ok)
	}
}

func TestUnsubscribeTwice(t *testing.T) {
	_, m := NewMultiplexerSender[int]("test")
	c := make(chan int)
	m.Subscribe("c", c)
	m.Unsubscribe(c)
	defer func() {
		if recover() == nil {
			t.Fatalf("second Unsubscribe did not panic")
		}
	}()
	m.Unsubscribe(c)
}

func TestSendAsync(t *testing.T) {
	ms, m := NewMultiplexerSender[int]("test")
	c := make(chan int)
	m.Subscribe("c", c)
	ms.Send(7)
	select {
	case got := <-c:
		if got != 7 {
			t.Fatalf("got %d", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("event not delivered")
	}
}
