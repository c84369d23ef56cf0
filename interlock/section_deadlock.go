package interlock

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// SetDeadlockTrap records that blocker keeps each of victims out of this section.
func (s *Section) SetDeadlockTrap(blocker int, victims []int) {
	for _, v := range victims {
		if v == blocker {
			continue
		}
		if !slices.Contains(s.traps[v], blocker) {
			s.traps[v] = append(s.traps[v], blocker)
		}
		if !slices.Contains(s.trapActive, blocker) {
			s.trapActive = append(s.trapActive, blocker)
		}
	}
}

// ClearDeadlockTrap removes n from every trap on this section, and drops traps left empty.
func (s *Section) ClearDeadlockTrap(n int) {
	if slices.Contains(s.trapActive, n) {
		for _, victim := range maps.Keys(s.traps) {
			s.traps[victim] = slices.DeleteFunc(s.traps[victim], func(b int) bool { return b == n })
			if len(s.traps[victim]) == 0 {
				delete(s.traps, victim)
			}
		}
		s.trapActive = slices.DeleteFunc(s.trapActive, func(b int) bool { return b == n })
	}
	s.awaited = slices.DeleteFunc(s.awaited, func(a int) bool { return a == n })
}

// CheckDeadlockAwaited reports whether any train other than n is waiting on a trap here.
func (s *Section) CheckDeadlockAwaited(n int) bool {
	count := len(s.awaited)
	if slices.Contains(s.awaited, n) {
		count--
	}
	return count > 0
}

// DeadlockTraps returns victim → blockers.
func (s *Section) DeadlockTraps() map[int][]int {
	c := make(map[int][]int, len(s.traps))
	for k, v := range s.traps {
		c[k] = slices.Clone(v)
	}
	return c
}

func (s *Section) DeadlockAwaited() []int { return slices.Clone(s.awaited) }

func (s *Section) DeadlockActive() []int { return slices.Clone(s.trapActive) }

func (s *Section) trappedFor(n int) bool { return len(s.traps[n]) > 0 }

// trapsForOther reports whether the section carries a trap against a train other than n.
func (s *Section) trapsForOther(n int) bool {
	for victim, blockers := range s.traps {
		if victim != n && len(blockers) > 0 {
			return true
		}
	}
	return false
}

func (s *Section) await(n int) {
	if !slices.Contains(s.awaited, n) {
		s.awaited = append(s.awaited, n)
	}
}

// forgetTrain drops n both as a blocker and as a victim.
func (s *Section) forgetTrain(n int) {
	s.ClearDeadlockTrap(n)
	delete(s.traps, n)
}

// removeTrap drops the trap blocker holds against victim.
func (s *Section) removeTrap(blocker, victim int) {
	bs, ok := s.traps[victim]
	if !ok {
		return
	}
	s.traps[victim] = slices.DeleteFunc(bs, func(b int) bool { return b == blocker })
	if len(s.traps[victim]) == 0 {
		delete(s.traps, victim)
	}
	for _, rest := range s.traps {
		if slices.Contains(rest, blocker) {
			return
		}
	}
	s.trapActive = slices.DeleteFunc(s.trapActive, func(b int) bool { return b == blocker })
}
