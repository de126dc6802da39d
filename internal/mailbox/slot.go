package mailbox

import "sync/atomic"

// Slot is a single-value cell. Put replaces the value; Take removes it.
// One writer and one reader may use it concurrently without locks.
type Slot struct {
	v atomic.Pointer[Message]
}

// Put stores m and reports whether it replaced a value nobody had taken.
func (s *Slot) Put(m Message) (overwrote bool) {
	return s.v.Swap(&m) != nil
}

// Take removes and returns the value, if any.
func (s *Slot) Take() (Message, bool) {
	p := s.v.Swap(nil)
	if p == nil {
		return Message{}, false
	}
	return *p, true
}

// Pending reports whether a value is waiting.
func (s *Slot) Pending() bool {
	return s.v.Load() != nil
}

// Clear drops any waiting value.
func (s *Slot) Clear() {
	s.v.Store(nil)
}
