package stream

import "time"

// Stats is a snapshot of a session's counters.
type Stats struct {
	Name   string `json:"name"`
	Reason Reason `json:"reason"`

	// Captured counts frames read from the source.
	Captured uint64 `json:"captured"`
	// Delivered counts frames yielded to the consumer.
	Delivered uint64 `json:"delivered"`
	// Evicted counts frames overwritten before the consumer got to them.
	Evicted uint64 `json:"evicted"`
	// Cleared counts frames dropped on shutdown.
	Cleared uint64 `json:"cleared"`
	// Discarded counts frames popped concurrently with cancellation.
	Discarded uint64 `json:"discarded"`

	Buffered int `json:"buffered"`
	Capacity int `json:"capacity"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
}

// Dropped returns the number of captured frames the consumer never saw.
func (st Stats) Dropped() uint64 {
	return st.Evicted + st.Cleared + st.Discarded
}

// Stats returns a snapshot of the session counters.
func (s *Session[T]) Stats() Stats {
	bs := s.buf.Stats()

	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Name:      s.cfg.Name,
		Reason:    s.reason,
		Captured:  s.captured.Load(),
		Delivered: s.delivered.Load(),
		Evicted:   bs.Evicted,
		Cleared:   bs.Cleared,
		Discarded: s.discarded.Load(),
		Buffered:  s.buf.Len(),
		Capacity:  s.buf.Cap(),
		StartedAt: s.startedAt,
		EndedAt:   s.endedAt,
	}
}
