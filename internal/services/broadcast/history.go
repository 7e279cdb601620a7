package broadcast

import "time"

// recordHistory appends a finished-job record and prunes in place.
//
// Broadcast jobs can be created frequently; keeping every record forever would
// steadily retain memory, so the history is bounded both by TTL and by count.
func (s *Service) recordHistory(rec Record) {
	s.mu.Lock()
	max := s.cfg.HistorySize
	ttl := s.cfg.HistoryTTL
	s.mu.Unlock()

	now := time.Now()

	s.histMu.Lock()
	defer s.histMu.Unlock()

	s.history = append(s.history, rec)

	// 1) Drop records older than TTL.
	n := 0
	for _, r := range s.history {
		if now.Sub(r.Finished) > ttl {
			continue
		}
		s.history[n] = r
		n++
	}
	s.history = s.history[:n]

	// 2) Still too big: history is append-ordered, so cut from the front.
	if len(s.history) > max {
		excess := len(s.history) - max
		s.history = append(s.history[:0], s.history[excess:]...)
	}
}

// History returns retained finished-job records, newest first.
func (s *Service) History() []Record {
	s.histMu.Lock()
	defer s.histMu.Unlock()
	out := make([]Record, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		out = append(out, s.history[i])
	}
	return out
}
