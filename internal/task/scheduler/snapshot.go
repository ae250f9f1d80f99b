package scheduler

import "slices"

func (s *Service) record(it HistoryItem) {
	s.mu.Lock()
	limit := s.cfg.HistorySize
	s.mu.Unlock()
	if limit <= 0 {
		limit = defaultHistorySize
	}
	s.hmu.Lock()
	s.history = append(s.history, it)
	if over := len(s.history) - limit; over > 0 {
		s.history = slices.Delete(s.history, 0, over)
	}
	s.hmu.Unlock()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	enabled := s.cfg.Enabled
	defs := slices.Clone(s.defs)
	c := s.c
	loc := s.loc
	s.mu.Unlock()
	if loc == nil {
		loc = s.Location()
	}

	items := make([]ScheduleInfo, 0, len(defs))
	for _, d := range defs {
		it := ScheduleInfo{Name: d.name, Spec: d.spec, Timeout: d.timeout}
		if c != nil && d.entryID != 0 {
			e := c.Entry(d.entryID)
			it.Next = e.Next
			it.Prev = e.Prev
		}
		if d.state.mu.TryLock() {
			it.Runs = d.state.runs
			it.LastErr = d.state.lastErr
			d.state.mu.Unlock()
		}
		items = append(items, it)
	}

	s.hmu.Lock()
	hist := slices.Clone(s.history)
	s.hmu.Unlock()

	return Snapshot{
		Enabled:   enabled,
		Timezone:  loc.String(),
		Running:   c != nil,
		Schedules: items,
		History:   hist,
	}
}
