package metrics

import "sort"

// Align puts each sprint's ideal and actual series on a shared date axis:
// the union of both series' dates for that sprint, ascending. Dates missing
// from a series are nil, never interpolated or zero-filled. Sprints are
// returned in ascending order.
func Align(b Burndown) []AlignedSprint {
	type sprintSeries struct {
		ideal, actual map[string]int
		dates         map[string]struct{}
	}

	bySprint := make(map[string]*sprintSeries)
	get := func(id string) *sprintSeries {
		s, ok := bySprint[id]
		if !ok {
			s = &sprintSeries{
				ideal:  make(map[string]int),
				actual: make(map[string]int),
				dates:  make(map[string]struct{}),
			}
			bySprint[id] = s
		}
		return s
	}

	for _, p := range b.Ideal {
		s := get(p.SprintID)
		s.ideal[p.LogDate] = p.Points
		s.dates[p.LogDate] = struct{}{}
	}
	for _, p := range b.Actual {
		s := get(p.SprintID)
		s.actual[p.LogDate] = p.Points
		s.dates[p.LogDate] = struct{}{}
	}

	ids := make([]string, 0, len(bySprint))
	for id := range bySprint {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return compareSprint(ids[i], ids[j]) < 0 })

	out := make([]AlignedSprint, 0, len(ids))
	for _, id := range ids {
		s := bySprint[id]
		dates := make([]string, 0, len(s.dates))
		for d := range s.dates {
			dates = append(dates, d)
		}
		sort.Slice(dates, func(i, j int) bool { return compareDate(dates[i], dates[j]) < 0 })

		as := AlignedSprint{
			SprintID: id,
			Dates:    dates,
			Ideal:    make([]*int, len(dates)),
			Actual:   make([]*int, len(dates)),
		}
		for i, d := range dates {
			if v, ok := s.ideal[d]; ok {
				as.Ideal[i] = &v
			}
			if v, ok := s.actual[d]; ok {
				as.Actual[i] = &v
			}
		}
		out = append(out, as)
	}
	return out
}
