// Package metrics derives dashboard metrics (velocity, CPI, SPI, burndown)
// from backlog and earned-value rows. The functions in this file are pure
// and safe to call concurrently.
package metrics

import (
	"cmp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Velocity is the sum of story points across items.
func Velocity(items []BacklogItem) int {
	total := 0
	for _, it := range items {
		total += it.Points
	}
	return total
}

// CPI is the cost performance index Σev/Σac across all rows, rounded to two
// places. ok is false when rows is empty (no metric). The value is nil when
// Σac is zero.
func CPI(rows []SprintFinancial) (v *float64, ok bool) {
	if len(rows) == 0 {
		return nil, false
	}
	ev, ac := decimal.Zero, decimal.Zero
	for _, r := range rows {
		ev = ev.Add(decimal.NewFromFloat(r.EV))
		ac = ac.Add(decimal.NewFromFloat(r.AC))
	}
	return ratio(ev, ac), true
}

// SPI is the schedule performance index Σev/Σpv, with the same rules as CPI.
func SPI(rows []SprintFinancial) (v *float64, ok bool) {
	if len(rows) == 0 {
		return nil, false
	}
	ev, pv := decimal.Zero, decimal.Zero
	for _, r := range rows {
		ev = ev.Add(decimal.NewFromFloat(r.EV))
		pv = pv.Add(decimal.NewFromFloat(r.PV))
	}
	return ratio(ev, pv), true
}

// ratio returns num/den rounded half away from zero to 2 places, or nil
// for a zero denominator.
func ratio(num, den decimal.Decimal) *float64 {
	if den.IsZero() {
		return nil
	}
	f, _ := num.Div(den).Round(2).Float64()
	return &f
}

// BuildBurndown splits points into ideal and actual series, each ordered by
// sprint then log date.
func BuildBurndown(points []BurndownPoint) Burndown {
	sorted := make([]BurndownPoint, len(points))
	copy(sorted, points)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := compareSprint(sorted[i].SprintID, sorted[j].SprintID); c != 0 {
			return c < 0
		}
		return compareDate(sorted[i].LogDate, sorted[j].LogDate) < 0
	})

	b := Burndown{
		Ideal:  make([]SeriesPoint, 0, len(sorted)),
		Actual: make([]SeriesPoint, 0, len(sorted)),
	}
	for _, p := range sorted {
		b.Ideal = append(b.Ideal, SeriesPoint{SprintID: p.SprintID, LogDate: p.LogDate, Points: p.IdealPoints})
		b.Actual = append(b.Actual, SeriesPoint{SprintID: p.SprintID, LogDate: p.LogDate, Points: p.ActualPoints})
	}
	return b
}

// SortBacklog returns a copy of items ordered by sprint then id.
func SortBacklog(items []BacklogItem) []BacklogItem {
	out := make([]BacklogItem, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		if c := compareSprint(out[i].SprintID, out[j].SprintID); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// SortRisks returns a copy of items ordered by sprint then id.
func SortRisks(items []RiskEntry) []RiskEntry {
	out := make([]RiskEntry, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		if c := compareSprint(out[i].SprintID, out[j].SprintID); c != 0 {
			return c < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// compareSprint orders integer sprint ids numerically, so "2" sorts before
// "10", and places every non-integer id after them in lexical order.
func compareSprint(a, b string) int {
	ai, aerr := strconv.ParseInt(strings.TrimSpace(a), 10, 64)
	bi, berr := strconv.ParseInt(strings.TrimSpace(b), 10, 64)
	switch {
	case aerr == nil && berr == nil:
		if c := cmp.Compare(ai, bi); c != 0 {
			return c
		}
	case aerr == nil:
		return -1
	case berr == nil:
		return 1
	}
	return strings.Compare(a, b)
}

var dateLayouts = []string{"2006-01-02", "2006-01-02 15:04:05", time.RFC3339}

// compareDate orders log dates chronologically, with unparseable dates
// after all parseable ones in lexical order.
func compareDate(a, b string) int {
	at, aok := parseDate(a)
	bt, bok := parseDate(b)
	switch {
	case aok && bok:
		if c := at.Compare(bt); c != 0 {
			return c
		}
	case aok:
		return -1
	case bok:
		return 1
	}
	return strings.Compare(a, b)
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
