package metrics

// BacklogItem is one sprint-scoped backlog entry.
type BacklogItem struct {
	ID          int64   `json:"id"`
	SprintID    string  `json:"sprint_id"`
	Code        string  `json:"code"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    string  `json:"priority"`
	Points      int     `json:"points"`
	CompletedAt *string `json:"completed_at"`
}

// SprintFinancial is one earned-value row.
type SprintFinancial struct {
	SprintID string  `json:"sprint_id"`
	EV       float64 `json:"ev"`
	AC       float64 `json:"ac"`
	PV       float64 `json:"pv"`
}

// BurndownPoint is one day of a sprint's burndown log.
type BurndownPoint struct {
	SprintID     string `json:"sprint_id"`
	LogDate      string `json:"log_date"`
	IdealPoints  int    `json:"ideal_points"`
	ActualPoints int    `json:"actual_points"`
}

// RiskEntry is one row of a sprint's risk matrix.
type RiskEntry struct {
	ID               int64  `json:"id"`
	SprintID         string `json:"sprint_id"`
	Risk             string `json:"risk"`
	Probability      string `json:"probability"`
	Impact           string `json:"impact"`
	MitigationAction string `json:"mitigation_action"`
}

// SeriesPoint is one point of an ideal or actual burndown series.
type SeriesPoint struct {
	SprintID string `json:"sprint_id"`
	LogDate  string `json:"log_date"`
	Points   int    `json:"points"`
}

// Burndown holds the two independently derived series.
type Burndown struct {
	Ideal  []SeriesPoint `json:"ideal"`
	Actual []SeriesPoint `json:"actual"`
}

// AlignedSprint is one sprint's burndown on a shared date axis. A nil entry
// means the series has no value on that date.
type AlignedSprint struct {
	SprintID string   `json:"sprint_id"`
	Dates    []string `json:"dates"`
	Ideal    []*int   `json:"ideal"`
	Actual   []*int   `json:"actual"`
}

// Summary bundles the headline metrics for reports. CPI and SPI are nil
// either when there are no financial rows or when the denominator is zero;
// HasFinancials tells the two apart.
type Summary struct {
	Velocity      int      `json:"velocity"`
	CPI           *float64 `json:"cpi"`
	SPI           *float64 `json:"spi"`
	HasFinancials bool     `json:"has_financials"`
}
