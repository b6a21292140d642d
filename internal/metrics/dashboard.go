package metrics

import (
	"context"
	"fmt"
)

// Dashboard exposes each metric as an independent read over a Source.
// A zero denominator yields a nil value; only an unreachable source is an
// error.
type Dashboard struct {
	src Source
}

// NewDashboard returns a Dashboard reading from src.
func NewDashboard(src Source) *Dashboard {
	return &Dashboard{src: src}
}

func (d *Dashboard) Velocity(ctx context.Context) (int, error) {
	items, err := d.src.Backlog(ctx)
	if err != nil {
		return 0, fmt.Errorf("velocity: %w", err)
	}
	return Velocity(items), nil
}

// CPI reports ok=false when there are no financial rows.
func (d *Dashboard) CPI(ctx context.Context) (v *float64, ok bool, err error) {
	rows, err := d.src.Financials(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("cpi: %w", err)
	}
	v, ok = CPI(rows)
	return v, ok, nil
}

// SPI reports ok=false when there are no financial rows.
func (d *Dashboard) SPI(ctx context.Context) (v *float64, ok bool, err error) {
	rows, err := d.src.Financials(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("spi: %w", err)
	}
	v, ok = SPI(rows)
	return v, ok, nil
}

func (d *Dashboard) Burndown(ctx context.Context) (Burndown, error) {
	points, err := d.src.Burndown(ctx)
	if err != nil {
		return Burndown{}, fmt.Errorf("burndown: %w", err)
	}
	return BuildBurndown(points), nil
}

func (d *Dashboard) AlignedBurndown(ctx context.Context) ([]AlignedSprint, error) {
	b, err := d.Burndown(ctx)
	if err != nil {
		return nil, err
	}
	return Align(b), nil
}

func (d *Dashboard) Backlog(ctx context.Context) ([]BacklogItem, error) {
	items, err := d.src.Backlog(ctx)
	if err != nil {
		return nil, fmt.Errorf("backlog: %w", err)
	}
	return SortBacklog(items), nil
}

func (d *Dashboard) Risks(ctx context.Context) ([]RiskEntry, error) {
	items, err := d.src.Risks(ctx)
	if err != nil {
		return nil, fmt.Errorf("risks: %w", err)
	}
	return SortRisks(items), nil
}

// Summary gathers velocity, CPI and SPI for report generation.
func (d *Dashboard) Summary(ctx context.Context) (Summary, error) {
	velocity, err := d.Velocity(ctx)
	if err != nil {
		return Summary{}, err
	}
	rows, err := d.src.Financials(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("summary: %w", err)
	}
	cpi, ok := CPI(rows)
	spi, _ := SPI(rows)
	return Summary{Velocity: velocity, CPI: cpi, SPI: spi, HasFinancials: ok}, nil
}
