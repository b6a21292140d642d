package metrics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// Source supplies the raw rows the metrics are computed from. Each call is
// independent; none depends on another having been made first.
type Source interface {
	Backlog(ctx context.Context) ([]BacklogItem, error)
	Financials(ctx context.Context) ([]SprintFinancial, error)
	Burndown(ctx context.Context) ([]BurndownPoint, error)
	Risks(ctx context.Context) ([]RiskEntry, error)
}

// Schema describes the tables SQLSource reads. It is used to provision an
// empty backlog database.
const Schema = `
CREATE TABLE IF NOT EXISTS backlog_items (
	id           INTEGER PRIMARY KEY,
	sprint_id    TEXT NOT NULL,
	code         TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	description  TEXT,
	priority     TEXT,
	points       INTEGER NOT NULL DEFAULT 0 CHECK (points >= 0),
	completed_at TEXT
);
CREATE TABLE IF NOT EXISTS sprint_financials (
	id        INTEGER PRIMARY KEY,
	sprint_id TEXT NOT NULL,
	ev        REAL NOT NULL DEFAULT 0,
	ac        REAL NOT NULL DEFAULT 0,
	pv        REAL NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS burndown_points (
	id            INTEGER PRIMARY KEY,
	sprint_id     TEXT NOT NULL,
	log_date      TEXT NOT NULL,
	ideal_points  INTEGER NOT NULL DEFAULT 0,
	actual_points INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS sprint_risks (
	id                INTEGER PRIMARY KEY,
	sprint_id         TEXT NOT NULL,
	risk              TEXT NOT NULL DEFAULT '',
	probability       TEXT,
	impact            TEXT,
	mitigation_action TEXT
);
`

// SQLSource reads backlog and earned-value rows from a SQLite database
// opened read-only.
type SQLSource struct {
	db   *sql.DB
	path string
}

// OpenSQLSource opens the database at path in read-only mode.
func OpenSQLSource(path string) (*SQLSource, error) {
	if path == "" {
		return nil, errors.New("metrics: backlog database path is empty")
	}
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open backlog db %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open backlog db %s: %w", path, err)
	}
	return &SQLSource{db: db, path: path}, nil
}

// Close closes the database.
func (s *SQLSource) Close() error { return s.db.Close() }

func (s *SQLSource) Backlog(ctx context.Context) ([]BacklogItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sprint_id, code, title, description, priority, points, completed_at
		FROM backlog_items`)
	if err != nil {
		return nil, fmt.Errorf("query backlog: %w", err)
	}
	defer rows.Close()

	out := []BacklogItem{}
	for rows.Next() {
		var (
			it                    BacklogItem
			desc, prio, completed sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.SprintID, &it.Code, &it.Title, &desc, &prio, &it.Points, &completed); err != nil {
			return nil, fmt.Errorf("scan backlog: %w", err)
		}
		it.Description = desc.String
		it.Priority = prio.String
		if completed.Valid {
			it.CompletedAt = &completed.String
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLSource) Financials(ctx context.Context) ([]SprintFinancial, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sprint_id, ev, ac, pv FROM sprint_financials`)
	if err != nil {
		return nil, fmt.Errorf("query financials: %w", err)
	}
	defer rows.Close()

	out := []SprintFinancial{}
	for rows.Next() {
		var f SprintFinancial
		if err := rows.Scan(&f.SprintID, &f.EV, &f.AC, &f.PV); err != nil {
			return nil, fmt.Errorf("scan financials: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (s *SQLSource) Burndown(ctx context.Context) ([]BurndownPoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sprint_id, log_date, ideal_points, actual_points FROM burndown_points`)
	if err != nil {
		return nil, fmt.Errorf("query burndown: %w", err)
	}
	defer rows.Close()

	out := []BurndownPoint{}
	for rows.Next() {
		var p BurndownPoint
		if err := rows.Scan(&p.SprintID, &p.LogDate, &p.IdealPoints, &p.ActualPoints); err != nil {
			return nil, fmt.Errorf("scan burndown: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLSource) Risks(ctx context.Context) ([]RiskEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sprint_id, risk, probability, impact, mitigation_action FROM sprint_risks`)
	if err != nil {
		return nil, fmt.Errorf("query risks: %w", err)
	}
	defer rows.Close()

	out := []RiskEntry{}
	for rows.Next() {
		var (
			r                   RiskEntry
			prob, impact, mitig sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.SprintID, &r.Risk, &prob, &impact, &mitig); err != nil {
			return nil, fmt.Errorf("scan risks: %w", err)
		}
		r.Probability = prob.String
		r.Impact = impact.String
		r.MitigationAction = mitig.String
		out = append(out, r)
	}
	return out, rows.Err()
}
