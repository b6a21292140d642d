package store

// schema creates the ingestion tables. Timestamps are stored as fixed-width
// UTC text (see tsLayout) so lexical order matches time order.
const schema = `
CREATE TABLE IF NOT EXISTS iot_log (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	device_id      TEXT,
	ts             TEXT NOT NULL,
	received_at    TEXT,
	temperature    REAL,
	humidity       REAL,
	oxygen         REAL,
	co2            INTEGER,
	energy_instant REAL,
	energy_total   REAL,
	energy_peak    REAL,
	raw_json       TEXT,
	batch_id       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_iot_log_ts ON iot_log(ts);
CREATE INDEX IF NOT EXISTS idx_iot_log_batch ON iot_log(batch_id);

CREATE TABLE IF NOT EXISTS iot_latest (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	reading_json TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);
`

const tsLayout = "2006-01-02T15:04:05.000000000Z"
