package database

// schemas maps database names to their embedded schema definitions.
// All statements are idempotent (IF NOT EXISTS) so Migrate can run on every startup.
var schemas = map[string]string{
	"analytics": analyticsSchema,
	"jobs":      jobsSchema,
	"cache":     cacheSchema,
}

// analyticsSchema holds the survey data read by the pipelines and the
// pre-aggregated summary rows they write back.
const analyticsSchema = `
CREATE TABLE IF NOT EXISTS organizations (
    id         TEXT PRIMARY KEY,
    name       TEXT NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS responses (
    id               TEXT PRIMARY KEY,
    organization_id  TEXT NOT NULL,
    survey_id        TEXT NOT NULL,
    submitted_at     INTEGER NOT NULL,
    duration_seconds REAL NOT NULL DEFAULT 0,
    completed        INTEGER NOT NULL DEFAULT 1,
    score            REAL NOT NULL DEFAULT 0,
    force_push       REAL NOT NULL DEFAULT 0,
    force_pull       REAL NOT NULL DEFAULT 0,
    force_habit      REAL NOT NULL DEFAULT 0,
    force_anxiety    REAL NOT NULL DEFAULT 0,
    voice_clarity    REAL,
    voice_sentiment  REAL
);

CREATE INDEX IF NOT EXISTS idx_responses_org_time
    ON responses(organization_id, submitted_at);

CREATE TABLE IF NOT EXISTS aggregates (
    organization_id TEXT NOT NULL,
    period          TEXT NOT NULL,
    window_start    INTEGER NOT NULL,
    window_end      INTEGER NOT NULL,
    payload         TEXT NOT NULL,
    computed_at     INTEGER NOT NULL,
    PRIMARY KEY (organization_id, period, window_start)
);

CREATE TABLE IF NOT EXISTS trend_reports (
    organization_id TEXT NOT NULL,
    metric          TEXT NOT NULL,
    payload         TEXT NOT NULL,
    computed_at     INTEGER NOT NULL,
    PRIMARY KEY (organization_id, metric)
);

CREATE TABLE IF NOT EXISTS forecasts (
    organization_id TEXT NOT NULL,
    metric          TEXT NOT NULL,
    payload         TEXT NOT NULL,
    computed_at     INTEGER NOT NULL,
    PRIMARY KEY (organization_id, metric)
);
`

// jobsSchema is the durable background job record used for crash recovery and audit.
const jobsSchema = `
CREATE TABLE IF NOT EXISTS background_jobs (
    id              TEXT PRIMARY KEY,
    job_type        TEXT NOT NULL,
    organization_id TEXT NOT NULL,
    status          TEXT NOT NULL,
    priority        INTEGER NOT NULL,
    scheduled_at    INTEGER NOT NULL,
    started_at      INTEGER,
    completed_at    INTEGER,
    retry_count     INTEGER NOT NULL DEFAULT 0,
    max_retries     INTEGER NOT NULL DEFAULT 3,
    last_error      TEXT,
    created_at      INTEGER NOT NULL,
    updated_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_due
    ON background_jobs(status, scheduled_at);
`

// cacheSchema mirrors in-memory cache entries for cross-process sharing.
// Payloads are msgpack-encoded entry envelopes.
const cacheSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
    key        TEXT PRIMARY KEY,
    payload    BLOB NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_cache_expires
    ON cache_entries(expires_at);
`
