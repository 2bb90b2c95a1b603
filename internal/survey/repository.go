package survey

import (
	"database/sql"
	"fmt"
	"time"
)

// Repository provides read access to organizations and response rows.
// The subsystem only reads this data; writes happen upstream in the API layer.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new survey data repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// ListOrganizations returns all registered organizations ordered by id.
func (r *Repository) ListOrganizations() ([]Organization, error) {
	rows, err := r.db.Query(`SELECT id, name, created_at FROM organizations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []Organization
	for rows.Next() {
		var org Organization
		var createdAt int64
		if err := rows.Scan(&org.ID, &org.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		org.CreatedAt = time.Unix(createdAt, 0)
		orgs = append(orgs, org)
	}

	return orgs, rows.Err()
}

// UpsertOrganization inserts or replaces an organization record.
func (r *Repository) UpsertOrganization(org Organization) error {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO organizations (id, name, created_at) VALUES (?, ?, ?)`,
		org.ID, org.Name, org.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert organization %s: %w", org.ID, err)
	}
	return nil
}

// FetchResponses returns responses for an organization submitted in [from, to),
// ordered by submission time.
func (r *Repository) FetchResponses(orgID string, from, to time.Time) ([]Response, error) {
	rows, err := r.db.Query(`
		SELECT id, organization_id, survey_id, submitted_at, duration_seconds,
		       completed, score, force_push, force_pull, force_habit, force_anxiety,
		       voice_clarity, voice_sentiment
		FROM responses
		WHERE organization_id = ? AND submitted_at >= ? AND submitted_at < ?
		ORDER BY submitted_at`,
		orgID, from.Unix(), to.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch responses for %s: %w", orgID, err)
	}
	defer rows.Close()

	var responses []Response
	for rows.Next() {
		var resp Response
		var submittedAt int64
		var completed int
		var clarity, sentiment sql.NullFloat64

		if err := rows.Scan(
			&resp.ID, &resp.OrganizationID, &resp.SurveyID, &submittedAt,
			&resp.DurationSeconds, &completed, &resp.Score,
			&resp.Forces.Push, &resp.Forces.Pull, &resp.Forces.Habit, &resp.Forces.Anxiety,
			&clarity, &sentiment,
		); err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}

		resp.SubmittedAt = time.Unix(submittedAt, 0)
		resp.Completed = completed != 0
		if clarity.Valid {
			resp.VoiceClarity = &clarity.Float64
		}
		if sentiment.Valid {
			resp.VoiceSentiment = &sentiment.Float64
		}

		responses = append(responses, resp)
	}

	return responses, rows.Err()
}

// InsertResponse stores a response row. Used by seeding and tests; production
// writes come from the API layer upstream of this subsystem.
func (r *Repository) InsertResponse(resp Response) error {
	completed := 0
	if resp.Completed {
		completed = 1
	}

	var clarity, sentiment interface{}
	if resp.VoiceClarity != nil {
		clarity = *resp.VoiceClarity
	}
	if resp.VoiceSentiment != nil {
		sentiment = *resp.VoiceSentiment
	}

	_, err := r.db.Exec(`
		INSERT OR REPLACE INTO responses
			(id, organization_id, survey_id, submitted_at, duration_seconds,
			 completed, score, force_push, force_pull, force_habit, force_anxiety,
			 voice_clarity, voice_sentiment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		resp.ID, resp.OrganizationID, resp.SurveyID, resp.SubmittedAt.Unix(),
		resp.DurationSeconds, completed, resp.Score,
		resp.Forces.Push, resp.Forces.Pull, resp.Forces.Habit, resp.Forces.Anxiety,
		clarity, sentiment,
	)
	if err != nil {
		return fmt.Errorf("failed to insert response %s: %w", resp.ID, err)
	}
	return nil
}
