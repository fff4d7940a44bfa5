package db

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNoResume is returned when a user has never supplied a base résumé.
var ErrNoResume = fmt.Errorf("user has no base resume")

// UserSettings are the per-user knobs the pipeline reads at step 0.
type UserSettings struct {
	UserID             uuid.UUID `json:"user_id"`
	SearchKeywords     string    `json:"search_keywords"`
	SearchLocation     string    `json:"search_location"`
	MaxJobs            int       `json:"max_jobs"`
	Concurrency        int       `json:"concurrency"`
	RelevanceThreshold int       `json:"relevance_threshold"`
	PreferredProvider  string    `json:"preferred_provider"`
	AllowFallback      bool      `json:"allow_fallback"`
}

// GetUserSettings retrieves a user's pipeline settings, or (nil, nil) when
// the user has none configured.
func (db *DB) GetUserSettings(ctx context.Context, userID uuid.UUID) (*UserSettings, error) {
	var s UserSettings
	err := db.pool.QueryRow(ctx,
		`SELECT user_id, COALESCE(search_keywords, ''), COALESCE(search_location, ''),
		        COALESCE(max_jobs, 20), COALESCE(concurrency, 5),
		        COALESCE(relevance_threshold, 50), COALESCE(preferred_provider, ''),
		        COALESCE(allow_fallback, FALSE)
		 FROM user_settings WHERE user_id = $1`,
		userID,
	).Scan(&s.UserID, &s.SearchKeywords, &s.SearchLocation, &s.MaxJobs, &s.Concurrency,
		&s.RelevanceThreshold, &s.PreferredProvider, &s.AllowFallback)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}
	return &s, nil
}

// GetCredential reads a user's stored credential by key. Decryption happens
// upstream of this store; the value is opaque here. Absent credentials are
// ("", nil), not an error.
func (db *DB) GetCredential(ctx context.Context, userID uuid.UUID, key string) (string, error) {
	var value string
	err := db.pool.QueryRow(ctx,
		`SELECT value FROM user_credentials WHERE user_id = $1 AND key = $2`,
		userID, key,
	).Scan(&value)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("failed to get credential %s: %w", key, err)
	}
	return value, nil
}

// GetBaseResumeText retrieves the user's base résumé text. ErrNoResume is
// returned when the user never supplied one.
func (db *DB) GetBaseResumeText(ctx context.Context, userID uuid.UUID) (string, error) {
	var text string
	err := db.pool.QueryRow(ctx,
		`SELECT content_text FROM resumes
		 WHERE user_id = $1 AND is_base = TRUE
		 ORDER BY created_at DESC LIMIT 1`,
		userID,
	).Scan(&text)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrNoResume
		}
		return "", fmt.Errorf("failed to get base resume: %w", err)
	}
	if text == "" {
		return "", ErrNoResume
	}
	return text, nil
}
