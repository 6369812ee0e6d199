// Package state persists the normalised settings of each clone world. The
// directory host writes them when a fresh copy is prepared; inspect reads
// them back.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("no settings stored")

// maxEncoded bounds one identity's encoded settings.
const maxEncoded = 64 << 10

type Weather struct {
	Storm      bool `json:"storm"`
	Thundering bool `json:"thundering"`
}

// Border is a square world border.
type Border struct {
	CenterX            int `json:"center_x"`
	CenterZ            int `json:"center_z"`
	Size               int `json:"size"`
	WarningDistance    int `json:"warning_distance"`
	WarningTimeSeconds int `json:"warning_time_seconds"`
}

type Settings struct {
	Rules      map[string]any `json:"rules,omitempty"`
	TimeOfDay  int            `json:"time_of_day"`
	Weather    Weather        `json:"weather"`
	Border     Border         `json:"border"`
	PreparedAt time.Time      `json:"prepared_at"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Put replaces the settings of identity.
func (s *Store) Put(ctx context.Context, identity string, settings Settings) error {
	if identity == "" {
		return errors.New("identity is empty")
	}
	b, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if len(b) > maxEncoded {
		return fmt.Errorf("settings for %s are %d bytes, over the %d byte limit", identity, len(b), maxEncoded)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO world_state(identity, state, updated_at) VALUES(?, ?, ?)
ON CONFLICT(identity) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at;`,
		identity, string(b), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store settings for %s: %w", identity, err)
	}
	return nil
}

// Get returns the settings of identity, or ErrNotFound.
func (s *Store) Get(ctx context.Context, identity string) (Settings, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM world_state WHERE identity = ?;`, identity).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return Settings{}, ErrNotFound
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings for %s: %w", identity, err)
	}
	var out Settings
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Settings{}, fmt.Errorf("decode settings for %s: %w", identity, err)
	}
	return out, nil
}
