package db

import (
	"fmt"
	"time"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS battles (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id  TEXT NOT NULL UNIQUE,
	role        TEXT NOT NULL,
	peer_name   TEXT NOT NULL DEFAULT '',
	my_pokemon  TEXT NOT NULL,
	opp_pokemon TEXT NOT NULL,
	winner      TEXT NOT NULL,
	loser       TEXT NOT NULL,
	turns       INTEGER NOT NULL,
	seed        INTEGER NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	ended_at    TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_battles_ended_at ON battles(ended_at);
`

// BattleRecord is one finished battle.
type BattleRecord struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Role       string    `json:"role"`
	PeerName   string    `json:"peer_name"`
	MyPokemon  string    `json:"my_pokemon"`
	OppPokemon string    `json:"opp_pokemon"`
	Winner     string    `json:"winner"`
	Loser      string    `json:"loser"`
	Turns      int       `json:"turns"`
	Seed       uint32    `json:"seed"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// HistoryStore records finished battles.
type HistoryStore struct {
	db *Database
}

// NewHistoryStore opens the store and applies the schema.
func NewHistoryStore(database *Database) (*HistoryStore, error) {
	if _, err := database.Exec(historySchema); err != nil {
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}
	return &HistoryStore{db: database}, nil
}

// Record inserts a finished battle. A repeated session ID is ignored so
// the peer's own GAME_OVER and the remote one don't produce two rows.
func (s *HistoryStore) Record(r BattleRecord) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO battles
			(session_id, role, peer_name, my_pokemon, opp_pokemon, winner, loser, turns, seed, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.Role, r.PeerName, r.MyPokemon, r.OppPokemon,
		r.Winner, r.Loser, r.Turns, int64(r.Seed), r.StartedAt, r.EndedAt)
	if err != nil {
		return fmt.Errorf("failed to record battle: %w", err)
	}
	return nil
}

// Recent returns the most recently finished battles, newest first.
func (s *HistoryStore) Recent(limit int) ([]BattleRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`
		SELECT id, session_id, role, peer_name, my_pokemon, opp_pokemon,
		       winner, loser, turns, seed, started_at, ended_at
		FROM battles
		ORDER BY ended_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query battle history: %w", err)
	}
	defer rows.Close()

	var records []BattleRecord
	for rows.Next() {
		var r BattleRecord
		var seed int64
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Role, &r.PeerName,
			&r.MyPokemon, &r.OppPokemon, &r.Winner, &r.Loser,
			&r.Turns, &seed, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("failed to scan battle row: %w", err)
		}
		r.Seed = uint32(seed)
		records = append(records, r)
	}
	return records, rows.Err()
}

// Prune deletes battles older than the retention window and returns the
// number of rows removed.
func (s *HistoryStore) Prune(olderThan time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM battles WHERE ended_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune battle history: %w", err)
	}
	return res.RowsAffected()
}
