package db

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *HistoryStore {
	t.Helper()

	database, err := NewDatabase(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { database.Close() })

	store, err := NewHistoryStore(database)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func testRecord(session string, endedAt time.Time) BattleRecord {
	return BattleRecord{
		SessionID:  session,
		Role:       "host",
		PeerName:   "Bob",
		MyPokemon:  "Pikachu",
		OppPokemon: "Charmander",
		Winner:     "Pikachu",
		Loser:      "Charmander",
		Turns:      3,
		Seed:       12345,
		StartedAt:  endedAt.Add(-5 * time.Minute),
		EndedAt:    endedAt,
	}
}

func TestHistoryStore_RecordAndRecent(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	if err := store.Record(testRecord("s1", now.Add(-time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := store.Record(testRecord("s2", now)); err != nil {
		t.Fatal(err)
	}

	records, err := store.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].SessionID != "s2" {
		t.Errorf("newest first: got %s", records[0].SessionID)
	}
	if records[0].Winner != "Pikachu" || records[0].Seed != 12345 {
		t.Errorf("record fields: %+v", records[0])
	}
}

func TestHistoryStore_DuplicateSessionIgnored(t *testing.T) {
	store := newTestStore(t)

	r := testRecord("s1", time.Now())
	if err := store.Record(r); err != nil {
		t.Fatal(err)
	}
	// Both the local win and the remote GAME_OVER try to record the same
	// session; only one row survives.
	if err := store.Record(r); err != nil {
		t.Fatal(err)
	}

	records, err := store.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records, want 1", len(records))
	}
}

func TestHistoryStore_Prune(t *testing.T) {
	store := newTestStore(t)

	now := time.Now()
	store.Record(testRecord("old", now.Add(-100*24*time.Hour)))
	store.Record(testRecord("new", now))

	pruned, err := store.Prune(now.Add(-90 * 24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	records, _ := store.Recent(10)
	if len(records) != 1 || records[0].SessionID != "new" {
		t.Errorf("wrong survivor: %+v", records)
	}
}
