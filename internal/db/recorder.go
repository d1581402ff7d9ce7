package db

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pokeproto-project/pokeproto/internal/events"
)

// SessionInfo describes the session fields the history recorder needs.
// The peer supplies it through a closure so this package stays decoupled
// from the orchestrator.
type SessionInfo struct {
	SessionID  string
	Role       string
	PeerName   string
	MyPokemon  string
	OppPokemon string
	Seed       uint32
	StartedAt  time.Time
	Turns      int
}

// AttachRecorder subscribes a handler that persists every finished battle.
func AttachRecorder(store *HistoryStore, bus *events.EventBus, info func() SessionInfo) {
	bus.Subscribe(events.EventGameOver, "history_recorder", func(ctx context.Context, e events.Event) error {
		payload, ok := e.Payload.(events.GameOverPayload)
		if !ok {
			return nil
		}

		s := info()
		record := BattleRecord{
			SessionID:  s.SessionID,
			Role:       s.Role,
			PeerName:   s.PeerName,
			MyPokemon:  s.MyPokemon,
			OppPokemon: s.OppPokemon,
			Winner:     payload.Winner,
			Loser:      payload.Loser,
			Turns:      s.Turns,
			Seed:       s.Seed,
			StartedAt:  s.StartedAt,
			EndedAt:    time.Now(),
		}

		if err := store.Record(record); err != nil {
			return err
		}
		log.Info().Str("winner", payload.Winner).Str("session", s.SessionID).Msg("battle recorded")
		return nil
	})
}
