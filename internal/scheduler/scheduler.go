// Package scheduler implements background maintenance tasks: sticker
// directory cleanup and battle history pruning.
package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pokeproto-project/pokeproto/internal/config"
	"github.com/pokeproto-project/pokeproto/internal/db"
)

// Scheduler manages periodic background tasks.
type Scheduler struct {
	cfg     *config.Config
	history *db.HistoryStore
}

// NewScheduler creates a task scheduler. history may be nil.
func NewScheduler(cfg *config.Config, history *db.HistoryStore) *Scheduler {
	return &Scheduler{
		cfg:     cfg,
		history: history,
	}
}

// Start runs the maintenance tasks once at startup and then daily, until
// the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	log.Info().Msg("scheduler started")

	s.runOnce()

	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce()
		}
	}
}

func (s *Scheduler) runOnce() {
	s.cleanStickers()
	s.pruneHistory()
}

// cleanStickers removes saved stickers older than the retention window.
func (s *Scheduler) cleanStickers() {
	cfg := s.cfg.ApplicationData.Stickers
	if cfg.RetentionDays <= 0 || cfg.Directory == "" {
		return
	}

	cutoff := time.Duration(cfg.RetentionDays) * 24 * time.Hour
	deleted := 0

	entries, err := os.ReadDir(cfg.Directory)
	if err != nil {
		return // Directory may not exist until the first sticker arrives
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "sticker_") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) > cutoff {
			path := filepath.Join(cfg.Directory, entry.Name())
			if err := os.Remove(path); err == nil {
				deleted++
				log.Debug().Str("file", entry.Name()).Msg("deleted old sticker")
			}
		}
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Msg("sticker cleanup completed")
	}
}

// pruneHistory deletes battle records older than the retention window.
func (s *Scheduler) pruneHistory() {
	if s.history == nil {
		return
	}
	retention := s.cfg.ApplicationData.History.RetentionDays
	if retention <= 0 {
		return
	}

	cutoff := time.Now().Add(-time.Duration(retention) * 24 * time.Hour)
	pruned, err := s.history.Prune(cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("history prune failed")
		return
	}
	if pruned > 0 {
		log.Info().Int64("pruned", pruned).Msg("battle history pruned")
	}
}
