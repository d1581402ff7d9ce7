package peer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/pokeproto-project/pokeproto/internal/events"
	"github.com/pokeproto-project/pokeproto/internal/util"
)

// StickerSink persists received sticker images to disk. It is an event
// bus subscriber; the protocol core only ever emits decoded bytes.
type StickerSink struct {
	dir    string
	logger zerolog.Logger
}

// NewStickerSink creates a sink writing into dir and subscribes it.
func NewStickerSink(dir string, bus *events.EventBus) *StickerSink {
	s := &StickerSink{
		dir:    dir,
		logger: util.ComponentLogger("stickers"),
	}
	bus.Subscribe(events.EventStickerReceived, "sticker_sink", s.handle)
	return s
}

func (s *StickerSink) handle(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.StickerPayload)
	if !ok {
		return nil
	}

	if err := util.EnsureDir(s.dir); err != nil {
		return fmt.Errorf("failed to create sticker directory %s: %w", s.dir, err)
	}

	name := fmt.Sprintf("sticker_%s_%d.png", payload.From, time.Now().UnixMilli())
	path := filepath.Join(s.dir, name)

	if err := os.WriteFile(path, payload.Data, 0644); err != nil {
		return fmt.Errorf("failed to save sticker: %w", err)
	}

	s.logger.Info().Str("from", payload.From).Str("file", path).Int("bytes", len(payload.Data)).Msg("sticker saved")
	return nil
}
