// pokeproto - a PokeProtocol battle peer.
//
// pokeproto implements the peer-to-peer, UDP-based turn-based battle
// protocol: a reliability layer with sequence numbers, ACKs, and timed
// retransmission; a deterministic damage engine driven by a shared seed;
// and the four-step synchronized turn exchange. A peer runs as host,
// joiner, or read-only spectator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/pokeproto-project/pokeproto/internal/api"
	"github.com/pokeproto-project/pokeproto/internal/cli"
	"github.com/pokeproto-project/pokeproto/internal/config"
	"github.com/pokeproto-project/pokeproto/internal/db"
	"github.com/pokeproto-project/pokeproto/internal/dex"
	"github.com/pokeproto-project/pokeproto/internal/events"
	"github.com/pokeproto-project/pokeproto/internal/peer"
	"github.com/pokeproto-project/pokeproto/internal/scheduler"
	"github.com/pokeproto-project/pokeproto/internal/telemetry"
	"github.com/pokeproto-project/pokeproto/internal/util"
)

const (
	AppName    = "pokeproto"
	AppVersion = "1.0.0"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Flags override the config file for a single run.
	var (
		flagName      = flag.String("name", "", "display name")
		flagHost      = flag.Bool("host", false, "act as host (waits for handshake, generates seed, attacks first)")
		flagPort      = flag.Int("port", 0, "local UDP port to bind")
		flagConnect   = flag.String("connect", "", "act as joiner; send handshake to this ip:port")
		flagPokemon   = flag.String("pokemon", "", "combatant name (ignored for spectator)")
		flagSpectator = flag.Bool("spectator", false, "act as spectator")
		flagVerbose   = flag.Bool("verbose", false, "log every sent/received frame with its sequence number")
		flagConfigDir = flag.String("config", config.DefaultConfigDir, "configuration directory")
	)
	flag.Parse()

	// Initialize logger with defaults first (reconfigured after config load)
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}

	cfg, err := config.Load(*flagConfigDir)
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return 1
	}

	logCfg := util.LogConfig{
		Level:      cfg.ApplicationData.Logging.Level,
		Directory:  cfg.ApplicationData.Logging.Directory,
		MaxBackups: cfg.ApplicationData.Logging.MaxBackups,
		Console:    true,
	}
	if *flagVerbose {
		logCfg.Level = "debug"
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	// Overlay flags onto the configured peer data.
	pd := cfg.GetPeer()
	if *flagName != "" {
		pd.Name = *flagName
	}
	if *flagPort != 0 {
		pd.Port = *flagPort
	}
	if *flagConnect != "" {
		pd.ConnectAddr = *flagConnect
	}
	if *flagPokemon != "" {
		pd.Pokemon = *flagPokemon
	}
	cfg.SetPeer(pd)

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Error().Msg("configuration validation failed")
		return 1
	}

	role := events.RoleJoiner
	switch {
	case *flagHost && *flagSpectator:
		log.Error().Msg("--host and --spectator are mutually exclusive")
		return 1
	case *flagHost:
		role = events.RoleHost
	case *flagSpectator:
		role = events.RoleSpectator
	}
	if role != events.RoleHost && pd.ConnectAddr == "" {
		log.Error().Msg("joiners and spectators need --connect <ip:port>")
		return 1
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("hostname", sysInfo.Hostname).
		Str("role", role.String()).
		Msg("starting pokeproto")

	// Combatant catalog
	catalog, err := dex.NewCatalog(pd.DataFile)
	if err != nil {
		log.Error().Err(err).Msg("failed to load the combatant catalog")
		return 1
	}
	if role != events.RoleSpectator && pd.Pokemon != "" {
		if _, err := catalog.Lookup(pd.Pokemon); err != nil {
			if found := catalog.Search(pd.Pokemon); found != nil {
				pd.Pokemon = found.Name
				cfg.SetPeer(pd)
			} else {
				log.Error().Err(err).Msg("unknown combatant")
				return 1
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	// Battle history store
	var history *db.HistoryStore
	if cfg.ApplicationData.History.Enabled {
		database, err := db.NewDatabase(cfg.ApplicationData.History.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open history database, history disabled")
		} else {
			defer database.Close()
			history, err = db.NewHistoryStore(database)
			if err != nil {
				log.Warn().Err(err).Msg("failed to initialize history store, history disabled")
				history = nil
			}
		}
	}

	// The peer orchestrator
	p := peer.New(cfg, role, catalog, eventBus)
	if err := p.Start(ctx); err != nil {
		log.Error().Err(err).Msg("failed to start peer")
		return 1
	}

	// Sticker sink
	peer.NewStickerSink(cfg.ApplicationData.Stickers.Directory, eventBus)

	// History recorder
	if history != nil && role != events.RoleSpectator {
		db.AttachRecorder(history, eventBus, func() db.SessionInfo {
			info := db.SessionInfo{
				SessionID: p.SessionID(),
				Role:      p.Role().String(),
				PeerName:  p.PeerName(),
				Seed:      p.Seed(),
				StartedAt: p.StartedAt(),
			}
			if m := p.Machine(); m != nil {
				snap := m.Snapshot()
				info.MyPokemon = snap.MyName
				info.OppPokemon = snap.OppName
				info.Turns = snap.TurnCount
			}
			return info
		})
	}

	var wg sync.WaitGroup

	// Observer API
	if cfg.ApplicationData.API.Enabled {
		apiServer := api.NewServer(cfg, eventBus, p, history)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("observer API failed (non-fatal)")
			}
		}()
	}

	// MQTT telemetry
	if cfg.ApplicationData.MQTT.Enabled {
		mqttHandler, err := telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := mqttHandler.Start(ctx); err != nil {
					log.Warn().Err(err).Msg("MQTT telemetry failed")
				}
			}()
		}
	}

	// Maintenance scheduler
	sched := scheduler.NewScheduler(cfg, history)
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	// Verbose frame tracing
	if *flagVerbose {
		attachFrameTracer(eventBus)
	}

	// Interactive CLI
	cliHandler := cli.NewCLI(cfg, eventBus, p, catalog, history, cancel)
	wg.Add(1)
	go func() {
		defer wg.Done()
		cliHandler.Start(ctx)
	}()

	// Kick off the handshake for joiners and spectators; the host waits.
	if role != events.RoleHost {
		if err := p.Connect(ctx, pd.ConnectAddr); err != nil {
			log.Error().Err(err).Msg("failed to start handshake")
			return 1
		}
	} else {
		log.Info().Int("port", pd.Port).Msg("waiting for a challenger")
	}

	// ---------------------------------------------------------------
	// Shutdown handling: signal, session end, or CLI quit.
	// ---------------------------------------------------------------
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-p.Done():
		log.Info().Msg("session ended")
	case <-ctx.Done():
	}

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timed out, forcing exit")
	}

	eventBus.Stop()

	exitCode := 0
	if p.Err() != nil {
		log.Error().Err(p.Err()).Msg("session failed")
		exitCode = 1
	}
	log.Info().Msg("pokeproto stopped")
	return exitCode
}

// attachFrameTracer prints every frame with its sequence number.
func attachFrameTracer(bus *events.EventBus) {
	bus.Subscribe(events.EventFrameSent, "frame_tracer", func(_ context.Context, e events.Event) error {
		f := e.Payload.(events.FramePayload)
		fmt.Printf("[VERBOSE] sent %s (seq=%d) to %s\n", f.MessageType, f.Seq, f.Addr)
		return nil
	})
	bus.Subscribe(events.EventFrameReceived, "frame_tracer", func(_ context.Context, e events.Event) error {
		f := e.Payload.(events.FramePayload)
		fmt.Printf("[VERBOSE] recv %s (seq=%d) from %s\n", f.MessageType, f.Seq, f.Addr)
		return nil
	})
}
