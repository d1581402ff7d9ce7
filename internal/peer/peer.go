// Package peer implements the PokeProtocol peer orchestrator: it owns the
// UDP socket, binds the codec, reliability layer, and battle state machine
// together, and dispatches inbound frames.
package peer

import (
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/pokeproto-project/pokeproto/internal/battle"
	"github.com/pokeproto-project/pokeproto/internal/config"
	"github.com/pokeproto-project/pokeproto/internal/dex"
	"github.com/pokeproto-project/pokeproto/internal/events"
	"github.com/pokeproto-project/pokeproto/internal/protocol"
	"github.com/pokeproto-project/pokeproto/internal/reliability"
	"github.com/pokeproto-project/pokeproto/internal/util"
)

// Peer is one PokeProtocol endpoint: host, joiner, or spectator.
type Peer struct {
	mu sync.Mutex

	name      string
	role      events.Role
	sessionID string

	seed    uint32
	seedSet bool

	conn       *net.UDPConn
	remote     *net.UDPAddr
	spectators []*net.UDPAddr

	rel         *reliability.Layer
	machine     *battle.Machine
	earlyBattle []*protocol.Message

	pokemon   string
	spAtkUses int
	spDefUses int

	peerName  string
	startedAt time.Time

	grace time.Duration

	catalog *dex.Catalog
	cfg     *config.Config
	bus     *events.EventBus
	logger  zerolog.Logger

	fatalErr error
	done     chan struct{}
	doneOnce sync.Once
}

// New creates a peer in the given role.
func New(cfg *config.Config, role events.Role, catalog *dex.Catalog, bus *events.EventBus) *Peer {
	pd := cfg.GetPeer()
	return &Peer{
		name:      pd.Name,
		role:      role,
		sessionID: uuid.NewString(),
		pokemon:   pd.Pokemon,
		spAtkUses: pd.SpAtkUses,
		spDefUses: pd.SpDefUses,
		grace:     time.Duration(cfg.ApplicationData.Timers.GameOverGraceMS) * time.Millisecond,
		catalog:   catalog,
		cfg:       cfg,
		bus:       bus,
		logger:    util.ComponentLogger("peer"),
	}
}

// Start binds the UDP socket and launches the read loop, the retransmit
// loop, and the failure watcher.
func (p *Peer) Start(ctx context.Context) error {
	pd := p.cfg.GetPeer()
	addr := &net.UDPAddr{IP: net.IPv4zero, Port: pd.Port}

	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return fmt.Errorf("failed to bind UDP port %d: %w", pd.Port, err)
	}
	p.conn = conn
	p.startedAt = time.Now()
	p.done = make(chan struct{})

	timers := p.cfg.ApplicationData.Timers
	p.rel = reliability.New(p.transmit, reliability.Options{
		AckTimeout: time.Duration(timers.AckTimeoutMS) * time.Millisecond,
		Tick:       time.Duration(timers.RetransmitTickMS) * time.Millisecond,
		MaxRetries: timers.MaxRetries,
	})

	p.logger.Info().
		Int("port", pd.Port).
		Str("role", p.role.String()).
		Str("session", p.sessionID).
		Msg("peer listening")

	go p.readLoop(ctx)
	go p.rel.Run(ctx)
	go p.watchFailures(ctx)

	// The battle outcome drives the socket lifecycle: close after the
	// final ACK has had its grace window.
	p.bus.Subscribe(events.EventGameOver, "peer_shutdown", func(ctx context.Context, _ events.Event) error {
		time.Sleep(p.grace)
		p.shutdown(nil)
		return nil
	})

	go func() {
		<-ctx.Done()
		p.shutdown(nil)
	}()

	return nil
}

// Done is closed when the session ends, cleanly or fatally.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// Err returns the fatal error that ended the session, if any.
func (p *Peer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fatalErr
}

// LocalAddr returns the bound UDP address, or nil before Start.
func (p *Peer) LocalAddr() *net.UDPAddr {
	if p.conn == nil {
		return nil
	}
	return p.conn.LocalAddr().(*net.UDPAddr)
}

// SessionID returns the battle session identifier.
func (p *Peer) SessionID() string {
	return p.sessionID
}

// Role returns this peer's role.
func (p *Peer) Role() events.Role {
	return p.role
}

// Name returns this peer's display name.
func (p *Peer) Name() string {
	return p.name
}

// PeerName returns the remote player's display name, once known.
func (p *Peer) PeerName() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peerName
}

// Seed returns the shared battle seed, once negotiated.
func (p *Peer) Seed() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seed
}

// StartedAt returns the session start time.
func (p *Peer) StartedAt() time.Time {
	return p.startedAt
}

// Machine returns the battle machine, or nil before the handshake.
func (p *Peer) Machine() *battle.Machine {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.machine
}

// Connect starts the handshake toward a host: HANDSHAKE_REQUEST for a
// joiner, SPECTATOR_REQUEST for a spectator.
func (p *Peer) Connect(ctx context.Context, hostAddr string) error {
	addr, err := net.ResolveUDPAddr("udp4", hostAddr)
	if err != nil {
		return fmt.Errorf("invalid host address %q: %w", hostAddr, err)
	}

	p.mu.Lock()
	p.remote = addr
	p.mu.Unlock()

	var msg *protocol.Message
	if p.role == events.RoleSpectator {
		msg = protocol.NewSpectatorRequest(p.name)
	} else {
		msg = protocol.NewHandshakeRequest(p.name)
	}

	seq, err := p.rel.Send(msg, addr)
	if err != nil {
		return err
	}
	p.emitFrameSent(ctx, msg.Type, seq, addr)

	p.logger.Info().Str("host", hostAddr).Str("kind", string(msg.Type)).Msg("handshake sent")
	return nil
}

// SetPokemon selects the local combatant. Before the handshake it is
// stored and announced automatically once the machine exists; after, it
// sends BATTLE_SETUP immediately.
func (p *Peer) SetPokemon(ctx context.Context, name string) error {
	if p.role == events.RoleSpectator {
		return &battle.InvalidCommandError{Reason: "spectators do not battle"}
	}

	cb, err := p.catalog.Lookup(name)
	if err != nil {
		if found := p.catalog.Search(name); found != nil {
			cb = found
		} else {
			return err
		}
	}

	p.mu.Lock()
	p.pokemon = cb.Name
	machine := p.machine
	p.mu.Unlock()

	if machine == nil {
		p.logger.Info().Str("pokemon", cb.Name).Msg("combatant selected, waiting for handshake")
		return nil
	}
	return machine.SetupLocal(ctx, cb, p.spAtkUses, p.spDefUses)
}

// Attack submits the user's attack to the battle machine.
func (p *Peer) Attack(ctx context.Context, move string, boost bool) error {
	machine := p.Machine()
	if machine == nil {
		return &battle.InvalidCommandError{Reason: "not connected to an opponent yet"}
	}
	return machine.Attack(ctx, move, boost)
}

// SendChat sends a TEXT chat message. Chat flows in every phase.
func (p *Peer) SendChat(ctx context.Context, text string) error {
	return p.sendToRemote(ctx, protocol.NewChatText(p.name, text))
}

// SendSticker base64-encodes the image bytes and sends them as a STICKER
// chat message.
func (p *Peer) SendSticker(ctx context.Context, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	return p.sendToRemote(ctx, protocol.NewChatSticker(p.name, encoded))
}

// SendBattle implements battle.Sender: the message goes to the opponent
// and, on the host, is mirrored to every spectator.
func (p *Peer) SendBattle(m *protocol.Message) error {
	ctx := context.Background()
	if err := p.sendToRemote(ctx, m); err != nil {
		return err
	}
	p.mirrorToSpectators(ctx, m)
	return nil
}

func (p *Peer) sendToRemote(ctx context.Context, m *protocol.Message) error {
	p.mu.Lock()
	remote := p.remote
	p.mu.Unlock()

	if remote == nil {
		return &battle.InvalidCommandError{Reason: "not connected: no remote address"}
	}

	seq, err := p.rel.Send(m, remote)
	if err != nil {
		return err
	}
	p.emitFrameSent(ctx, m.Type, seq, remote)
	return nil
}

// mirrorToSpectators re-sends a battle message to each spectator with a
// fresh sequence number per destination.
func (p *Peer) mirrorToSpectators(ctx context.Context, m *protocol.Message) {
	p.mu.Lock()
	specs := make([]*net.UDPAddr, len(p.spectators))
	copy(specs, p.spectators)
	p.mu.Unlock()

	for _, addr := range specs {
		clone := copyMessage(m)
		seq, err := p.rel.Send(clone, addr)
		if err != nil {
			p.logger.Warn().Err(err).Str("spectator", addr.String()).Msg("failed to mirror to spectator")
			continue
		}
		p.emitFrameSent(ctx, clone.Type, seq, addr)
	}
}

func copyMessage(m *protocol.Message) *protocol.Message {
	fields := make(map[string]string, len(m.Fields))
	for k, v := range m.Fields {
		fields[k] = v
	}
	return &protocol.Message{Type: m.Type, Fields: fields}
}

// transmit is the reliability layer's send function.
func (p *Peer) transmit(payload []byte, dest *net.UDPAddr) error {
	_, err := p.conn.WriteToUDP(payload, dest)
	return err
}

// readLoop receives datagrams until the socket closes.
func (p *Peer) readLoop(ctx context.Context) {
	buf := make([]byte, protocol.MaxDatagramSize)
	for {
		n, addr, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
			case <-p.done:
			default:
				p.logger.Error().Err(err).Msg("UDP read error")
			}
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		p.handleDatagram(ctx, data, addr)
	}
}

// watchFailures turns an exhausted retransmit into a fatal session end.
func (p *Peer) watchFailures(ctx context.Context) {
	select {
	case <-ctx.Done():
		return
	case f := <-p.rel.Failures():
		p.logger.Error().
			Uint32("seq", f.Seq).
			Str("kind", string(f.Kind)).
			Msg("peer stopped responding, session failed")

		p.bus.Emit(ctx, events.Event{
			Type:   events.EventConnectionFailed,
			Source: "peer",
			Payload: events.ConnectionFailedPayload{
				Seq:  f.Seq,
				Kind: string(f.Kind),
			},
		})
		p.shutdown(&f)
	}
}

// shutdown closes the socket and releases Done exactly once.
func (p *Peer) shutdown(fatal error) {
	p.doneOnce.Do(func() {
		p.mu.Lock()
		if fatal != nil {
			p.fatalErr = fatal
		}
		p.mu.Unlock()

		if p.conn != nil {
			p.conn.Close()
		}
		close(p.done)
		p.logger.Info().Msg("peer stopped")
	})
}

func (p *Peer) emitFrameSent(ctx context.Context, t protocol.MessageType, seq uint32, addr *net.UDPAddr) {
	p.bus.Emit(ctx, events.Event{
		Type:   events.EventFrameSent,
		Source: "peer",
		Payload: events.FramePayload{
			MessageType: string(t),
			Seq:         seq,
			Addr:        addr.String(),
		},
	})
}
