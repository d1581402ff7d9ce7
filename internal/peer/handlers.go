package peer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/rand"
	"net"

	"github.com/pokeproto-project/pokeproto/internal/battle"
	"github.com/pokeproto-project/pokeproto/internal/events"
	"github.com/pokeproto-project/pokeproto/internal/protocol"
)

// handleDatagram is the inbound path: decode, acknowledge, deduplicate,
// dispatch.
func (p *Peer) handleDatagram(ctx context.Context, data []byte, addr *net.UDPAddr) {
	msg, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownType) {
			// The sender saw a valid datagram: acknowledge it so it stops
			// retrying, but deliver nothing upward.
			if msg != nil && msg.Type != protocol.TypeAck {
				p.rel.SendAck(msg.Seq, addr)
			}
			p.logger.Warn().Str("kind", string(msg.Type)).Msg("unknown message type, acked and ignored")
			return
		}
		p.logger.Debug().Err(err).Str("from", addr.String()).Msg("dropping malformed datagram")
		return
	}

	if msg.Type == protocol.TypeAck {
		seq, err := msg.AckedSeq()
		if err != nil {
			p.logger.Debug().Err(err).Msg("dropping malformed ack")
			return
		}
		p.rel.HandleAck(seq)
		return
	}

	// Always acknowledge, duplicate or not: the first ACK may have been lost.
	p.rel.SendAck(msg.Seq, addr)

	if p.rel.MarkSeen(addr.String(), msg.Seq) {
		p.logger.Debug().
			Uint32("seq", msg.Seq).
			Str("kind", string(msg.Type)).
			Msg("duplicate message, acked and dropped")
		return
	}

	p.bus.Emit(ctx, events.Event{
		Type:   events.EventFrameReceived,
		Source: "peer",
		Payload: events.FramePayload{
			MessageType: string(msg.Type),
			Seq:         msg.Seq,
			Addr:        addr.String(),
			Size:        len(data),
			Summary:     describe(msg),
		},
	})

	p.dispatch(ctx, msg, addr)
}

// dispatch routes a deduplicated message to its handler.
func (p *Peer) dispatch(ctx context.Context, msg *protocol.Message, addr *net.UDPAddr) {
	switch msg.Type {
	case protocol.TypeHandshakeRequest:
		p.handleHandshakeRequest(ctx, msg, addr)
	case protocol.TypeHandshakeResponse:
		p.handleHandshakeResponse(ctx, msg, addr)
	case protocol.TypeSpectatorRequest:
		p.handleSpectatorRequest(ctx, msg, addr)
	case protocol.TypeChatMessage:
		p.handleChat(ctx, msg)
	case protocol.TypeBattleSetup,
		protocol.TypeAttackAnnounce,
		protocol.TypeDefenseAnnounce,
		protocol.TypeCalculationReport,
		protocol.TypeCalculationConfirm,
		protocol.TypeResolutionRequest,
		protocol.TypeGameOver:
		p.handleBattleMessage(ctx, msg, addr)
	}
}

// handleHandshakeRequest is the host side of the handshake: adopt the
// joiner's address, pick the shared seed, and reply with it.
func (p *Peer) handleHandshakeRequest(ctx context.Context, msg *protocol.Message, addr *net.UDPAddr) {
	if p.role != events.RoleHost {
		return
	}

	p.mu.Lock()
	p.remote = addr
	p.peerName = msg.Get(protocol.FieldName)
	if !p.seedSet {
		p.seed = rand.Uint32()
		p.seedSet = true
	}
	seed := p.seed
	p.mu.Unlock()

	p.logger.Info().
		Str("joiner", msg.Get(protocol.FieldName)).
		Str("addr", addr.String()).
		Uint32("seed", seed).
		Msg("handshake from joiner")

	if err := p.sendToRemote(ctx, protocol.NewHandshakeResponse(p.name, seed)); err != nil {
		p.logger.Error().Err(err).Msg("failed to send handshake response")
		return
	}

	p.ensureMachine(ctx, seed, true)
	p.emitConnected(ctx, addr, seed)
	p.autoSetup(ctx)
}

// handleHandshakeResponse is the joiner/spectator side: mirror the host's
// seed and, for players, stand up the battle machine.
func (p *Peer) handleHandshakeResponse(ctx context.Context, msg *protocol.Message, addr *net.UDPAddr) {
	if p.role == events.RoleHost {
		return
	}

	seed := msg.GetUint32(protocol.FieldSeed)

	p.mu.Lock()
	p.seed = seed
	p.seedSet = true
	p.peerName = msg.Get(protocol.FieldName)
	p.mu.Unlock()

	p.logger.Info().
		Str("host", msg.Get(protocol.FieldName)).
		Uint32("seed", seed).
		Msg("handshake complete")

	if p.role == events.RoleJoiner {
		p.ensureMachine(ctx, seed, false)
	}
	p.emitConnected(ctx, addr, seed)
	p.autoSetup(ctx)
}

// handleSpectatorRequest registers a read-only observer (host only).
// Spectators get a handshake response for symmetry but never a turn.
func (p *Peer) handleSpectatorRequest(ctx context.Context, msg *protocol.Message, addr *net.UDPAddr) {
	if p.role != events.RoleHost {
		return
	}

	p.mu.Lock()
	if !p.seedSet {
		p.seed = rand.Uint32()
		p.seedSet = true
	}
	seed := p.seed
	p.spectators = append(p.spectators, addr)
	p.mu.Unlock()

	p.logger.Info().
		Str("spectator", msg.Get(protocol.FieldName)).
		Str("addr", addr.String()).
		Msg("spectator joined")

	resp := protocol.NewHandshakeResponse(p.name, seed)
	if seq, err := p.rel.Send(resp, addr); err == nil {
		p.emitFrameSent(ctx, resp.Type, seq, addr)
	}
}

// handleBattleMessage routes battle traffic. Spectators only display it;
// the host relays the joiner's messages to its spectators so they see
// both sides of the exchange.
func (p *Peer) handleBattleMessage(ctx context.Context, msg *protocol.Message, addr *net.UDPAddr) {
	if p.role == events.RoleHost {
		p.mirrorToSpectators(ctx, msg)
	}

	if p.role == events.RoleSpectator {
		// Display already happened via the frame event; spectators never
		// run the state machine.
		return
	}

	machine := p.Machine()
	if machine == nil {
		// UDP makes no ordering promise: battle traffic can overtake the
		// handshake response. The dedup window has already swallowed the
		// sequence number, so park the message until the machine exists.
		p.mu.Lock()
		p.earlyBattle = append(p.earlyBattle, msg)
		p.mu.Unlock()
		p.logger.Debug().Str("kind", string(msg.Type)).Msg("battle message before handshake, buffered")
		return
	}

	p.deliverBattle(ctx, machine, msg)
}

// deliverBattle hands one battle message to the state machine.
func (p *Peer) deliverBattle(ctx context.Context, machine *battle.Machine, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeBattleSetup:
		machine.HandleSetup(ctx, msg)
	case protocol.TypeAttackAnnounce:
		machine.HandleAttackAnnounce(ctx, msg)
	case protocol.TypeDefenseAnnounce:
		machine.HandleDefenseAnnounce(ctx, msg)
	case protocol.TypeCalculationReport:
		machine.HandleCalculationReport(ctx, msg)
	case protocol.TypeCalculationConfirm:
		machine.HandleCalculationConfirm(ctx, msg)
	case protocol.TypeResolutionRequest:
		machine.HandleResolutionRequest(ctx, msg)
	case protocol.TypeGameOver:
		machine.HandleGameOver(ctx, msg)
	}
}

// handleChat dispatches chat in every phase; it never touches battle state.
func (p *Peer) handleChat(ctx context.Context, msg *protocol.Message) {
	from := msg.Get(protocol.FieldFrom)

	switch msg.Get(protocol.FieldContent) {
	case protocol.ContentSticker:
		data, err := base64.StdEncoding.DecodeString(msg.Get(protocol.FieldPayload))
		if err != nil {
			p.logger.Warn().Err(err).Str("from", from).Msg("sticker payload is not valid base64")
			return
		}
		p.bus.Emit(ctx, events.Event{
			Type:   events.EventStickerReceived,
			Source: "peer",
			Payload: events.StickerPayload{
				From: from,
				Data: data,
				Size: len(data),
			},
		})
	default:
		p.bus.Emit(ctx, events.Event{
			Type:   events.EventChatReceived,
			Source: "peer",
			Payload: events.ChatPayload{
				From: from,
				Text: msg.Get(protocol.FieldPayload),
			},
		})
	}
}

// ensureMachine creates the battle machine exactly once and replays any
// battle messages that overtook the handshake.
func (p *Peer) ensureMachine(ctx context.Context, seed uint32, hostIsMe bool) {
	p.mu.Lock()
	if p.machine == nil {
		p.machine = battle.NewMachine(p.sessionID, seed, hostIsMe, p.catalog, p, p.bus)
	}
	machine := p.machine
	queued := p.earlyBattle
	p.earlyBattle = nil
	p.mu.Unlock()

	for _, msg := range queued {
		p.deliverBattle(ctx, machine, msg)
	}
}

// autoSetup announces the preselected combatant once the machine exists.
func (p *Peer) autoSetup(ctx context.Context) {
	p.mu.Lock()
	pokemon := p.pokemon
	machine := p.machine
	p.mu.Unlock()

	if machine == nil || pokemon == "" {
		return
	}

	cb, err := p.catalog.Lookup(pokemon)
	if err != nil {
		p.logger.Error().Err(err).Str("pokemon", pokemon).Msg("configured combatant not in catalog")
		return
	}
	if err := machine.SetupLocal(ctx, cb, p.spAtkUses, p.spDefUses); err != nil {
		var invalid *battle.InvalidCommandError
		if !errors.As(err, &invalid) {
			p.logger.Error().Err(err).Msg("failed to send battle setup")
		}
	}
}

func (p *Peer) emitConnected(ctx context.Context, addr *net.UDPAddr, seed uint32) {
	p.bus.Emit(ctx, events.Event{
		Type:   events.EventPeerConnected,
		Source: "peer",
		Payload: events.PeerConnectedPayload{
			Role:     p.role,
			PeerName: p.PeerName(),
			Addr:     addr.String(),
			Seed:     seed,
		},
	})
}

// describe renders a one-line human-readable summary of a message for the
// spectator display and verbose tracing.
func describe(m *protocol.Message) string {
	switch m.Type {
	case protocol.TypeHandshakeRequest:
		return fmt.Sprintf("%s wants to battle", m.Get(protocol.FieldName))
	case protocol.TypeHandshakeResponse:
		return fmt.Sprintf("%s accepted (seed %s)", m.Get(protocol.FieldName), m.Get(protocol.FieldSeed))
	case protocol.TypeSpectatorRequest:
		return fmt.Sprintf("%s is watching", m.Get(protocol.FieldName))
	case protocol.TypeBattleSetup:
		return fmt.Sprintf("%s enters with %s HP", m.Get(protocol.FieldPokemon), m.Get(protocol.FieldHP))
	case protocol.TypeAttackAnnounce:
		if m.GetBool(protocol.FieldAtkBoost) {
			return fmt.Sprintf("attack: %s (boosted)", m.Get(protocol.FieldMove))
		}
		return fmt.Sprintf("attack: %s", m.Get(protocol.FieldMove))
	case protocol.TypeDefenseAnnounce:
		if m.GetBool(protocol.FieldDefBoost) {
			return "defense ready (boosted)"
		}
		return "defense ready"
	case protocol.TypeCalculationReport:
		return fmt.Sprintf("damage %s, defender at %s HP", m.Get(protocol.FieldDamage), m.Get(protocol.FieldHPAfter))
	case protocol.TypeCalculationConfirm:
		return "turn confirmed"
	case protocol.TypeResolutionRequest:
		return fmt.Sprintf("dispute: damage %s", m.Get(protocol.FieldDamage))
	case protocol.TypeGameOver:
		return fmt.Sprintf("%s defeated %s", m.Get(protocol.FieldWinner), m.Get(protocol.FieldLoser))
	case protocol.TypeChatMessage:
		if m.Get(protocol.FieldContent) == protocol.ContentSticker {
			return fmt.Sprintf("%s sent a sticker", m.Get(protocol.FieldFrom))
		}
		return fmt.Sprintf("%s: %s", m.Get(protocol.FieldFrom), m.Get(protocol.FieldPayload))
	}
	return string(m.Type)
}
