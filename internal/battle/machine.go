package battle

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pokeproto-project/pokeproto/internal/dex"
	"github.com/pokeproto-project/pokeproto/internal/events"
	"github.com/pokeproto-project/pokeproto/internal/protocol"
	"github.com/pokeproto-project/pokeproto/internal/util"
)

// Sender transmits a battle message to the opponent (and mirrors it to
// any registered spectators). Implemented by the peer orchestrator; the
// machine never touches the socket directly.
type Sender interface {
	SendBattle(m *protocol.Message) error
}

// InvalidCommandError reports a user action the battle cannot accept.
// The state is unchanged; the front end surfaces the message.
type InvalidCommandError struct {
	Reason string
}

func (e *InvalidCommandError) Error() string {
	return e.Reason
}

func invalidCommandf(format string, args ...interface{}) *InvalidCommandError {
	return &InvalidCommandError{Reason: fmt.Sprintf(format, args...)}
}

// Machine drives one battle between two peers. All mutation happens under
// its mutex; it never blocks on I/O while holding it (sends are UDP
// writes and event emission is asynchronous).
type Machine struct {
	mu sync.Mutex

	sessionID string
	hostIsMe  bool

	me  *dex.Combatant
	opp *dex.Combatant

	myHP  int
	oppHP int

	mySpAtkUses  int
	mySpDefUses  int
	oppSpAtkUses int
	oppSpDefUses int

	phase Phase
	turn  Turn

	// defBoostPolicy is consulted when an opposing attack arrives: the
	// defender has no prompt in the four-step exchange, so boosting on
	// defense is a standing policy toggled from the front end.
	defBoostPolicy bool

	pending   *pendingAttack
	turnCount int

	setupSent  bool
	setupRecvd bool

	roll    *Roll
	catalog *dex.Catalog
	sender  Sender
	bus     *events.EventBus
	logger  zerolog.Logger
}

// NewMachine creates a battle machine seeded with the shared seed.
// hostIsMe decides who attacks first.
func NewMachine(sessionID string, seed uint32, hostIsMe bool, catalog *dex.Catalog, sender Sender, bus *events.EventBus) *Machine {
	return &Machine{
		sessionID: sessionID,
		hostIsMe:  hostIsMe,
		phase:     PhaseSetup,
		roll:      NewRoll(seed),
		catalog:   catalog,
		sender:    sender,
		bus:       bus,
		logger:    util.ComponentLogger("battle").With().Str("session", sessionID).Logger(),
	}
}

// Snapshot returns a copy of the battle state for display surfaces.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		Phase:        m.phase,
		Turn:         m.turn,
		MyHP:         m.myHP,
		OppHP:        m.oppHP,
		MySpAtkUses:  m.mySpAtkUses,
		MySpDefUses:  m.mySpDefUses,
		OppSpAtkUses: m.oppSpAtkUses,
		OppSpDefUses: m.oppSpDefUses,
		TurnCount:    m.turnCount,
	}
	if m.me != nil {
		s.MyName = m.me.Name
		s.MyMaxHP = m.me.HP
	}
	if m.opp != nil {
		s.OppName = m.opp.Name
		s.OppMaxHP = m.opp.HP
	}
	return s
}

// SetDefenseBoostPolicy controls whether incoming attacks are answered
// with a special defense boost while uses remain.
func (m *Machine) SetDefenseBoostPolicy(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defBoostPolicy = on
}

// SetupLocal records the local combatant, announces it with BATTLE_SETUP,
// and starts the battle once both setups are accounted for.
func (m *Machine) SetupLocal(ctx context.Context, cb *dex.Combatant, spAtkUses, spDefUses int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseSetup {
		return invalidCommandf("battle already started")
	}
	if m.setupSent {
		return invalidCommandf("combatant already chosen")
	}

	m.me = cb
	m.myHP = cb.HP
	m.mySpAtkUses = spAtkUses
	m.mySpDefUses = spDefUses
	m.setupSent = true

	if err := m.sender.SendBattle(protocol.NewBattleSetup(cb.Name, cb.HP, spAtkUses, spDefUses)); err != nil {
		return fmt.Errorf("failed to send battle setup: %w", err)
	}

	m.logger.Info().Str("pokemon", cb.Name).Int("hp", cb.HP).Msg("battle setup sent")
	m.maybeStartLocked(ctx)
	return nil
}

// HandleSetup processes the peer's BATTLE_SETUP. Both sides may send
// setup unsolicited; the battle starts only once both are in.
func (m *Machine) HandleSetup(ctx context.Context, msg *protocol.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseSetup || m.setupRecvd {
		m.ignoreLocked(msg)
		return
	}

	name := msg.Get(protocol.FieldPokemon)
	cb, err := m.catalog.Lookup(name)
	if err != nil {
		m.logger.Error().Str("pokemon", name).Msg("peer announced an unknown combatant")
		return
	}

	m.opp = cb
	m.oppHP = msg.GetInt(protocol.FieldHP)
	if m.oppHP <= 0 || m.oppHP > cb.HP {
		m.oppHP = cb.HP
	}
	m.oppSpAtkUses = msg.GetInt(protocol.FieldSpAtkUses)
	m.oppSpDefUses = msg.GetInt(protocol.FieldSpDefUses)
	m.setupRecvd = true

	m.logger.Info().Str("pokemon", cb.Name).Int("hp", m.oppHP).Msg("opponent setup received")
	m.maybeStartLocked(ctx)
}

func (m *Machine) maybeStartLocked(ctx context.Context) {
	if !m.setupSent || !m.setupRecvd {
		return
	}

	m.phase = PhaseAwaitAttack
	if m.hostIsMe {
		m.turn = TurnMe
	} else {
		m.turn = TurnOpp
	}

	m.logger.Info().
		Str("me", m.me.Name).
		Str("opp", m.opp.Name).
		Bool("my_turn", m.turn == TurnMe).
		Msg("battle started")

	m.bus.Emit(ctx, events.Event{
		Type:   events.EventBattleStarted,
		Source: "battle",
		Payload: events.BattleStartedPayload{
			SessionID: m.sessionID,
			MyName:    m.me.Name,
			OppName:   m.opp.Name,
			MyHP:      m.myHP,
			OppHP:     m.oppHP,
			MyTurn:    m.turn == TurnMe,
		},
	})
}

// Attack is the user action: announce a move and become the attacker for
// this turn.
func (m *Machine) Attack(ctx context.Context, moveName string, useBoost bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase == PhaseGameOver {
		return invalidCommandf("the battle is over")
	}
	if m.phase != PhaseAwaitAttack {
		return invalidCommandf("cannot attack right now (phase %s)", m.phase)
	}
	if m.turn != TurnMe {
		return invalidCommandf("it is not your turn")
	}

	move, ok := dex.LookupMove(moveName)
	if !ok {
		return invalidCommandf("unknown move %q", moveName)
	}
	if len(m.me.Moves) > 0 && !m.me.KnowsMove(move.Name) {
		return invalidCommandf("%s does not know %s", m.me.Name, move.Name)
	}

	m.pending = &pendingAttack{
		move:             move,
		attackerIsMe:     true,
		atkBoost:         useBoost,
		defenderHPBefore: m.oppHP,
	}
	m.phase = PhaseAwaitDefenseAck

	if err := m.sender.SendBattle(protocol.NewAttackAnnounce(move.Name, useBoost)); err != nil {
		return fmt.Errorf("failed to announce attack: %w", err)
	}

	m.logger.Info().Str("move", move.Name).Bool("boost", useBoost).Msg("attack announced")
	return nil
}

// HandleAttackAnnounce processes the opponent's attack announcement on the
// defender side. A peer whose turn it is keeps the turn and ignores the
// announcement.
func (m *Machine) HandleAttackAnnounce(ctx context.Context, msg *protocol.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseAwaitAttack || m.turn != TurnOpp {
		m.ignoreLocked(msg)
		return
	}

	moveName := msg.Get(protocol.FieldMove)
	move, ok := dex.LookupMove(moveName)
	if !ok {
		m.logger.Error().Str("move", moveName).Msg("opponent announced an unknown move")
		return
	}

	defBoost := m.defBoostPolicy
	m.pending = &pendingAttack{
		move:             move,
		attackerIsMe:     false,
		atkBoost:         msg.GetBool(protocol.FieldAtkBoost),
		defBoost:         defBoost,
		defenderHPBefore: m.myHP,
	}
	m.phase = PhaseAwaitCalcReports

	if err := m.sender.SendBattle(protocol.NewDefenseAnnounce(defBoost)); err != nil {
		m.logger.Error().Err(err).Msg("failed to send defense announce")
	}

	m.logger.Info().Str("move", move.Name).Msg("incoming attack acknowledged")
}

// HandleDefenseAnnounce completes the attacker's picture of the turn: the
// defender's boost decision arrives, damage is computed, and the
// attacker's calculation report goes out.
func (m *Machine) HandleDefenseAnnounce(ctx context.Context, msg *protocol.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseAwaitDefenseAck || m.pending == nil {
		m.ignoreLocked(msg)
		return
	}

	m.pending.defBoost = msg.GetBool(protocol.FieldDefBoost)
	m.computeLocked()
	m.phase = PhaseAwaitConfirm

	if err := m.sender.SendBattle(protocol.NewCalculationReport(m.pending.localDamage, m.pending.localHPAfter)); err != nil {
		m.logger.Error().Err(err).Msg("failed to send calculation report")
	}
}

// HandleCalculationReport processes the peer's computed values. On the
// defender it triggers the local computation and the match check; on the
// attacker it is the confirmation trigger; in RESOLVING it carries the
// authoritative values.
func (m *Machine) HandleCalculationReport(ctx context.Context, msg *protocol.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil {
		m.ignoreLocked(msg)
		return
	}

	remoteDamage := msg.GetInt(protocol.FieldDamage)
	remoteHPAfter := msg.GetInt(protocol.FieldHPAfter)

	switch m.phase {
	case PhaseAwaitCalcReports:
		// Defender: compute independently and compare.
		m.computeLocked()
		if remoteDamage == m.pending.localDamage && remoteHPAfter == m.pending.localHPAfter {
			m.phase = PhaseAwaitConfirm
			if err := m.sender.SendBattle(protocol.NewCalculationReport(m.pending.localDamage, m.pending.localHPAfter)); err != nil {
				m.logger.Error().Err(err).Msg("failed to send calculation report")
			}
			return
		}

		m.logger.Warn().
			Int("local_damage", m.pending.localDamage).
			Int("remote_damage", remoteDamage).
			Msg("calculation mismatch, requesting resolution")
		m.bus.Emit(ctx, events.Event{
			Type:   events.EventDiscrepancy,
			Source: "battle",
			Payload: events.DiscrepancyPayload{
				LocalDamage:  m.pending.localDamage,
				RemoteDamage: remoteDamage,
				LocalHPAfter: m.pending.localHPAfter,
			},
		})

		m.phase = PhaseResolving
		if err := m.sender.SendBattle(protocol.NewResolutionRequest(m.pending.localDamage, m.pending.localHPAfter)); err != nil {
			m.logger.Error().Err(err).Msg("failed to send resolution request")
		}

	case PhaseAwaitConfirm:
		if !m.pending.attackerIsMe {
			m.ignoreLocked(msg)
			return
		}
		// Attacker: the defender's report either matches (confirm) or the
		// attacker restates its authoritative values.
		if remoteDamage == m.pending.localDamage && remoteHPAfter == m.pending.localHPAfter {
			m.confirmLocked(ctx)
			return
		}
		m.logger.Warn().
			Int("local_damage", m.pending.localDamage).
			Int("remote_damage", remoteDamage).
			Msg("defender disagrees, restating authoritative values")
		if err := m.sender.SendBattle(protocol.NewCalculationReport(m.pending.localDamage, m.pending.localHPAfter)); err != nil {
			m.logger.Error().Err(err).Msg("failed to re-send calculation report")
		}

	case PhaseResolving:
		// Defender: the attacker's re-sent report wins; its roll is the
		// randomness source.
		m.logger.Info().
			Int("accepted_damage", remoteDamage).
			Msg("resolution: adopting attacker values")
		m.pending.localDamage = remoteDamage
		m.pending.localHPAfter = remoteHPAfter
		m.applyLocked()
		m.phase = PhaseAwaitConfirm
		if err := m.sender.SendBattle(protocol.NewCalculationConfirm()); err != nil {
			m.logger.Error().Err(err).Msg("failed to send calculation confirm")
		}

	default:
		m.ignoreLocked(msg)
	}
}

// HandleResolutionRequest is the attacker's side of discrepancy
// resolution: re-send the authoritative calculation report and keep
// waiting for the defender's confirmation.
func (m *Machine) HandleResolutionRequest(ctx context.Context, msg *protocol.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseAwaitConfirm || m.pending == nil || !m.pending.attackerIsMe {
		m.ignoreLocked(msg)
		return
	}

	m.logger.Info().
		Int("defender_damage", msg.GetInt(protocol.FieldDamage)).
		Int("my_damage", m.pending.localDamage).
		Msg("resolution requested, re-sending authoritative report")

	if err := m.sender.SendBattle(protocol.NewCalculationReport(m.pending.localDamage, m.pending.localHPAfter)); err != nil {
		m.logger.Error().Err(err).Msg("failed to re-send calculation report")
	}
}

// HandleCalculationConfirm finishes the turn on whichever side receives it
// while awaiting confirmation.
func (m *Machine) HandleCalculationConfirm(ctx context.Context, msg *protocol.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.phase != PhaseAwaitConfirm || m.pending == nil {
		m.ignoreLocked(msg)
		return
	}
	m.confirmLocked(ctx)
}

// HandleGameOver processes the peer's GAME_OVER message. The terminal
// state is absorbing: if the local apply already ended the battle this is
// a no-op beyond logging.
func (m *Machine) HandleGameOver(ctx context.Context, msg *protocol.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()

	winner := msg.Get(protocol.FieldWinner)
	loser := msg.Get(protocol.FieldLoser)

	if m.phase == PhaseGameOver {
		m.logger.Debug().Str("winner", winner).Msg("game over already reached locally")
		return
	}

	m.phase = PhaseGameOver
	m.pending = nil
	m.logger.Info().Str("winner", winner).Str("loser", loser).Msg("game over received")

	m.bus.Emit(ctx, events.Event{
		Type:   events.EventGameOver,
		Source: "battle",
		Payload: events.GameOverPayload{
			SessionID: m.sessionID,
			Winner:    winner,
			Loser:     loser,
		},
	})
}

// computeLocked runs boost accounting and the damage formula for the
// pending attack. Boost counters decrement before the roll is drawn, on
// both peers, so the streams stay aligned.
func (m *Machine) computeLocked() {
	p := m.pending
	if p.computed {
		return
	}

	var attacker, defender *dex.Combatant
	var atkUses, defUses *int
	if p.attackerIsMe {
		attacker, defender = m.me, m.opp
		atkUses, defUses = &m.mySpAtkUses, &m.oppSpDefUses
	} else {
		attacker, defender = m.opp, m.me
		atkUses, defUses = &m.oppSpAtkUses, &m.mySpDefUses
	}

	in := DamageInput{
		Move:              p.move,
		Attacker:          attacker,
		Defender:          defender,
		UseSpAtkBoost:     p.atkBoost,
		UseSpDefBoost:     p.defBoost,
		AtkBoostAvailable: *atkUses > 0,
		DefBoostAvailable: *defUses > 0,
	}

	result := ComputeDamage(in, m.roll)
	if result.AtkBoosted {
		*atkUses--
	}
	if result.DefBoosted {
		*defUses--
	}

	p.localDamage = result.Damage
	p.localHPAfter = p.defenderHPBefore - result.Damage
	if p.localHPAfter < 0 {
		p.localHPAfter = 0
	}
	p.computed = true

	m.logger.Debug().
		Str("move", p.move.Name).
		Int("damage", result.Damage).
		Float64("type_mult", result.TypeMultiplier).
		Bool("stab", result.STAB).
		Float64("roll", result.Roll).
		Msg("damage computed")
}

// confirmLocked sends CALCULATION_CONFIRM, applies the damage once, swaps
// the turn, and checks for a win.
func (m *Machine) confirmLocked(ctx context.Context) {
	if err := m.sender.SendBattle(protocol.NewCalculationConfirm()); err != nil {
		m.logger.Error().Err(err).Msg("failed to send calculation confirm")
	}
	m.applyLocked()
	m.advanceLocked(ctx)
}

// applyLocked applies the pending damage exactly once.
func (m *Machine) applyLocked() {
	p := m.pending
	if p == nil || p.applied {
		return
	}

	if p.attackerIsMe {
		m.oppHP = p.localHPAfter
	} else {
		m.myHP = p.localHPAfter
	}
	p.applied = true
}

// advanceLocked ends the turn: flip ownership, emit the turn event, and
// detect a win. The attacker emits the GAME_OVER message.
func (m *Machine) advanceLocked(ctx context.Context) {
	p := m.pending
	if p == nil {
		return
	}

	var attacker, defender *dex.Combatant
	if p.attackerIsMe {
		attacker, defender = m.me, m.opp
	} else {
		attacker, defender = m.opp, m.me
	}

	m.turnCount++
	m.pending = nil

	if p.localHPAfter <= 0 {
		m.phase = PhaseGameOver
		m.logger.Info().Str("winner", attacker.Name).Str("loser", defender.Name).Msg("battle won")

		if p.attackerIsMe {
			if err := m.sender.SendBattle(protocol.NewGameOver(attacker.Name, defender.Name)); err != nil {
				m.logger.Error().Err(err).Msg("failed to send game over")
			}
		}

		m.bus.Emit(ctx, events.Event{
			Type:   events.EventGameOver,
			Source: "battle",
			Payload: events.GameOverPayload{
				SessionID: m.sessionID,
				Winner:    attacker.Name,
				Loser:     defender.Name,
			},
		})
		return
	}

	if m.turn == TurnMe {
		m.turn = TurnOpp
	} else {
		m.turn = TurnMe
	}
	m.phase = PhaseAwaitAttack

	m.bus.Emit(ctx, events.Event{
		Type:   events.EventTurnResolved,
		Source: "battle",
		Payload: events.TurnResolvedPayload{
			Attacker:        attacker.Name,
			Defender:        defender.Name,
			Move:            p.move.Name,
			Damage:          p.localDamage,
			DefenderHPAfter: p.localHPAfter,
			TypeMultiplier:  dex.CombinedEffectiveness(p.move.Type, defender.Primary, defender.Secondary),
			MyHP:            m.myHP,
			OppHP:           m.oppHP,
			MyTurnNext:      m.turn == TurnMe,
		},
	})
}

// ignoreLocked logs a message that does not fit the current phase. The
// reliability layer has already acknowledged it; dropping it here is what
// prevents resend storms.
func (m *Machine) ignoreLocked(msg *protocol.Message) {
	m.logger.Debug().
		Str("kind", string(msg.Type)).
		Uint32("seq", msg.Seq).
		Str("phase", m.phase.String()).
		Msg("message does not match current phase, ignored")
}
