package battle

import (
	"context"
	"errors"
	"testing"

	"github.com/pokeproto-project/pokeproto/internal/dex"
	"github.com/pokeproto-project/pokeproto/internal/events"
	"github.com/pokeproto-project/pokeproto/internal/protocol"
)

// queueSender collects outbound battle messages for the test pump.
type queueSender struct {
	out []*protocol.Message
}

func (q *queueSender) SendBattle(m *protocol.Message) error {
	q.out = append(q.out, m)
	return nil
}

func (q *queueSender) pop() *protocol.Message {
	if len(q.out) == 0 {
		return nil
	}
	m := q.out[0]
	q.out = q.out[1:]
	return m
}

// deliver routes a message into a machine the way the peer dispatch does.
func deliver(ctx context.Context, m *Machine, msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeBattleSetup:
		m.HandleSetup(ctx, msg)
	case protocol.TypeAttackAnnounce:
		m.HandleAttackAnnounce(ctx, msg)
	case protocol.TypeDefenseAnnounce:
		m.HandleDefenseAnnounce(ctx, msg)
	case protocol.TypeCalculationReport:
		m.HandleCalculationReport(ctx, msg)
	case protocol.TypeCalculationConfirm:
		m.HandleCalculationConfirm(ctx, msg)
	case protocol.TypeResolutionRequest:
		m.HandleResolutionRequest(ctx, msg)
	case protocol.TypeGameOver:
		m.HandleGameOver(ctx, msg)
	}
}

// duo wires two machines back to back through message queues, standing in
// for the network path.
type duo struct {
	host, join       *Machine
	hostOut, joinOut *queueSender
}

func newDuo(t *testing.T, seed uint32, hostMon, joinMon string) *duo {
	t.Helper()

	catalog, err := dex.NewCatalog("")
	if err != nil {
		t.Fatal(err)
	}
	bus := events.NewEventBus()

	hostOut := &queueSender{}
	joinOut := &queueSender{}
	d := &duo{
		host:    NewMachine("sess-host", seed, true, catalog, hostOut, bus),
		join:    NewMachine("sess-join", seed, false, catalog, joinOut, bus),
		hostOut: hostOut,
		joinOut: joinOut,
	}

	ctx := context.Background()
	hostCb := mustCombatant(t, catalog, hostMon)
	joinCb := mustCombatant(t, catalog, joinMon)
	if err := d.host.SetupLocal(ctx, hostCb, 5, 5); err != nil {
		t.Fatal(err)
	}
	if err := d.join.SetupLocal(ctx, joinCb, 5, 5); err != nil {
		t.Fatal(err)
	}
	d.pump(ctx)
	return d
}

// pump shuttles queued messages between the two machines until both
// queues drain.
func (d *duo) pump(ctx context.Context) {
	for {
		moved := false
		if m := d.hostOut.pop(); m != nil {
			deliver(ctx, d.join, m)
			moved = true
		}
		if m := d.joinOut.pop(); m != nil {
			deliver(ctx, d.host, m)
			moved = true
		}
		if !moved {
			return
		}
	}
}

func TestMachine_BattleStart(t *testing.T) {
	d := newDuo(t, 12345, "Pikachu", "Charmander")

	hs := d.host.Snapshot()
	js := d.join.Snapshot()

	if hs.Phase != PhaseAwaitAttack || js.Phase != PhaseAwaitAttack {
		t.Fatalf("both sides should be awaiting an attack, got %s / %s", hs.Phase, js.Phase)
	}
	if hs.Turn != TurnMe {
		t.Error("host attacks first")
	}
	if js.Turn != TurnOpp {
		t.Error("joiner waits first")
	}
	if hs.OppName != "Charmander" || js.OppName != "Pikachu" {
		t.Errorf("setup exchange failed: host sees %q, joiner sees %q", hs.OppName, js.OppName)
	}
	if hs.OppHP != js.MyHP || hs.MyHP != js.OppHP {
		t.Error("HP views disagree after setup")
	}
}

func TestMachine_FullTurnAndAlternation(t *testing.T) {
	ctx := context.Background()
	d := newDuo(t, 12345, "Pikachu", "Charmander")

	if err := d.host.Attack(ctx, "Quick Attack", false); err != nil {
		t.Fatal(err)
	}
	d.pump(ctx)

	hs := d.host.Snapshot()
	js := d.join.Snapshot()

	if hs.Phase != PhaseAwaitAttack || js.Phase != PhaseAwaitAttack {
		t.Fatalf("turn did not complete: %s / %s", hs.Phase, js.Phase)
	}
	if hs.Turn != TurnOpp || js.Turn != TurnMe {
		t.Errorf("turn must flip exactly once: host %s, joiner %s", hs.Turn, js.Turn)
	}
	if hs.OppHP >= 39 {
		t.Errorf("Charmander should have taken damage, at %d", hs.OppHP)
	}
	if hs.OppHP != js.MyHP {
		t.Errorf("HP trajectories diverged: attacker sees %d, defender has %d", hs.OppHP, js.MyHP)
	}
	if hs.TurnCount != 1 || js.TurnCount != 1 {
		t.Errorf("turn counters: %d / %d", hs.TurnCount, js.TurnCount)
	}

	// And back the other way.
	if err := d.join.Attack(ctx, "Scratch", false); err != nil {
		t.Fatal(err)
	}
	d.pump(ctx)

	hs = d.host.Snapshot()
	js = d.join.Snapshot()
	if hs.Turn != TurnMe || js.Turn != TurnOpp {
		t.Errorf("second flip failed: host %s, joiner %s", hs.Turn, js.Turn)
	}
	if hs.MyHP != js.OppHP {
		t.Error("HP views disagree after the return attack")
	}
}

func TestMachine_BoostMonotonicity(t *testing.T) {
	ctx := context.Background()
	d := newDuo(t, 99, "Blastoise", "Venusaur")
	d.join.SetDefenseBoostPolicy(true)

	moves := map[*Machine]string{d.host: "Water Gun", d.join: "Vine Whip"}
	attackers := []*Machine{d.host, d.join, d.host, d.join}

	prevHostAtk, prevJoinDef := 5, 5
	for _, attacker := range attackers {
		if err := attacker.Attack(ctx, moves[attacker], true); err != nil {
			t.Fatal(err)
		}
		d.pump(ctx)

		hs := d.host.Snapshot()
		js := d.join.Snapshot()
		if hs.Phase == PhaseGameOver {
			break
		}

		if hs.MySpAtkUses > prevHostAtk || js.MySpDefUses > prevJoinDef {
			t.Fatal("boost counters must never increase")
		}
		prevHostAtk, prevJoinDef = hs.MySpAtkUses, js.MySpDefUses

		for _, v := range []int{hs.MySpAtkUses, hs.MySpDefUses, js.MySpAtkUses, js.MySpDefUses} {
			if v < 0 {
				t.Fatal("boost counters must never go negative")
			}
		}

		// Both peers agree on both sides' counters.
		if hs.MySpAtkUses != js.OppSpAtkUses || js.MySpDefUses != hs.OppSpDefUses {
			t.Fatalf("counter views diverged: %+v vs %+v", hs, js)
		}
	}

	if got := d.host.Snapshot().MySpAtkUses; got >= 5 {
		t.Errorf("host spent attack boosts, counter should be below 5, got %d", got)
	}
}

func TestMachine_WrongTurnAttackRejected(t *testing.T) {
	ctx := context.Background()
	d := newDuo(t, 7, "Pikachu", "Charmander")

	err := d.join.Attack(ctx, "Scratch", false)
	var invalid *InvalidCommandError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidCommandError, got %v", err)
	}

	if err := d.host.Attack(ctx, "Splash Dance", false); err == nil {
		t.Error("unknown move must be rejected")
	}
	if err := d.host.Attack(ctx, "Hydro Pump", false); err == nil {
		t.Error("a move the combatant does not know must be rejected")
	}
}

func TestMachine_AttackAnnounceIgnoredOnOwnTurn(t *testing.T) {
	ctx := context.Background()
	d := newDuo(t, 7, "Pikachu", "Charmander")

	// The host's turn: a stray announcement from the peer is dropped.
	msg := protocol.NewAttackAnnounce("Ember", false)
	d.host.HandleAttackAnnounce(ctx, msg)

	hs := d.host.Snapshot()
	if hs.Phase != PhaseAwaitAttack || hs.Turn != TurnMe {
		t.Errorf("the peer whose turn it is keeps it: %s / %s", hs.Phase, hs.Turn)
	}
}

// defenderHarness runs a lone defender-side machine fed with crafted
// attacker messages.
func defenderHarness(t *testing.T, seed uint32) (*Machine, *queueSender, *dex.Catalog) {
	t.Helper()
	catalog, err := dex.NewCatalog("")
	if err != nil {
		t.Fatal(err)
	}
	out := &queueSender{}
	m := NewMachine("sess-def", seed, false, catalog, out, events.NewEventBus())

	ctx := context.Background()
	if err := m.SetupLocal(ctx, mustCombatant(t, catalog, "Charmander"), 5, 5); err != nil {
		t.Fatal(err)
	}
	out.pop() // our own BATTLE_SETUP
	m.HandleSetup(ctx, protocol.NewBattleSetup("Pikachu", 35, 5, 5))
	return m, out, catalog
}

func TestMachine_DiscrepancyResolution(t *testing.T) {
	ctx := context.Background()
	seed := uint32(4242)
	m, out, catalog := defenderHarness(t, seed)

	// What the defender will compute locally.
	local := ComputeDamage(DamageInput{
		Move:     mustMove(t, "Quick Attack"),
		Attacker: mustCombatant(t, catalog, "Pikachu"),
		Defender: mustCombatant(t, catalog, "Charmander"),
	}, NewRoll(seed))
	localHPAfter := 39 - local.Damage
	if localHPAfter < 0 {
		localHPAfter = 0
	}

	m.HandleAttackAnnounce(ctx, protocol.NewAttackAnnounce("Quick Attack", false))
	if def := out.pop(); def == nil || def.Type != protocol.TypeDefenseAnnounce {
		t.Fatalf("expected DEFENSE_ANNOUNCE, got %v", def)
	}

	// The attacker reports one point more than the defender computes
	// (an injected bug on the attacker's side of the wire).
	wrongDamage := local.Damage + 1
	wrongHPAfter := localHPAfter - 1
	m.HandleCalculationReport(ctx, protocol.NewCalculationReport(wrongDamage, wrongHPAfter))

	res := out.pop()
	if res == nil || res.Type != protocol.TypeResolutionRequest {
		t.Fatalf("expected RESOLUTION_REQUEST, got %v", res)
	}
	if res.GetInt(protocol.FieldDamage) != local.Damage {
		t.Errorf("resolution request carries the defender's own value %d, got %s",
			local.Damage, res.Get(protocol.FieldDamage))
	}
	if m.Snapshot().Phase != PhaseResolving {
		t.Fatalf("defender should be RESOLVING, is %s", m.Snapshot().Phase)
	}

	// The attacker re-sends its authoritative report; the defender adopts it.
	m.HandleCalculationReport(ctx, protocol.NewCalculationReport(wrongDamage, wrongHPAfter))

	if confirm := out.pop(); confirm == nil || confirm.Type != protocol.TypeCalculationConfirm {
		t.Fatalf("expected CALCULATION_CONFIRM, got %v", confirm)
	}
	snap := m.Snapshot()
	if snap.Phase != PhaseAwaitConfirm {
		t.Fatalf("defender should be AWAIT_CONFIRM, is %s", snap.Phase)
	}
	if snap.MyHP != wrongHPAfter {
		t.Errorf("the attacker's values win: HP %d, want %d", snap.MyHP, wrongHPAfter)
	}

	// The attacker's confirmation ends the turn with the flip.
	m.HandleCalculationConfirm(ctx, protocol.NewCalculationConfirm())
	snap = m.Snapshot()
	if snap.Phase != PhaseAwaitAttack || snap.Turn != TurnMe {
		t.Errorf("turn should flip to the defender: %s / %s", snap.Phase, snap.Turn)
	}
	if snap.MyHP != wrongHPAfter {
		t.Errorf("damage applied twice: HP %d, want %d", snap.MyHP, wrongHPAfter)
	}
}

func TestMachine_WinDetectionAndAbsorbingTerminal(t *testing.T) {
	ctx := context.Background()
	catalog, err := dex.NewCatalog("")
	if err != nil {
		t.Fatal(err)
	}
	out := &queueSender{}
	m := NewMachine("sess-atk", 12345, true, catalog, out, events.NewEventBus())

	if err := m.SetupLocal(ctx, mustCombatant(t, catalog, "Pikachu"), 5, 5); err != nil {
		t.Fatal(err)
	}
	out.pop() // BATTLE_SETUP
	// The opponent enters already battered: any hit finishes it.
	m.HandleSetup(ctx, protocol.NewBattleSetup("Charmander", 1, 5, 5))

	if err := m.Attack(ctx, "Thunderbolt", false); err != nil {
		t.Fatal(err)
	}
	if ann := out.pop(); ann == nil || ann.Type != protocol.TypeAttackAnnounce {
		t.Fatalf("expected ATTACK_ANNOUNCE, got %v", ann)
	}

	m.HandleDefenseAnnounce(ctx, protocol.NewDefenseAnnounce(false))
	report := out.pop()
	if report == nil || report.Type != protocol.TypeCalculationReport {
		t.Fatalf("expected CALCULATION_REPORT, got %v", report)
	}
	if report.GetInt(protocol.FieldHPAfter) != 0 {
		t.Errorf("defender HP must clamp to zero, got %s", report.Get(protocol.FieldHPAfter))
	}

	// The defender echoes matching values; the attacker confirms and wins.
	m.HandleCalculationReport(ctx, protocol.NewCalculationReport(
		report.GetInt(protocol.FieldDamage), report.GetInt(protocol.FieldHPAfter)))

	if confirm := out.pop(); confirm == nil || confirm.Type != protocol.TypeCalculationConfirm {
		t.Fatalf("expected CALCULATION_CONFIRM, got %v", confirm)
	}
	gameOver := out.pop()
	if gameOver == nil || gameOver.Type != protocol.TypeGameOver {
		t.Fatalf("the attacker emits GAME_OVER, got %v", gameOver)
	}
	if gameOver.Get(protocol.FieldWinner) != "Pikachu" || gameOver.Get(protocol.FieldLoser) != "Charmander" {
		t.Errorf("winner/loser: %s/%s", gameOver.Get(protocol.FieldWinner), gameOver.Get(protocol.FieldLoser))
	}

	snap := m.Snapshot()
	if snap.Phase != PhaseGameOver {
		t.Fatalf("phase = %s, want GAME_OVER", snap.Phase)
	}
	if snap.OppHP != 0 {
		t.Errorf("opponent HP = %d, want 0", snap.OppHP)
	}

	// Terminal state is absorbing.
	m.HandleAttackAnnounce(ctx, protocol.NewAttackAnnounce("Ember", false))
	m.HandleCalculationConfirm(ctx, protocol.NewCalculationConfirm())
	if err := m.Attack(ctx, "Thunderbolt", false); err == nil {
		t.Error("attacking after GAME_OVER must fail")
	}
	if got := m.Snapshot().Phase; got != PhaseGameOver {
		t.Errorf("no transitions out of GAME_OVER, got %s", got)
	}
}

func TestMachine_DeterministicReportsAcrossPeers(t *testing.T) {
	ctx := context.Background()
	d := newDuo(t, 12345, "Pikachu", "Charmander")

	// Capture both reports for the same turn by replaying the exchange by
	// hand: the host announces, the joiner responds.
	if err := d.host.Attack(ctx, "Thunderbolt", false); err != nil {
		t.Fatal(err)
	}
	announce := d.hostOut.pop()
	deliver(ctx, d.join, announce)
	defense := d.joinOut.pop()
	deliver(ctx, d.host, defense)

	hostReport := d.hostOut.pop()
	if hostReport == nil || hostReport.Type != protocol.TypeCalculationReport {
		t.Fatalf("expected the host's CALCULATION_REPORT, got %v", hostReport)
	}
	deliver(ctx, d.join, hostReport)
	joinReport := d.joinOut.pop()
	if joinReport == nil || joinReport.Type != protocol.TypeCalculationReport {
		t.Fatalf("expected the joiner's matching report, got %v", joinReport)
	}

	if hostReport.Get(protocol.FieldDamage) != joinReport.Get(protocol.FieldDamage) ||
		hostReport.Get(protocol.FieldHPAfter) != joinReport.Get(protocol.FieldHPAfter) {
		t.Errorf("reports differ: %v vs %v", hostReport.Fields, joinReport.Fields)
	}
}
