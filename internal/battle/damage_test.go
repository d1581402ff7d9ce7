package battle

import (
	"math"
	"testing"

	"github.com/pokeproto-project/pokeproto/internal/dex"
)

func mustMove(t *testing.T, name string) dex.Move {
	t.Helper()
	m, ok := dex.LookupMove(name)
	if !ok {
		t.Fatalf("move %s not in the move table", name)
	}
	return m
}

func mustCombatant(t *testing.T, c *dex.Catalog, name string) *dex.Combatant {
	t.Helper()
	cb, err := c.Lookup(name)
	if err != nil {
		t.Fatalf("combatant %s: %v", name, err)
	}
	return cb
}

func TestRoll_DeterministicAcrossPeers(t *testing.T) {
	a := NewRoll(12345)
	b := NewRoll(12345)

	for i := 0; i < 100; i++ {
		va, vb := a.Next(), b.Next()
		if va != vb {
			t.Fatalf("draw %d diverged: %v vs %v", i, va, vb)
		}
		if va < 0.85 || va > 1.0 {
			t.Fatalf("draw %d out of range: %v", i, va)
		}
	}
}

func TestRoll_SeedMatters(t *testing.T) {
	a := NewRoll(1)
	b := NewRoll(2)
	same := true
	for i := 0; i < 10; i++ {
		if a.Next() != b.Next() {
			same = false
		}
	}
	if same {
		t.Error("different seeds produced identical streams")
	}
}

func TestComputeDamage_PikachuThunderboltVsCharmander(t *testing.T) {
	catalog, err := dex.NewCatalog("")
	if err != nil {
		t.Fatal(err)
	}
	pikachu := mustCombatant(t, catalog, "Pikachu")
	charmander := mustCombatant(t, catalog, "Charmander")

	in := DamageInput{
		Move:     mustMove(t, "Thunderbolt"),
		Attacker: pikachu,
		Defender: charmander,
	}

	// Both peers share the seed, so both reach the same value.
	r1 := ComputeDamage(in, NewRoll(12345))
	r2 := ComputeDamage(in, NewRoll(12345))
	if r1 != r2 {
		t.Fatalf("peers disagree: %+v vs %+v", r1, r2)
	}

	if !r1.STAB {
		t.Error("Electric move from an Electric attacker should have STAB")
	}
	if r1.TypeMultiplier != 2.0 {
		t.Errorf("Electric vs Fire should be 2.0x, got %v", r1.TypeMultiplier)
	}
	if r1.Damage <= 0 {
		t.Errorf("expected positive damage, got %d", r1.Damage)
	}

	// The formula itself, replayed by hand with the same roll.
	roll := NewRoll(12345).Next()
	base := ((2*50/5+2)*90.0*50.0/50.0)/50 + 2
	want := int(math.Floor(base * 1.5 * 2.0 * roll))
	if r1.Damage != want {
		t.Errorf("damage = %d, want %d", r1.Damage, want)
	}
}

func TestComputeDamage_ImmunityDealsZero(t *testing.T) {
	golem := &dex.Combatant{
		Name: "Golem", Primary: dex.TypeRock, Secondary: dex.TypeGround,
		HP: 80, Attack: 120, Defense: 130, SpAttack: 55, SpDefense: 65, Speed: 45,
	}
	catalog, err := dex.NewCatalog("")
	if err != nil {
		t.Fatal(err)
	}
	pikachu := mustCombatant(t, catalog, "Pikachu")

	result := ComputeDamage(DamageInput{
		Move:     mustMove(t, "Thunderbolt"),
		Attacker: pikachu,
		Defender: golem,
	}, NewRoll(1))

	if result.TypeMultiplier != 0 {
		t.Fatalf("Electric vs Ground should be immune, got %v", result.TypeMultiplier)
	}
	if result.Damage != 0 {
		t.Errorf("immune hit should deal 0, got %d", result.Damage)
	}
}

func TestComputeDamage_MinimumOne(t *testing.T) {
	tank := &dex.Combatant{
		Name: "Shuckle", Primary: dex.TypeBug, Secondary: dex.TypeRock,
		HP: 20, Attack: 10, Defense: 230, SpAttack: 10, SpDefense: 230, Speed: 5,
	}
	weakling := &dex.Combatant{
		Name: "Magikarp", Primary: dex.TypeWater, Secondary: dex.TypeNone,
		HP: 20, Attack: 10, Defense: 55, SpAttack: 15, SpDefense: 20, Speed: 80,
	}

	result := ComputeDamage(DamageInput{
		Move:     mustMove(t, "Tackle"),
		Attacker: weakling,
		Defender: tank,
	}, NewRoll(1))

	if result.Damage < 1 {
		t.Errorf("non-immune hit must deal at least 1, got %d", result.Damage)
	}
}

func TestComputeDamage_BoostAccounting(t *testing.T) {
	catalog, err := dex.NewCatalog("")
	if err != nil {
		t.Fatal(err)
	}
	pikachu := mustCombatant(t, catalog, "Pikachu")
	charmander := mustCombatant(t, catalog, "Charmander")
	move := mustMove(t, "Thunderbolt")

	plain := ComputeDamage(DamageInput{
		Move: move, Attacker: pikachu, Defender: charmander,
	}, NewRoll(42))

	boosted := ComputeDamage(DamageInput{
		Move: move, Attacker: pikachu, Defender: charmander,
		UseSpAtkBoost: true, AtkBoostAvailable: true,
	}, NewRoll(42))

	if !boosted.AtkBoosted {
		t.Error("available boost was not honored")
	}
	if boosted.Damage <= plain.Damage {
		t.Errorf("boosted damage %d should exceed plain %d", boosted.Damage, plain.Damage)
	}

	// Exhausted boost is a silent no-op on both peers.
	exhausted := ComputeDamage(DamageInput{
		Move: move, Attacker: pikachu, Defender: charmander,
		UseSpAtkBoost: true, AtkBoostAvailable: false,
	}, NewRoll(42))
	if exhausted.AtkBoosted {
		t.Error("exhausted boost must not apply")
	}
	if exhausted.Damage != plain.Damage {
		t.Errorf("exhausted boost changed damage: %d vs %d", exhausted.Damage, plain.Damage)
	}

	// Defense boost pushes damage the other way.
	defended := ComputeDamage(DamageInput{
		Move: move, Attacker: pikachu, Defender: charmander,
		UseSpDefBoost: true, DefBoostAvailable: true,
	}, NewRoll(42))
	if defended.Damage >= plain.Damage {
		t.Errorf("defended damage %d should be below plain %d", defended.Damage, plain.Damage)
	}
}

func TestComputeDamage_TrajectoriesCoincide(t *testing.T) {
	catalog, err := dex.NewCatalog("")
	if err != nil {
		t.Fatal(err)
	}
	pikachu := mustCombatant(t, catalog, "Pikachu")
	charmander := mustCombatant(t, catalog, "Charmander")

	moves := []string{"Thunderbolt", "Ember", "Thunder", "Flamethrower", "Quick Attack"}

	rollA := NewRoll(777)
	rollB := NewRoll(777)

	for i, name := range moves {
		attacker, defender := pikachu, charmander
		if i%2 == 1 {
			attacker, defender = charmander, pikachu
		}
		in := DamageInput{Move: mustMove(t, name), Attacker: attacker, Defender: defender}

		a := ComputeDamage(in, rollA)
		b := ComputeDamage(in, rollB)
		if a.Damage != b.Damage {
			t.Fatalf("turn %d (%s): %d vs %d", i, name, a.Damage, b.Damage)
		}
	}
}
