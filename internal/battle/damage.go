package battle

import (
	"math"

	"github.com/pokeproto-project/pokeproto/internal/dex"
)

// DamageInput carries everything the damage formula consumes. The boost
// flags are the announced intents; the Available flags say whether the
// corresponding side still has uses left (an exhausted boost is a no-op).
type DamageInput struct {
	Move     dex.Move
	Attacker *dex.Combatant
	Defender *dex.Combatant

	UseSpAtkBoost     bool
	UseSpDefBoost     bool
	AtkBoostAvailable bool
	DefBoostAvailable bool
}

// DamageResult is the outcome of one damage computation.
type DamageResult struct {
	Damage         int
	TypeMultiplier float64
	STAB           bool
	Roll           float64
	AtkBoosted     bool
	DefBoosted     bool
}

// ComputeDamage evaluates the synchronized damage formula. Both peers run
// it with identical inputs and an identical roll stream, so the results
// match bit for bit. The roll is drawn exactly once per call, after boost
// accounting, even against an immune defender.
func ComputeDamage(in DamageInput, roll *Roll) DamageResult {
	var atkStat, defStat float64
	if in.Move.Category == dex.CategorySpecial {
		atkStat = float64(in.Attacker.SpAttack)
		defStat = float64(in.Defender.SpDefense)
	} else {
		atkStat = float64(in.Attacker.Attack)
		defStat = float64(in.Defender.Defense)
	}

	// Boosts multiply the special stats, so they only matter for special
	// moves; against a physical move the flag is a silent no-op and no
	// use is consumed.
	special := in.Move.Category == dex.CategorySpecial
	result := DamageResult{
		AtkBoosted: special && in.UseSpAtkBoost && in.AtkBoostAvailable,
		DefBoosted: special && in.UseSpDefBoost && in.DefBoostAvailable,
	}
	if result.AtkBoosted {
		atkStat *= 1.5
	}
	if result.DefBoosted {
		defStat *= 1.5
	}

	// Level is fixed at 50.
	base := ((2*50/5+2)*in.Move.Power*atkStat/defStat)/50 + 2

	stab := 1.0
	if in.Attacker.HasType(in.Move.Type) {
		stab = 1.5
		result.STAB = true
	}

	result.TypeMultiplier = dex.CombinedEffectiveness(in.Move.Type, in.Defender.Primary, in.Defender.Secondary)

	result.Roll = roll.Next()

	damage := int(math.Floor(base * stab * result.TypeMultiplier * result.Roll))
	if result.TypeMultiplier == 0 {
		damage = 0
	} else if damage < 1 {
		damage = 1
	}
	result.Damage = damage

	return result
}

// EffectivenessText renders the classic battle commentary for a type
// multiplier. Neutral matchups return "".
func EffectivenessText(mult float64) string {
	switch {
	case mult == 0:
		return "It had no effect!"
	case mult >= 2.0:
		return "It was super effective!"
	case mult <= 0.5:
		return "It's not very effective..."
	default:
		return ""
	}
}
