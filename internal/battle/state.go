// Package battle implements the deterministic damage engine and the
// four-step turn state machine of the PokeProtocol.
package battle

import (
	"github.com/pokeproto-project/pokeproto/internal/dex"
)

// Phase is a battle state machine phase.
type Phase int

const (
	PhaseSetup Phase = iota
	PhaseAwaitAttack
	PhaseAwaitDefenseAck
	PhaseAwaitCalcReports
	PhaseAwaitConfirm
	PhaseResolving
	PhaseGameOver
)

// phaseStrings maps Phase values to their wire-style string representation.
var phaseStrings = map[Phase]string{
	PhaseSetup:            "SETUP",
	PhaseAwaitAttack:      "AWAIT_ATTACK",
	PhaseAwaitDefenseAck:  "AWAIT_DEFENSE_ACK",
	PhaseAwaitCalcReports: "AWAIT_CALC_REPORTS",
	PhaseAwaitConfirm:     "AWAIT_CONFIRM",
	PhaseResolving:        "RESOLVING",
	PhaseGameOver:         "GAME_OVER",
}

// String returns the string representation of Phase.
func (p Phase) String() string {
	if str, ok := phaseStrings[p]; ok {
		return str
	}
	return "SETUP"
}

// MarshalJSON serializes Phase as a JSON string (e.g. "AWAIT_ATTACK").
func (p Phase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// Turn says whose attack is expected next.
type Turn int

const (
	TurnMe Turn = iota
	TurnOpp
)

// String returns "ME" or "OPP".
func (t Turn) String() string {
	if t == TurnMe {
		return "ME"
	}
	return "OPP"
}

// MarshalJSON serializes Turn as a JSON string.
func (t Turn) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

// pendingAttack tracks the turn currently in flight: the move, the
// announced boost flags, and both sides' computed values.
type pendingAttack struct {
	move         dex.Move
	attackerIsMe bool

	atkBoost bool
	defBoost bool

	defenderHPBefore int

	computed     bool
	localDamage  int
	localHPAfter int

	applied bool
}

// Snapshot is a read-only copy of the battle state for display surfaces
// (CLI status, observer API, telemetry).
type Snapshot struct {
	Phase        Phase  `json:"phase"`
	Turn         Turn   `json:"turn"`
	MyName       string `json:"my_name"`
	OppName      string `json:"opp_name"`
	MyHP         int    `json:"my_hp"`
	MyMaxHP      int    `json:"my_max_hp"`
	OppHP        int    `json:"opp_hp"`
	OppMaxHP     int    `json:"opp_max_hp"`
	MySpAtkUses  int    `json:"my_sp_atk_uses"`
	MySpDefUses  int    `json:"my_sp_def_uses"`
	OppSpAtkUses int    `json:"opp_sp_atk_uses"`
	OppSpDefUses int    `json:"opp_sp_def_uses"`
	TurnCount    int    `json:"turn_count"`
}
