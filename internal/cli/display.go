package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/pokeproto-project/pokeproto/internal/battle"
	"github.com/pokeproto-project/pokeproto/internal/events"
)

// ANSI color codes for the HP bars.
const (
	colorGreen  = "\033[92m"
	colorYellow = "\033[93m"
	colorRed    = "\033[91m"
	colorReset  = "\033[0m"
)

// subscribeDisplay wires the battle display onto the event bus.
func (c *CLI) subscribeDisplay() {
	c.bus.Subscribe(events.EventPeerConnected, "cli_display", func(_ context.Context, e events.Event) error {
		p := e.Payload.(events.PeerConnectedPayload)
		if p.PeerName != "" {
			fmt.Printf("\nConnected to %s (%s)\n", p.PeerName, p.Addr)
		} else {
			fmt.Printf("\nConnected to %s\n", p.Addr)
		}
		return nil
	})

	c.bus.Subscribe(events.EventBattleStarted, "cli_display", func(_ context.Context, e events.Event) error {
		p := e.Payload.(events.BattleStartedPayload)
		fmt.Println("\n" + strings.Repeat("=", 60))
		fmt.Println("BATTLE STARTED!")
		fmt.Println(strings.Repeat("=", 60))
		fmt.Println(hpBar("YOU", p.MyName, p.MyHP, p.MyHP))
		fmt.Println(hpBar("OPPONENT", p.OppName, p.OppHP, p.OppHP))
		fmt.Println(strings.Repeat("=", 60))
		if p.MyTurn {
			fmt.Println("You go first!")
		} else {
			fmt.Println("Opponent goes first...")
		}
		fmt.Println()
		return nil
	})

	c.bus.Subscribe(events.EventTurnResolved, "cli_display", func(_ context.Context, e events.Event) error {
		p := e.Payload.(events.TurnResolvedPayload)
		snap := c.snapshot()

		fmt.Println("\n" + strings.Repeat("-", 60))
		fmt.Printf("%s used %s! Damage: %d\n", p.Attacker, p.Move, p.Damage)
		if text := battle.EffectivenessText(p.TypeMultiplier); text != "" {
			fmt.Println(text)
		}
		if snap != nil {
			fmt.Println(hpBar("YOU", snap.MyName, snap.MyHP, snap.MyMaxHP))
			fmt.Println(hpBar("OPPONENT", snap.OppName, snap.OppHP, snap.OppMaxHP))
		}
		if p.MyTurnNext {
			fmt.Println("Your turn!")
		} else {
			fmt.Println("Waiting for opponent...")
		}
		fmt.Println(strings.Repeat("-", 60))
		return nil
	})

	c.bus.Subscribe(events.EventDiscrepancy, "cli_display", func(_ context.Context, e events.Event) error {
		p := e.Payload.(events.DiscrepancyPayload)
		fmt.Printf("\nCalculation mismatch (mine %d, theirs %d) - resolving with the attacker's values.\n",
			p.LocalDamage, p.RemoteDamage)
		return nil
	})

	c.bus.Subscribe(events.EventGameOver, "cli_display", func(_ context.Context, e events.Event) error {
		p := e.Payload.(events.GameOverPayload)
		fmt.Println("\n" + strings.Repeat("=", 60))
		fmt.Println("BATTLE ENDED")
		fmt.Printf("Winner: %s\nLoser:  %s (fainted)\n", p.Winner, p.Loser)
		if snap := c.snapshot(); snap != nil {
			fmt.Println(hpBar("YOU", snap.MyName, snap.MyHP, snap.MyMaxHP))
			fmt.Println(hpBar("OPPONENT", snap.OppName, snap.OppHP, snap.OppMaxHP))
		}
		fmt.Println(strings.Repeat("=", 60))
		return nil
	})

	c.bus.Subscribe(events.EventChatReceived, "cli_display", func(_ context.Context, e events.Event) error {
		p := e.Payload.(events.ChatPayload)
		fmt.Printf("[CHAT] %s: %s\n", p.From, p.Text)
		return nil
	})

	c.bus.Subscribe(events.EventStickerReceived, "cli_display", func(_ context.Context, e events.Event) error {
		p := e.Payload.(events.StickerPayload)
		fmt.Printf("[CHAT] %s sent a sticker (%d bytes)\n", p.From, p.Size)
		return nil
	})

	c.bus.Subscribe(events.EventConnectionFailed, "cli_display", func(_ context.Context, e events.Event) error {
		p := e.Payload.(events.ConnectionFailedPayload)
		fmt.Printf("\nConnection failed: no ACK for %s (seq %d). The session is over.\n", p.Kind, p.Seq)
		return nil
	})

	// Spectators have no state machine; the frame summaries are their view
	// of the battle.
	if c.peer.Role() == events.RoleSpectator {
		c.bus.Subscribe(events.EventFrameReceived, "cli_display", func(_ context.Context, e events.Event) error {
			p := e.Payload.(events.FramePayload)
			if p.Summary != "" {
				fmt.Printf("[BATTLE] %s\n", p.Summary)
			}
			return nil
		})
	}
}

type snapshotView struct {
	MyName, OppName                string
	MyHP, MyMaxHP, OppHP, OppMaxHP int
}

func (c *CLI) snapshot() *snapshotView {
	machine := c.peer.Machine()
	if machine == nil {
		return nil
	}
	s := machine.Snapshot()
	return &snapshotView{
		MyName: s.MyName, OppName: s.OppName,
		MyHP: s.MyHP, MyMaxHP: s.MyMaxHP,
		OppHP: s.OppHP, OppMaxHP: s.OppMaxHP,
	}
}

// hpBar renders a colored 30-segment HP bar.
func hpBar(prefix, name string, current, maximum int) string {
	const length = 30

	filled := 0
	percentage := 0.0
	if maximum > 0 {
		filled = length * current / maximum
		percentage = float64(current) / float64(maximum) * 100
	}
	if filled > length {
		filled = length
	}

	color := colorGreen
	if percentage < 25 {
		color = colorRed
	} else if percentage < 65 {
		color = colorYellow
	}

	bar := strings.Repeat("█", filled) + strings.Repeat("░", length-filled)
	return fmt.Sprintf("%-9s %-15s [%s%s%s] %3d/%3d (%5.1f%%)",
		prefix+":", name, color, bar, colorReset, current, maximum, percentage)
}
