// Package cli implements the interactive command-line interface for the
// pokeproto battle peer: attack entry, chat, stickers, and battle display.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/pokeproto-project/pokeproto/internal/battle"
	"github.com/pokeproto-project/pokeproto/internal/config"
	"github.com/pokeproto-project/pokeproto/internal/db"
	"github.com/pokeproto-project/pokeproto/internal/dex"
	"github.com/pokeproto-project/pokeproto/internal/events"
	"github.com/pokeproto-project/pokeproto/internal/peer"
)

// CLI provides the interactive command loop and the battle display.
type CLI struct {
	cfg     *config.Config
	bus     *events.EventBus
	peer    *peer.Peer
	catalog *dex.Catalog
	history *db.HistoryStore

	quit func()
}

// NewCLI creates a CLI handler. history may be nil when disabled.
func NewCLI(cfg *config.Config, bus *events.EventBus, p *peer.Peer, catalog *dex.Catalog, history *db.HistoryStore, quit func()) *CLI {
	return &CLI{
		cfg:     cfg,
		bus:     bus,
		peer:    p,
		catalog: catalog,
		history: history,
		quit:    quit,
	}
}

// Start subscribes the display handlers and runs the command loop until
// EOF, quit, or context cancellation.
func (c *CLI) Start(ctx context.Context) {
	c.subscribeDisplay()

	if c.peer.Role() == events.RoleSpectator {
		fmt.Println("\nWatching the battle. Commands: chat <text>, quit")
	} else {
		fmt.Println("\nCommands: attack <move> [boost], pokemon <name>, chat <text>, sticker <file>,")
		fmt.Println("          defboost on|off, status, moves, history, quit")
	}
	fmt.Println()

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			parts := strings.Fields(line)
			if err := c.execute(ctx, strings.ToLower(parts[0]), parts[1:]); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
		}
	}
}

// execute processes a single CLI command.
func (c *CLI) execute(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "help", "h", "?":
		c.printHelp()
	case "attack", "a":
		return c.cmdAttack(ctx, args)
	case "pokemon":
		return c.cmdPokemon(ctx, args)
	case "chat":
		return c.cmdChat(ctx, args)
	case "sticker":
		return c.cmdSticker(ctx, args)
	case "defboost":
		return c.cmdDefBoost(args)
	case "status", "s":
		c.printStatus()
	case "moves", "m":
		c.printMoves()
	case "history":
		return c.printHistory()
	case "quit", "exit", "q":
		fmt.Println("Leaving the battle...")
		c.quit()
	default:
		fmt.Printf("Unknown command: '%s'. Type 'help' for available commands.\n", cmd)
	}
	return nil
}

func (c *CLI) printHelp() {
	fmt.Println("\n  attack <move> [boost]   Attack with a move, optionally spending a Sp.Atk boost")
	fmt.Println("  pokemon <name>          Choose your combatant")
	fmt.Println("  defboost on|off         Spend Sp.Def boosts automatically when defending")
	fmt.Println("  chat <text>             Send a chat message")
	fmt.Println("  sticker <file>          Send an image sticker")
	fmt.Println("  status                  Show the battle state")
	fmt.Println("  moves                   List known moves")
	fmt.Println("  history                 Show past battles")
	fmt.Println("  quit                    Exit")
	fmt.Println()
}

func (c *CLI) cmdAttack(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: attack <move> [boost]")
	}

	boost := false
	if last := strings.ToLower(args[len(args)-1]); last == "boost" {
		boost = true
		args = args[:len(args)-1]
	}
	if len(args) == 0 {
		return fmt.Errorf("usage: attack <move> [boost]")
	}

	move := strings.Join(args, " ")
	if err := c.peer.Attack(ctx, move, boost); err != nil {
		return err
	}
	fmt.Printf("Attacking with %s...\n", move)
	return nil
}

func (c *CLI) cmdPokemon(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: pokemon <name>")
	}

	name := strings.Join(args, " ")
	if err := c.peer.SetPokemon(ctx, name); err != nil {
		return err
	}
	fmt.Printf("Combatant set to %s\n", name)
	return nil
}

func (c *CLI) cmdChat(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: chat <text>")
	}
	return c.peer.SendChat(ctx, strings.Join(args, " "))
}

func (c *CLI) cmdSticker(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sticker <file>")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read sticker file: %w", err)
	}
	if err := c.peer.SendSticker(ctx, data); err != nil {
		return err
	}
	fmt.Println("Sticker sent")
	return nil
}

func (c *CLI) cmdDefBoost(args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		return fmt.Errorf("usage: defboost on|off")
	}

	machine := c.peer.Machine()
	if machine == nil {
		return fmt.Errorf("not connected to an opponent yet")
	}
	machine.SetDefenseBoostPolicy(args[0] == "on")
	fmt.Printf("Defense boost policy: %s\n", args[0])
	return nil
}

// printStatus displays the battle state in a formatted table.
func (c *CLI) printStatus() {
	machine := c.peer.Machine()
	if machine == nil {
		fmt.Println("No battle yet: waiting for the handshake.")
		return
	}

	snap := machine.Snapshot()
	fmt.Println()

	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Side", "Pokemon", "HP", "Sp.Atk Uses", "Sp.Def Uses"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	tw.Append([]string{
		"You", snap.MyName,
		fmt.Sprintf("%d/%d", snap.MyHP, snap.MyMaxHP),
		fmt.Sprintf("%d", snap.MySpAtkUses),
		fmt.Sprintf("%d", snap.MySpDefUses),
	})
	tw.Append([]string{
		"Opponent", snap.OppName,
		fmt.Sprintf("%d/%d", snap.OppHP, snap.OppMaxHP),
		fmt.Sprintf("%d", snap.OppSpAtkUses),
		fmt.Sprintf("%d", snap.OppSpDefUses),
	})
	tw.Render()

	turn := "opponent's"
	if snap.Turn == battle.TurnMe {
		turn = "yours"
	}
	fmt.Printf("Phase: %s | Turn: %s | Turns played: %d\n\n", snap.Phase, turn, snap.TurnCount)
}

// printMoves lists the local combatant's moves, or the whole move table
// before a combatant is chosen.
func (c *CLI) printMoves() {
	var names []string
	if machine := c.peer.Machine(); machine != nil {
		if snap := machine.Snapshot(); snap.MyName != "" {
			if cb, err := c.catalog.Lookup(snap.MyName); err == nil {
				names = cb.Moves
			}
		}
	}
	if len(names) == 0 {
		names = dex.MoveNames()
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"Move", "Type", "Power", "Category"})
	tw.SetBorder(true)

	for _, name := range names {
		m, ok := dex.LookupMove(name)
		if !ok {
			continue
		}
		tw.Append([]string{
			m.Name,
			m.Type.String(),
			fmt.Sprintf("%.0f", m.Power),
			m.Category.String(),
		})
	}
	tw.Render()
	fmt.Println()
}

// printHistory lists recent finished battles from the history store.
func (c *CLI) printHistory() error {
	if c.history == nil {
		fmt.Println("Battle history is disabled.")
		return nil
	}

	records, err := c.history.Recent(20)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No battles recorded yet.")
		return nil
	}

	fmt.Println()
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader([]string{"When", "Role", "Mine", "Theirs", "Winner", "Turns"})
	tw.SetBorder(true)
	tw.SetAutoWrapText(false)

	for _, r := range records {
		tw.Append([]string{
			r.EndedAt.Format("2006-01-02 15:04"),
			r.Role,
			r.MyPokemon,
			r.OppPokemon,
			r.Winner,
			fmt.Sprintf("%d", r.Turns),
		})
	}
	tw.Render()
	fmt.Println()
	return nil
}
