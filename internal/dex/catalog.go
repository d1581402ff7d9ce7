// Package dex implements the combatant catalog: stat blocks, the fixed
// move table, and the static type effectiveness chart.
package dex

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/pokeproto-project/pokeproto/internal/util"
)

// Combatant is an immutable stat block resolved from the catalog.
type Combatant struct {
	Name      string `json:"name"`
	Primary   Type   `json:"-"`
	Secondary Type   `json:"-"`

	HP        int `json:"hp"`
	Attack    int `json:"attack"`
	Defense   int `json:"defense"`
	SpAttack  int `json:"sp_attack"`
	SpDefense int `json:"sp_defense"`
	Speed     int `json:"speed"`

	Moves []string `json:"moves"`
}

// HasType reports whether the combatant carries the given elemental type.
// Used for the same-type attack bonus.
func (c *Combatant) HasType(t Type) bool {
	return t != TypeNone && (c.Primary == t || c.Secondary == t)
}

// Types returns the display form of the combatant's typing, e.g. "Grass/Poison".
func (c *Combatant) Types() string {
	if c.Secondary == TypeNone {
		return c.Primary.String()
	}
	return c.Primary.String() + "/" + c.Secondary.String()
}

// KnowsMove reports whether the move is in the combatant's move list (any case).
func (c *Combatant) KnowsMove(name string) bool {
	for _, m := range c.Moves {
		if strings.EqualFold(m, name) {
			return true
		}
	}
	return false
}

// NotFoundError is returned when a name does not resolve in the catalog.
// Sample carries a few valid names for user feedback.
type NotFoundError struct {
	Name   string
	Sample []string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("combatant %q not found (known: %s, ...)",
		e.Name, strings.Join(e.Sample, ", "))
}

// Catalog resolves combatant names to stat blocks. Lookup is
// case-sensitive; callers that want forgiving matching use Search.
type Catalog struct {
	byName map[string]*Combatant
	logger zerolog.Logger
}

// NewCatalog builds a catalog. If csvPath is non-empty the file is loaded
// on top of the built-in set, overriding entries with the same name.
func NewCatalog(csvPath string) (*Catalog, error) {
	c := &Catalog{
		byName: make(map[string]*Combatant),
		logger: util.ComponentLogger("dex"),
	}

	for i := range builtins {
		b := builtins[i]
		c.byName[b.Name] = &b
	}

	if csvPath != "" {
		n, err := c.loadCSV(csvPath)
		if err != nil {
			return nil, err
		}
		c.logger.Info().Str("path", csvPath).Int("loaded", n).Msg("combatant data loaded")
	}

	return c, nil
}

// Lookup resolves a name exactly. Misses return a *NotFoundError carrying
// a small sample of valid names.
func (c *Catalog) Lookup(name string) (*Combatant, error) {
	if cb, ok := c.byName[name]; ok {
		return cb, nil
	}
	return nil, &NotFoundError{Name: name, Sample: c.sample(5)}
}

// Search returns the combatant whose name matches case-insensitively, or
// nil if there is no such entry. Callers normalize; the core catalog does not.
func (c *Catalog) Search(name string) *Combatant {
	for n, cb := range c.byName {
		if strings.EqualFold(n, name) {
			return cb
		}
	}
	return nil
}

// Names returns all catalog names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.byName))
	for n := range c.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of catalog entries.
func (c *Catalog) Len() int {
	return len(c.byName)
}

func (c *Catalog) sample(n int) []string {
	names := c.Names()
	if len(names) > n {
		names = names[:n]
	}
	return names
}

// loadCSV reads combatants from a CSV file with the header
// name,type1,type2,hp,attack,defense,sp_attack,sp_defense,speed,moves
// where moves is a semicolon-separated list.
func (c *Catalog) loadCSV(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open combatant data %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read combatant data header: %w", err)
	}

	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"name", "type1", "hp", "attack", "defense", "sp_attack", "sp_defense", "speed"} {
		if _, ok := col[required]; !ok {
			return 0, fmt.Errorf("combatant data %s is missing column %q", path, required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	loaded := 0
	for line := 2; ; line++ {
		row, err := r.Read()
		if err != nil {
			break
		}

		name := field(row, "name")
		if name == "" {
			continue
		}

		primary, ok := ParseType(field(row, "type1"))
		if !ok {
			c.logger.Warn().Int("line", line).Str("name", name).
				Str("type", field(row, "type1")).Msg("skipping row with unknown type")
			continue
		}
		secondary := TypeNone
		if t2 := field(row, "type2"); t2 != "" {
			if parsed, ok := ParseType(t2); ok {
				secondary = parsed
			}
		}

		stat := func(colName string) int {
			v, _ := strconv.Atoi(field(row, colName))
			return v
		}

		cb := &Combatant{
			Name:      name,
			Primary:   primary,
			Secondary: secondary,
			HP:        stat("hp"),
			Attack:    stat("attack"),
			Defense:   stat("defense"),
			SpAttack:  stat("sp_attack"),
			SpDefense: stat("sp_defense"),
			Speed:     stat("speed"),
		}
		if moves := field(row, "moves"); moves != "" {
			for _, m := range strings.Split(moves, ";") {
				if m = strings.TrimSpace(m); m != "" {
					cb.Moves = append(cb.Moves, m)
				}
			}
		}
		if cb.HP <= 0 {
			c.logger.Warn().Int("line", line).Str("name", name).Msg("skipping row with non-positive HP")
			continue
		}

		c.byName[cb.Name] = cb
		loaded++
	}

	return loaded, nil
}

// builtins is the compiled-in combatant set, so the binary battles
// without an external data file.
var builtins = []Combatant{
	{
		Name: "Pikachu", Primary: TypeElectric, Secondary: TypeNone,
		HP: 35, Attack: 55, Defense: 40, SpAttack: 50, SpDefense: 50, Speed: 90,
		Moves: []string{"Thunderbolt", "Thunder", "Quick Attack", "Tackle"},
	},
	{
		Name: "Charmander", Primary: TypeFire, Secondary: TypeNone,
		HP: 39, Attack: 52, Defense: 43, SpAttack: 60, SpDefense: 50, Speed: 65,
		Moves: []string{"Ember", "Flamethrower", "Scratch", "Bite"},
	},
	{
		Name: "Squirtle", Primary: TypeWater, Secondary: TypeNone,
		HP: 44, Attack: 48, Defense: 65, SpAttack: 50, SpDefense: 64, Speed: 43,
		Moves: []string{"Water Gun", "Hydro Pump", "Tackle", "Bite"},
	},
	{
		Name: "Bulbasaur", Primary: TypeGrass, Secondary: TypePoison,
		HP: 45, Attack: 49, Defense: 49, SpAttack: 65, SpDefense: 65, Speed: 45,
		Moves: []string{"Vine Whip", "Solar Beam", "Tackle"},
	},
	{
		Name: "Charizard", Primary: TypeFire, Secondary: TypeFlying,
		HP: 78, Attack: 84, Defense: 78, SpAttack: 109, SpDefense: 85, Speed: 100,
		Moves: []string{"Flamethrower", "Ember", "Scratch", "Bite"},
	},
	{
		Name: "Blastoise", Primary: TypeWater, Secondary: TypeNone,
		HP: 79, Attack: 83, Defense: 100, SpAttack: 85, SpDefense: 105, Speed: 78,
		Moves: []string{"Hydro Pump", "Water Gun", "Tackle", "Bite"},
	},
	{
		Name: "Venusaur", Primary: TypeGrass, Secondary: TypePoison,
		HP: 80, Attack: 82, Defense: 83, SpAttack: 100, SpDefense: 100, Speed: 80,
		Moves: []string{"Solar Beam", "Vine Whip", "Tackle"},
	},
	{
		Name: "Greninja", Primary: TypeWater, Secondary: TypeDark,
		HP: 72, Attack: 95, Defense: 67, SpAttack: 103, SpDefense: 71, Speed: 122,
		Moves: []string{"Water Shuriken", "Hydro Pump", "Bite", "Quick Attack"},
	},
}
