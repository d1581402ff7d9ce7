package dex

import "strings"

// Category is a move's damage category.
type Category int

const (
	CategoryPhysical Category = iota
	CategorySpecial
)

// String returns the uppercase wire representation of the category.
func (c Category) String() string {
	if c == CategorySpecial {
		return "SPECIAL"
	}
	return "PHYSICAL"
}

// Move describes an attack move. The move table is fixed at startup.
type Move struct {
	Name     string
	Type     Type
	Power    float64
	Category Category
}

// moveTable is the fixed move database, keyed by lowercase name.
var moveTable = map[string]Move{}

func init() {
	moves := []Move{
		{Name: "Thunderbolt", Type: TypeElectric, Power: 90, Category: CategorySpecial},
		{Name: "Thunder", Type: TypeElectric, Power: 110, Category: CategorySpecial},
		{Name: "Quick Attack", Type: TypeNormal, Power: 40, Category: CategoryPhysical},
		{Name: "Tackle", Type: TypeNormal, Power: 40, Category: CategoryPhysical},
		{Name: "Ember", Type: TypeFire, Power: 40, Category: CategorySpecial},
		{Name: "Flamethrower", Type: TypeFire, Power: 90, Category: CategorySpecial},
		{Name: "Water Gun", Type: TypeWater, Power: 40, Category: CategorySpecial},
		{Name: "Water Shuriken", Type: TypeWater, Power: 75, Category: CategorySpecial},
		{Name: "Hydro Pump", Type: TypeWater, Power: 110, Category: CategorySpecial},
		{Name: "Vine Whip", Type: TypeGrass, Power: 45, Category: CategoryPhysical},
		{Name: "Solar Beam", Type: TypeGrass, Power: 120, Category: CategorySpecial},
		{Name: "Scratch", Type: TypeNormal, Power: 40, Category: CategoryPhysical},
		{Name: "Bite", Type: TypeDark, Power: 60, Category: CategoryPhysical},
	}
	for _, m := range moves {
		moveTable[strings.ToLower(m.Name)] = m
	}
}

// LookupMove resolves a move name (any case) against the move table.
func LookupMove(name string) (Move, bool) {
	m, ok := moveTable[strings.ToLower(strings.TrimSpace(name))]
	return m, ok
}

// MoveNames returns the canonical names of all known moves.
func MoveNames() []string {
	names := make([]string, 0, len(moveTable))
	for _, m := range moveTable {
		names = append(names, m.Name)
	}
	return names
}
