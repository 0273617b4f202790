package qtable

// #region action

// Action indexes one point of the difficulty × enemies × timeMult grid.
type Action int

const (
	// Difficulties is the number of difficulty levels in the action grid.
	Difficulties = 5
	// EnemyLevels is the number of enemy-count levels in the action grid.
	EnemyLevels = 3
	// FixedTimeMult is the only time multiplier the grid offers.
	FixedTimeMult = 1
	// DefaultActions is the size of the default action grid.
	DefaultActions = Difficulties * EnemyLevels
)

// ActionParams are the game parameters an Action stands for.
type ActionParams struct {
	Difficulty int `json:"difficulty"`
	Enemies    int `json:"enemies"`
	TimeMult   int `json:"timeMult"`
}

// Decode maps an Action to its parameters. Division floors, so indexes outside
// the grid still decode consistently.
func Decode(a Action) ActionParams {
	i := int(a)
	d := i / EnemyLevels
	e := i % EnemyLevels
	if e < 0 {
		e += EnemyLevels
		d--
	}
	return ActionParams{Difficulty: d, Enemies: e, TimeMult: FixedTimeMult}
}

// EncodeParams is the inverse of Decode.
func EncodeParams(p ActionParams) Action {
	return Action(p.Difficulty*EnemyLevels + p.Enemies)
}

// #endregion action
