package scoring

// PlacementContext captures everything a correct placement can earn points
// for. Callers resolve first-blood claims before building the context; the
// calculator itself holds no state.
type PlacementContext struct {
	EdgePiece       bool
	FirstBlood      bool
	CompletesPuzzle bool
}

// Rules are the scoring knobs, sourced from configuration.
type Rules struct {
	InteriorPiecePoints int
	EdgePiecePoints     int
	FirstBloodBonus     int
	CompletionBonus     int
	PenaltyBase         int
	PenaltyStep         int
	PenaltyCap          int
}

type Calculator struct {
	rules Rules
}

func NewCalculator(rules Rules) *Calculator {
	return &Calculator{rules: rules}
}

// PointsForPlacement returns the points earned by one correct placement.
func (c *Calculator) PointsForPlacement(ctx PlacementContext) int {
	points := c.rules.InteriorPiecePoints
	if ctx.EdgePiece {
		points = c.rules.EdgePiecePoints
	}
	if ctx.FirstBlood {
		points += c.rules.FirstBloodBonus
	}
	if ctx.CompletesPuzzle {
		points += c.rules.CompletionBonus
	}
	return points
}

// PenaltyPoints returns the deduction for the given consecutive-miss streak.
// Non-decreasing in the streak, capped, and zero for a non-positive streak.
func (c *Calculator) PenaltyPoints(negativeStreak int) int {
	if negativeStreak <= 0 {
		return 0
	}
	penalty := c.rules.PenaltyBase + c.rules.PenaltyStep*(negativeStreak-1)
	if c.rules.PenaltyCap > 0 && penalty > c.rules.PenaltyCap {
		penalty = c.rules.PenaltyCap
	}
	return penalty
}
