package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testRules() Rules {
	return Rules{
		InteriorPiecePoints: 10,
		EdgePiecePoints:     15,
		FirstBloodBonus:     25,
		CompletionBonus:     50,
		PenaltyBase:         2,
		PenaltyStep:         2,
		PenaltyCap:          10,
	}
}

func TestPointsForPlacement_BaseValues(t *testing.T) {
	assert := assert.New(t)
	calc := NewCalculator(testRules())

	assert.Equal(10, calc.PointsForPlacement(PlacementContext{}))
	assert.Equal(15, calc.PointsForPlacement(PlacementContext{EdgePiece: true}))
}

func TestPointsForPlacement_Bonuses(t *testing.T) {
	assert := assert.New(t)
	calc := NewCalculator(testRules())

	assert.Equal(35, calc.PointsForPlacement(PlacementContext{FirstBlood: true}))
	assert.Equal(60, calc.PointsForPlacement(PlacementContext{CompletesPuzzle: true}))

	// Edge + first blood + completion stack.
	got := calc.PointsForPlacement(PlacementContext{
		EdgePiece:       true,
		FirstBlood:      true,
		CompletesPuzzle: true,
	})
	assert.Equal(90, got)
}

func TestPenaltyPoints_Monotonic(t *testing.T) {
	assert := assert.New(t)
	calc := NewCalculator(testRules())

	prev := 0
	for streak := 1; streak <= 10; streak++ {
		p := calc.PenaltyPoints(streak)
		assert.GreaterOrEqual(p, prev, "streak %d", streak)
		prev = p
	}
}

func TestPenaltyPoints_Values(t *testing.T) {
	assert := assert.New(t)
	calc := NewCalculator(testRules())

	assert.Equal(0, calc.PenaltyPoints(0))
	assert.Equal(2, calc.PenaltyPoints(1))
	assert.Equal(4, calc.PenaltyPoints(2))
	assert.Equal(6, calc.PenaltyPoints(3))
	// Cap kicks in.
	assert.Equal(10, calc.PenaltyPoints(5))
	assert.Equal(10, calc.PenaltyPoints(50))
}

func TestPenaltyPoints_NoCap(t *testing.T) {
	rules := testRules()
	rules.PenaltyCap = 0
	calc := NewCalculator(rules)

	assert.Equal(t, 20, calc.PenaltyPoints(10))
}
