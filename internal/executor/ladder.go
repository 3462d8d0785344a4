package executor

import (
	"github.com/alanyoungcy/bithumbbot/internal/domain"
)

// Ladder tier geometry: price multiples of the recommended TP ratio and the
// fraction of the initial quantity sold at each tier. The last tier closes
// whatever quantity remains.
var (
	ladderMultiples = [3]float64{0.6, 1.0, 1.6}
	ladderPortions  = [3]float64{0.5, 0.3, 0.2}
	ladderNames     = [3]string{"tp1", "tp2", "tp3"}
)

// BuildLadder constructs the three-tier take-profit ladder for a fresh entry.
// Tier prices are entry * (1 + tpRatio*multiple); portions sum to 1.0.
func BuildLadder(entryPrice, tpRatio float64) []domain.TPLevel {
	levels := make([]domain.TPLevel, 0, len(ladderMultiples))
	for i, mult := range ladderMultiples {
		levels = append(levels, domain.TPLevel{
			ID:      i + 1,
			Name:    ladderNames[i],
			Price:   entryPrice * (1 + tpRatio*mult),
			Portion: ladderPortions[i],
		})
	}
	return levels
}

// NewTrailingStop returns a disarmed trailing-stop record. The first ladder
// tier that fires arms it.
func NewTrailingStop(trigger, offset float64) domain.TrailingStop {
	return domain.TrailingStop{
		Trigger: trigger,
		Offset:  offset,
	}
}
