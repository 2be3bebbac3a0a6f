package enrich

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/inodb/vibe-gsea/internal/feature"
)

// accumulatorPlaces is the number of fractional digits kept by the running sums.
const accumulatorPlaces = 30

// esPlaces and nesPlaces are the published precisions.
const (
	esPlaces  = 5
	nesPlaces = 4
)

// Set is the membership test needed by the running sum.
type Set interface {
	Contains(symbol string) bool
}

// step is one position of the ranked list as seen by the running sum.
type step struct {
	hit    bool
	weight decimal.Decimal // |score|^w, hits only
}

// walk holds everything needed to evaluate the running sum of one ranked
// list against one set, for the observed order and for permutations of it.
type walk struct {
	steps   []step
	hits    int
	hitNorm decimal.Decimal // Nr
	missInc decimal.Decimal // 1/(N-Nh), rounded half-even
}

func newWalk(set Set, ranked []feature.ScoredGene, stepWeight float64) *walk {
	w := &walk{steps: make([]step, len(ranked))}
	for i, g := range ranked {
		if !set.Contains(g.Symbol) {
			continue
		}
		wt := hitWeight(g.Score, stepWeight)
		w.steps[i] = step{hit: true, weight: wt}
		w.hits++
		w.hitNorm = w.hitNorm.Add(wt)
	}

	// All hit scores are zero: fall back to equal weights.
	if w.hits > 0 && w.hitNorm.IsZero() {
		for i := range w.steps {
			if w.steps[i].hit {
				w.steps[i].weight = decimal.NewFromInt(1)
			}
		}
		w.hitNorm = decimal.NewFromInt(int64(w.hits))
	}

	if misses := len(ranked) - w.hits; misses > 0 {
		w.missInc = divHalfEven(decimal.NewFromInt(1), decimal.NewFromInt(int64(misses)), accumulatorPlaces)
	}
	return w
}

// hitWeight returns |score|^stepWeight. A weight of 0 gives every hit the
// same mass regardless of its score.
func hitWeight(score, stepWeight float64) decimal.Decimal {
	abs := math.Abs(score)
	switch stepWeight {
	case 0:
		return decimal.NewFromInt(1)
	case 1:
		return decimal.NewFromFloat(abs)
	case 2:
		d := decimal.NewFromFloat(abs)
		return d.Mul(d)
	}
	return decimal.NewFromFloat(math.Pow(abs, stepWeight))
}

// score evaluates the running sum over steps and returns the value of
// maximum magnitude, rounded to esPlaces.
//
// The running value only rises at hits and only falls at misses, so its
// extremes lie at a hit, at the miss just before a hit, or at the last
// position; only those points are evaluated. The miss mass at a point is
// missInc times the misses seen so far, which equals the repeated sum.
func (w *walk) score(steps []step) decimal.Decimal {
	var (
		hitMass decimal.Decimal
		best    decimal.Decimal
		seen    bool
		misses  int64
	)
	record := func() {
		v := hitMass.Sub(w.missInc.Mul(decimal.NewFromInt(misses)))
		if !seen || v.Abs().GreaterThan(best.Abs()) {
			best = v
			seen = true
		}
	}

	for i, s := range steps {
		if !s.hit {
			misses++
			continue
		}
		if i > 0 && !steps[i-1].hit {
			record()
		}
		hitMass = hitMass.Add(s.weight.DivRound(w.hitNorm, accumulatorPlaces))
		record()
	}
	if n := len(steps); n > 0 && !steps[n-1].hit {
		record()
	}
	return best.Round(esPlaces)
}

// EnrichmentScore returns the running-sum enrichment score of set against
// ranked, which must already be ordered by descending score. The result is 0
// when no ranked gene is in the set.
func EnrichmentScore(set Set, ranked []feature.ScoredGene, stepWeight float64) float64 {
	w := newWalk(set, ranked, stepWeight)
	if w.hits == 0 {
		return 0
	}
	return w.score(w.steps).InexactFloat64()
}

// divHalfEven returns num/den rounded half-to-even at places fractional digits.
func divHalfEven(num, den decimal.Decimal, places int32) decimal.Decimal {
	q, r := num.QuoRem(den, places)
	if r.IsZero() {
		return q
	}

	unit := decimal.New(1, -places)
	if q.Sign() < 0 || (q.IsZero() && num.Sign()*den.Sign() < 0) {
		unit = unit.Neg()
	}
	twice := r.Abs().Mul(decimal.NewFromInt(2))
	limit := den.Abs().Mul(decimal.New(1, -places))

	switch twice.Cmp(limit) {
	case 1:
		return q.Add(unit)
	case 0:
		if q.Shift(places).BigInt().Bit(0) == 1 {
			return q.Add(unit)
		}
	}
	return q
}
