// Package enrich tests gene sets for enrichment at the extremes of a ranked
// gene list using a weighted running-sum statistic and a permutation null.
package enrich

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/inodb/vibe-gsea/internal/feature"
)

// DefaultPermutations is the size of the null distribution.
const DefaultPermutations = 1000

// Result is the outcome of testing one gene set.
type Result struct {
	Identifier string
	Name       string
	Size       int // members in the set
	Hits       int // members present in the ranked list
	ES         float64
	PValue     float64
	NES        float64 // NaN when NESDefined is false
	NESDefined bool
}

// Engine computes enrichment statistics. An Engine holds no per-call state
// and may be shared between goroutines once configured.
type Engine struct {
	permutations int
	stepWeight   float64
	seed         uint64
	workers      int
	logger       *zap.Logger
}

// New creates an engine with 1000 permutations and step weight 1. The
// seed fixes the permutations, so results are reproducible for a given seed.
func New(seed uint64) *Engine {
	return &Engine{
		permutations: DefaultPermutations,
		stepWeight:   1,
		seed:         seed,
		workers:      runtime.GOMAXPROCS(0),
		logger:       zap.NewNop(),
	}
}

// SetLogger sets the logger.
func (e *Engine) SetLogger(l *zap.Logger) { e.logger = l }

// SetPermutations sets the number of permutations in the null distribution.
func (e *Engine) SetPermutations(n int) {
	if n > 0 {
		e.permutations = n
	}
}

// SetWorkers bounds the number of goroutines computing permutations.
func (e *Engine) SetWorkers(n int) {
	if n > 0 {
		e.workers = n
	}
}

// SetStepWeight sets the exponent applied to hit scores. Common values are
// 0 (unweighted), 1, 1.5 and 2.
func (e *Engine) SetStepWeight(w float64) error {
	if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return fmt.Errorf("invalid step weight %v: must be a finite non-negative number", w)
	}
	e.stepWeight = w
	return nil
}

// StepWeight returns the configured step weight.
func (e *Engine) StepWeight() float64 { return e.stepWeight }

// Run scores set against ranked, which must be ordered by descending score.
// A set with no member in ranked gets a p-value of 1 without permutations.
// An error is returned only when ctx is cancelled before the null
// distribution is complete.
func (e *Engine) Run(ctx context.Context, set *feature.GeneSet, ranked []feature.ScoredGene) (Result, error) {
	res := Result{
		Identifier: set.Identifier,
		Name:       set.Name,
		Size:       set.Len(),
		PValue:     1,
		NES:        math.NaN(),
	}

	w := newWalk(set, ranked, e.stepWeight)
	res.Hits = w.hits
	if w.hits == 0 {
		return res, nil
	}

	es := w.score(w.steps)
	res.ES = es.InexactFloat64()

	null, err := e.null(ctx, w)
	if err != nil {
		return Result{}, fmt.Errorf("score %s: %w", set.Name, err)
	}
	res.PValue = pValue(es, null)
	if nes, ok := normalize(es, null); ok {
		res.NES = nes.InexactFloat64()
		res.NESDefined = true
	} else {
		e.logger.Debug("NES undefined, no null scores of matching sign",
			zap.String("set", set.Name), zap.Float64("es", res.ES))
	}
	return res, nil
}

// RunAll scores every set against ranked. Results are in the order of sets.
func (e *Engine) RunAll(ctx context.Context, sets []*feature.GeneSet, ranked []feature.ScoredGene) ([]Result, error) {
	out := make([]Result, 0, len(sets))
	for _, s := range sets {
		res, err := e.Run(ctx, s, ranked)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}

// null computes the enrichment score of each permutation of the walk.
// Permutation i shuffles with its own PCG stream seeded by (seed, i), so the
// result does not depend on scheduling.
func (e *Engine) null(ctx context.Context, w *walk) ([]decimal.Decimal, error) {
	null := make([]decimal.Decimal, e.permutations)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range null {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rng := rand.New(rand.NewPCG(e.seed, uint64(i)))
			steps := append([]step(nil), w.steps...)
			rng.Shuffle(len(steps), func(a, b int) {
				steps[a], steps[b] = steps[b], steps[a]
			})
			null[i] = w.score(steps)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return null, nil
}

// pValue is the fraction of null scores at least as extreme as es.
func pValue(es decimal.Decimal, null []decimal.Decimal) float64 {
	target := es.Abs()
	n := 0
	for _, v := range null {
		if v.Abs().GreaterThanOrEqual(target) {
			n++
		}
	}
	return float64(n) / float64(len(null))
}

// normalize divides es by the mean of the same-signed null scores: the
// non-negative ones for es >= 0, the negative ones (in absolute value)
// otherwise. It reports false when there are no such scores or their mean is 0.
func normalize(es decimal.Decimal, null []decimal.Decimal) (decimal.Decimal, bool) {
	positive := es.Sign() >= 0

	var sum decimal.Decimal
	n := int64(0)
	for _, v := range null {
		if (v.Sign() >= 0) == positive {
			sum = sum.Add(v)
			n++
		}
	}
	if n == 0 {
		return decimal.Decimal{}, false
	}
	mean := sum.Abs().DivRound(decimal.NewFromInt(n), accumulatorPlaces)
	if mean.IsZero() {
		return decimal.Decimal{}, false
	}
	return es.DivRound(mean, accumulatorPlaces).Round(nesPlaces), true
}
