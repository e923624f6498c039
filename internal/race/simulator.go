package race

import (
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"
)

// Source supplies the randomness for business outcomes (race draws,
// fragment drops). Injected so tests can seed or script it.
type Source interface {
	Float64() float64
	Intn(n int) int
}

type lockedSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewLockedSource returns a seeded Source safe for concurrent handlers.
func NewLockedSource(seed int64) Source {
	return &lockedSource{rnd: rand.New(rand.NewSource(seed))}
}

func (s *lockedSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Float64()
}

func (s *lockedSource) Intn(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rnd.Intn(n)
}

type Simulator struct {
	src Source
}

func NewSimulator(src Source) *Simulator {
	return &Simulator{src: src}
}

// Draw picks a winner with probability proportional to 1/odds. The draw is
// a cumulative-weight walk over the competitor list; if floating-point
// summation error leaves the draw unconsumed, the final competitor wins.
func (s *Simulator) Draw(competitors []Competitor) Competitor {
	total := 0.0
	for _, c := range competitors {
		total += 1 / c.Odds
	}

	draw := s.src.Float64() * total
	for _, c := range competitors {
		draw -= 1 / c.Odds
		if draw < 0 {
			return c
		}
	}
	return competitors[len(competitors)-1]
}

// Payout computes floor(bet * odds) without float drift.
func Payout(bet int64, odds float64) int64 {
	return decimal.NewFromFloat(odds).
		Mul(decimal.NewFromInt(bet)).
		Floor().
		IntPart()
}
