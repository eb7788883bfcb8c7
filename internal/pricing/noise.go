package pricing

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Noise is the randomness source for the price generator and event
// scheduler. Production uses a seeded Gaussian source; tests inject a
// deterministic implementation to pin exact draws.
type Noise interface {
	// StdNormal draws from N(0, 1).
	StdNormal() float64
	// Normal draws from N(mu, sigma).
	Normal(mu, sigma float64) float64
	// Float64 draws uniformly from [0, 1).
	Float64() float64
	// IntN draws uniformly from [0, n).
	IntN(n int) int
}

type gaussianNoise struct {
	rng *rand.Rand
	std distuv.Normal
}

// NewNoise returns a PCG-seeded Gaussian noise source. The same seed
// reproduces the same draw sequence.
func NewNoise(seed uint64) Noise {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &gaussianNoise{
		rng: rand.New(src),
		std: distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}
}

func (n *gaussianNoise) StdNormal() float64 {
	return n.std.Rand()
}

func (n *gaussianNoise) Normal(mu, sigma float64) float64 {
	return mu + sigma*n.std.Rand()
}

func (n *gaussianNoise) Float64() float64 {
	return n.rng.Float64()
}

func (n *gaussianNoise) IntN(v int) int {
	return n.rng.IntN(v)
}
