package vecdb

import "math/rand/v2"

// Vecgen deterministically generates pseudo-random vectors from a seed.
// It is primarily used to build synthetic databases for tests and
// benchmarks.
type Vecgen struct {
	rng *rand.Rand
}

// NewVecgen creates a generator seeded by the specified value.
func NewVecgen(seed uint64) *Vecgen {
	return &Vecgen{rng: rand.New(rand.NewPCG(seed, seed^0x9E3779B97F4A7C15))}
}

// Fill fills dest with random components in [0, 1).
func (g *Vecgen) Fill(dest []float32) {
	for i := range dest {
		dest[i] = g.rng.Float32()
	}
}

// Matrix generates a rows×dims in-memory database.
func (g *Vecgen) Matrix(rows, dims int) *Matrix {
	m := &Matrix{
		Data: make([]float32, rows*dims),
		Dims: dims,
	}
	g.Fill(m.Data)
	return m
}
