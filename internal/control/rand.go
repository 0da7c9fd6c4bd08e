package control

import "math/rand/v2"

// MaxSeed is the largest seed handed to the render backend.
const MaxSeed int64 = 9_999_999_999

// SeedSource yields fresh positive render seeds.
type SeedSource interface {
	NextSeed() int64
}

type randSeed struct {
	r *rand.Rand
}

// NewRandSeed returns a SeedSource over r. Pass a seeded PCG for
// reproducible runs.
func NewRandSeed(r *rand.Rand) SeedSource {
	return randSeed{r: r}
}

// NextSeed returns a value in [1, MaxSeed].
func (s randSeed) NextSeed() int64 {
	return 1 + s.r.Int64N(MaxSeed)
}
