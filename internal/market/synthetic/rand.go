package synthetic

// Seeded randomness is modeled as a pure function from a string key to a PRNG
// state, so concurrent generation for different buckets and symbols never
// shares a generator and results stay reproducible.

// fnv1a computes the 32-bit FNV-1a hash of a string.
func fnv1a(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

// mulberry32 is a small deterministic PRNG. One instance per seed key.
type mulberry32 struct {
	state uint32
}

func seededRand(key string) *mulberry32 {
	return &mulberry32{state: fnv1a(key)}
}

// next returns a uniform value in [0, 1).
func (m *mulberry32) next() float64 {
	m.state += 0x6D2B79F5
	z := m.state
	z = (z ^ (z >> 15)) * (z | 1)
	z ^= z + (z^(z>>7))*(z|61)
	return float64(z^(z>>14)) / 4294967296.0
}

// unit returns a single uniform [0,1) draw for the key.
func unit(key string) float64 {
	return seededRand(key).next()
}

// centered returns a uniform value in [-0.5, 0.5) for the key.
func centered(key string) float64 {
	return unit(key) - 0.5
}
