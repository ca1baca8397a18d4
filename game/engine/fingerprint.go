package engine

// fingerprintSeed is the initial value of every per-pair rolling hash.
const fingerprintSeed uint64 = 23

// fingerprint hashes every property pair independently with the rolling
// h = h*31 + c scheme and sums the results. Addition is commutative, so
// the value depends only on content and never on map iteration order or on
// the mutation history that produced the maps. Each field is length
// prefixed, so no choice of keys or values can shift bytes between fields.
func fingerprint(public map[string]string, private map[string]map[string]string) uint64 {
	var sum uint64
	for k, v := range public {
		h := hashField(fingerprintSeed, "p")
		h = hashField(h, k)
		h = hashField(h, v)
		sum += mix(h)
	}
	for owner, props := range private {
		for k, v := range props {
			h := hashField(fingerprintSeed, "s")
			h = hashField(h, owner)
			h = hashField(h, k)
			h = hashField(h, v)
			sum += mix(h)
		}
	}
	return sum
}

func hashField(h uint64, s string) uint64 {
	h = h*31 + uint64(len(s))
	for i := 0; i < len(s); i++ {
		h = h*31 + uint64(s[i])
	}
	return h
}

// mix spreads per-pair hashes before summing so that short keys with
// related values do not cancel each other out.
func mix(h uint64) uint64 {
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}
