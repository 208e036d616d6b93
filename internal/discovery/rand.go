package discovery

import "math/rand"

// pickRandom returns a uniformly random element of candidates, or "" and
// false if candidates is empty. Spec.md §9 leaves the gossip target
// selection deliberately unbiased, matching the teacher's randIndexes in
// gossip/pkg/rand.go.
func pickRandom(candidates []string) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[rand.Intn(len(candidates))], true
}
