package network

import (
	"bytes"
	"slices"

	"github.com/zeebo/blake3"

	"Vaultnet/internal/data"
)

// Closest returns the n members responsible for name, highest rendezvous
// score first. Score = BLAKE3(name id || member identity).
func Closest(name data.Name, members []data.Identity, n int) []data.Identity {
	if n <= 0 || len(members) == 0 {
		return nil
	}

	type scored struct {
		id    data.Identity
		score [32]byte
	}

	all := make([]scored, len(members))
	for i, m := range members {
		all[i] = scored{id: m, score: score(name.ID, m)}
	}

	slices.SortFunc(all, func(a, b scored) int {
		return bytes.Compare(b.score[:], a.score[:])
	})

	n = min(n, len(all))

	out := make([]data.Identity, n)
	for i := range out {
		out[i] = all[i].id
	}

	return out
}

// score computes the rendezvous score of member for id.
func score(id data.ID, member data.Identity) [32]byte {
	h := blake3.New()
	h.Write(id[:])
	h.Write(member[:])

	var out [32]byte
	h.Sum(out[:0])

	return out
}
