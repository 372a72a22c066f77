package accumulator

import (
	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
)

// keyPrefix namespaces accumulator state in the key-value store.
var keyPrefix = []byte("acc:")

// KV is the subset of the storage layer used for persistence.
type KV interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
}

// Save stores the handled requests of owner so a later process can Load them.
func (a *Accumulator) Save(db KV, owner data.Name) error {
	state, err := a.Serialise(owner)
	if err != nil {
		return err
	}

	if err := db.Set(stateKey(owner), state); err != nil {
		return errs.Transport(err, "store handled requests")
	}

	return nil
}

// Load imports handled requests stored for owner.
// Returns the number imported; zero with no error when nothing was stored.
func (a *Accumulator) Load(db KV, owner data.Name) (int, error) {
	state, err := db.Get(stateKey(owner))
	if err != nil {
		return 0, errs.Transport(err, "read handled requests")
	}

	if state == nil {
		return 0, nil
	}

	stored, entries, err := Parse(state)
	if err != nil {
		return 0, err
	}

	if stored != owner {
		return 0, errs.New(errs.ErrParsing, "state belongs to %s, not %s", stored, owner)
	}

	a.Import(entries)

	return len(entries), nil
}

// stateKey returns "acc:" + encoded owner name.
func stateKey(owner data.Name) []byte {
	return append(append([]byte(nil), keyPrefix...), owner.Bytes()...)
}
