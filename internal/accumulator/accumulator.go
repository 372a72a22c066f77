package accumulator

import (
	"sync"

	"github.com/emirpasic/gods/maps/linkedhashmap"

	"Vaultnet/internal/data"
	"Vaultnet/internal/protocol"
)

const (
	// MaxPendingRequests bounds requests awaiting a decision.
	MaxPendingRequests = 300

	// MaxHandledRequests bounds decided requests kept for duplicate answers.
	MaxHandledRequests = 1000
)

// RequestID identifies one logical request: a message id scoped by its sender.
type RequestID struct {
	MessageID uint64        // MessageID is the sender-assigned message id
	Sender    data.Identity // Sender is the node the request came from
}

// PendingRequest is a request whose reply is not decided yet.
type PendingRequest struct {
	ID      RequestID            // ID identifies the request
	Request *protocol.Message    // Request is the received message
	Reply   protocol.Reply       // Reply is the current, not yet final, reply
	Respond func(protocol.Reply) // Respond sends a reply back to the requester
}

// HandledRequest is a decided request and its final reply.
type HandledRequest struct {
	ID    RequestID      // ID identifies the request
	Reply protocol.Reply // Reply is the final reply
}

// Accumulator tracks pending and handled requests so that re-delivered
// messages are answered from cache instead of being executed again.
// Both collections are bounded and evict their oldest entry first.
type Accumulator struct {
	mu         sync.Mutex         // mu guards pending and handled
	pending    []PendingRequest   // pending is in arrival order
	handled    *linkedhashmap.Map // handled maps RequestID to protocol.Reply in insertion order
	maxPending int                // maxPending bounds pending
	maxHandled int                // maxHandled bounds handled
}

// New creates an accumulator with the default bounds.
func New() *Accumulator {
	return NewWithLimits(MaxPendingRequests, MaxHandledRequests)
}

// NewWithLimits creates an accumulator with custom bounds (minimum 1 each).
func NewWithLimits(maxPending, maxHandled int) *Accumulator {
	if maxPending < 1 {
		maxPending = 1
	}

	if maxHandled < 1 {
		maxHandled = 1
	}

	return &Accumulator{
		handled:    linkedhashmap.New(),
		maxPending: maxPending,
		maxHandled: maxHandled,
	}
}

// CheckHandled returns the cached final reply of id, if it was handled.
func (a *Accumulator) CheckHandled(id RequestID) (protocol.Reply, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	v, found := a.handled.Get(id)
	if !found {
		return protocol.Reply{}, false
	}

	return v.(protocol.Reply), true
}

// PushRequest adds req to the pending set and returns the current replies of
// every pending request sharing its message id, req included.
// The oldest pending request is evicted when the bound is exceeded.
func (a *Accumulator) PushRequest(req PendingRequest) []protocol.Reply {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.pending = append(a.pending, req)

	var replies []protocol.Reply
	for _, p := range a.pending {
		if p.ID.MessageID == req.ID.MessageID {
			replies = append(replies, p.Reply)
		}
	}

	if len(a.pending) > a.maxPending {
		a.pending[0] = PendingRequest{}
		a.pending = a.pending[1:]
	}

	return replies
}

// SetReply records the current reply of every pending request with id.
// Returns the number of entries updated.
func (a *Accumulator) SetReply(id RequestID, reply protocol.Reply) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	updated := 0
	for i := range a.pending {
		if a.pending[i].ID == id {
			a.pending[i].Reply = reply
			updated++
		}
	}

	return updated
}

// SetHandled moves id from pending to handled with its final reply and
// returns every pending entry that had that id so each can be answered.
func (a *Accumulator) SetHandled(id RequestID, reply protocol.Reply) []PendingRequest {
	a.mu.Lock()
	defer a.mu.Unlock()

	var removed []PendingRequest
	kept := a.pending[:0]

	for _, p := range a.pending {
		if p.ID == id {
			p.Reply = reply
			removed = append(removed, p)
			continue
		}

		kept = append(kept, p)
	}

	for i := len(kept); i < len(a.pending); i++ {
		a.pending[i] = PendingRequest{}
	}

	a.pending = kept
	a.insertHandled(id, reply)

	return removed
}

// Import adds previously handled requests, oldest first.
func (a *Accumulator) Import(entries []HandledRequest) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, e := range entries {
		a.insertHandled(e.ID, e.Reply)
	}
}

// Handled returns the handled requests, oldest first.
func (a *Accumulator) Handled() []HandledRequest {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]HandledRequest, 0, a.handled.Size())

	it := a.handled.Iterator()
	for it.Next() {
		out = append(out, HandledRequest{
			ID:    it.Key().(RequestID),
			Reply: it.Value().(protocol.Reply),
		})
	}

	return out
}

// IsPending reports whether a request with id is pending.
func (a *Accumulator) IsPending(id RequestID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, p := range a.pending {
		if p.ID == id {
			return true
		}
	}

	return false
}

// PendingCount returns the number of pending requests.
func (a *Accumulator) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.pending)
}

// HandledCount returns the number of handled requests.
func (a *Accumulator) HandledCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.handled.Size()
}

// insertHandled records a final reply and evicts the oldest entry over the bound.
// Caller must hold mu.
func (a *Accumulator) insertHandled(id RequestID, reply protocol.Reply) {
	a.handled.Put(id, reply)

	for a.handled.Size() > a.maxHandled {
		it := a.handled.Iterator()
		if !it.First() {
			return
		}

		a.handled.Remove(it.Key())
	}
}
