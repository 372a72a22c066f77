// Package outcome decides an operation from the replies of a replica group.
//
// An Op collects replies until either enough successes arrived, in which case
// it reports one success, or every replica answered, in which case it reports
// the most frequent error. The decision is reported exactly once.
package outcome

import (
	"sync"

	"Vaultnet/internal/errs"
	"Vaultnet/internal/protocol"
)

// Majority returns the number of replies forming a strict majority of n.
func Majority(n int) int {
	return n/2 + 1
}

// Op aggregates the replies of one operation.
type Op struct {
	mu                sync.Mutex           // mu guards replies and decided
	replies           []protocol.Reply     // replies received so far
	decided           bool                 // decided is set once the callback is due
	successesRequired int                  // successesRequired decides success
	groupSize         int                  // groupSize decides failure
	callback          func(protocol.Reply) // callback receives the decision
}

// New creates an Op. A callback is required exactly when successes are required.
func New(successesRequired, groupSize int, callback func(protocol.Reply)) (*Op, error) {
	if successesRequired < 0 || groupSize < 1 {
		return nil, errs.New(errs.ErrInvalidArgument, "invalid thresholds: %d of %d", successesRequired, groupSize)
	}

	if successesRequired > 0 && callback == nil {
		return nil, errs.New(errs.ErrInvalidArgument, "%d successes required without a callback", successesRequired)
	}

	if successesRequired == 0 && callback != nil {
		return nil, errs.New(errs.ErrInvalidArgument, "callback given with no successes required")
	}

	if successesRequired > groupSize {
		return nil, errs.New(errs.ErrInvalidArgument, "%d successes required from a group of %d", successesRequired, groupSize)
	}

	return &Op{
		successesRequired: successesRequired,
		groupSize:         groupSize,
		callback:          callback,
	}, nil
}

// HandleReply records a reply and invokes the callback if it decides the Op.
// Replies arriving after the decision are ignored.
func (o *Op) HandleReply(reply protocol.Reply) {
	decision, ok := o.record(reply)
	if !ok {
		return
	}

	o.callback(decision)
}

// Expire decides the Op with the most frequent error received so far, or the
// no-response sentinel if none arrived. No-op once decided.
func (o *Op) Expire() {
	o.mu.Lock()

	if o.decided || o.callback == nil {
		o.mu.Unlock()
		return
	}

	o.decided = true
	_, _, mostFrequent := o.tally()
	o.mu.Unlock()

	o.callback(mostFrequent)
}

// Decided reports whether the Op reached a decision.
func (o *Op) Decided() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.decided
}

// Replies returns the number of replies recorded.
func (o *Op) Replies() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.replies)
}

// record appends reply and returns the decision if this reply made it.
func (o *Op) record(reply protocol.Reply) (protocol.Reply, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.decided || o.callback == nil {
		return protocol.Reply{}, false
	}

	o.replies = append(o.replies, reply)

	success, successes, mostFrequent := o.tally()

	if successes >= o.successesRequired {
		o.decided = true
		return success, true
	}

	if len(o.replies) >= o.groupSize {
		o.decided = true
		return mostFrequent, true
	}

	return protocol.Reply{}, false
}

// tally counts successes and finds the most frequent error reply.
// Ties go to the error code seen first. Caller must hold mu.
func (o *Op) tally() (success protocol.Reply, successes int, mostFrequent protocol.Reply) {
	counts := make(map[protocol.Code]int)
	best := 0

	for _, r := range o.replies {
		if r.IsSuccess() {
			if successes == 0 {
				success = r
			}

			successes++
			continue
		}

		counts[r.Code]++
		if counts[r.Code] > best {
			best = counts[r.Code]
			mostFrequent = r
		}
	}

	if best == 0 {
		mostFrequent = protocol.NoResponse()
	}

	return success, successes, mostFrequent
}
