package client

import (
	"sync"
	"sync/atomic"
	"time"

	"Vaultnet/internal/async"
	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
	"Vaultnet/internal/logger"
	"Vaultnet/internal/protocol"
	"Vaultnet/internal/timer"
)

// getInfo is the state of one outstanding get, keyed by its current task id.
type getInfo struct {
	responsesSeen int          // responsesSeen counts replies under the current task id
	canonical     timer.TaskID // canonical is the task id the timer resolves
	expected      data.Name    // expected is the name the content must derive to
}

// decision is what AddResponse does with one reply.
type decision int

const (
	decideWait decision = iota
	decideAccept
	decideRetry
	decideCancel
)

// GetHandler orchestrates quorum reads: it validates replies against the
// requested name, accepts the first valid content, retries once the whole
// group disagreed, and cancels when the timer reports no response.
type GetHandler struct {
	mu         sync.Mutex                              // mu guards infos and waiters
	infos      map[timer.TaskID]*getInfo               // infos by current task id
	waiters    map[timer.TaskID]*async.Promise[[]byte] // waiters by canonical id
	timer      *timer.Timer[protocol.Reply]            // timer resolves canonical tasks
	dispatcher Dispatcher                              // dispatcher sends get requests
	groupSize  int                                     // groupSize is the replica group size
	closed     atomic.Bool                             // closed is set once the client shuts down
}

// NewGetHandler creates a handler for a replica group of groupSize.
func NewGetHandler(tm *timer.Timer[protocol.Reply], dispatcher Dispatcher, groupSize int) *GetHandler {
	return &GetHandler{
		infos:      make(map[timer.TaskID]*getInfo),
		waiters:    make(map[timer.TaskID]*async.Promise[[]byte]),
		timer:      tm,
		dispatcher: dispatcher,
		groupSize:  groupSize,
	}
}

// Get requests the content of name from the group.
// The future resolves with validated content, or fails once the timer
// expires or the request is cancelled.
func (h *GetHandler) Get(name data.Name, timeout time.Duration) *async.Future[[]byte] {
	promise := async.NewPromise[[]byte]()
	id := h.timer.NewTaskID()

	h.mu.Lock()
	h.infos[id] = &getInfo{canonical: id, expected: name}
	h.waiters[id] = promise
	h.mu.Unlock()

	onTimer := func(r protocol.Reply) {
		h.timerReply(id, r)
	}

	if !h.timer.AddTask(timeout, onTimer, h.threshold(), id) {
		h.finish(id, nil, errs.New(errs.ErrCancelled, "timer closed"))
		return promise.Future()
	}

	if err := h.dispatcher.SendGetRequest(id, name); err != nil {
		logger.Warn("get dispatch failed", "name", name, "error", err)
		h.finish(id, nil, err)
		h.timer.CancelTask(id)
	}

	return promise.Future()
}

// AddResponse feeds one reply received under taskID.
// Replies for unknown task ids are dropped.
func (h *GetHandler) AddResponse(taskID timer.TaskID, reply protocol.Reply) {
	h.mu.Lock()

	info, ok := h.infos[taskID]
	if !ok {
		h.mu.Unlock()
		logger.Debug("reply for unknown get", "task", uint64(taskID))
		return
	}

	info.responsesSeen++

	canonical := info.canonical
	expected := info.expected

	var retryID timer.TaskID

	d := h.decide(info, reply)
	switch d {
	case decideAccept, decideCancel:
		h.eraseLocked(canonical)

	case decideRetry:
		retryID = h.timer.NewTaskID()
		delete(h.infos, taskID)
		h.infos[retryID] = &getInfo{canonical: canonical, expected: expected}
	}

	h.mu.Unlock()

	switch d {
	case decideAccept:
		if !h.timer.AddResponse(canonical, protocol.Success(reply.Content)) {
			h.finish(canonical, reply.Content, nil)
		}
		h.timer.CancelTask(canonical) // release the timer slot

	case decideCancel:
		h.finish(canonical, nil, reply.Err())
		h.timer.CancelTask(canonical)

	case decideRetry:
		logger.Debug("retrying get",
			"name", expected,
			"canonical", uint64(canonical),
			"task", uint64(retryID),
		)

		if err := h.dispatcher.SendGetRequest(retryID, expected); err != nil {
			logger.Warn("get retry dispatch failed", "name", expected, "error", err)
			h.finish(canonical, nil, protocol.Failure(protocol.CodeQuorumExhausted).Err())
			h.timer.CancelTask(canonical)
		}
	}
}

// Outstanding returns the number of tracked task ids.
func (h *GetHandler) Outstanding() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.infos)
}

// decide classifies reply. Caller must hold mu.
func (h *GetHandler) decide(info *getInfo, reply protocol.Reply) decision {
	if len(reply.Content) > 0 && data.ValidateData(info.expected, reply.Content) {
		return decideAccept
	}

	if reply.IsNoResponse() {
		return decideCancel
	}

	if info.responsesSeen >= h.groupSize-1 {
		return decideRetry
	}

	return decideWait
}

// threshold is the number of responses the timer waits for.
func (h *GetHandler) threshold() int {
	if h.groupSize < 2 {
		return 1
	}

	return h.groupSize - 1
}

// timerReply handles what the timer delivers for canonical. The no-response
// sentinel enters AddResponse under the current task id, so expiry takes the
// cancel path.
func (h *GetHandler) timerReply(canonical timer.TaskID, r protocol.Reply) {
	if !r.IsNoResponse() {
		h.finish(canonical, r.Content, r.Err())
		return
	}

	if h.closed.Load() {
		h.finish(canonical, nil, errs.New(errs.ErrCancelled, "client closed"))
		return
	}

	h.mu.Lock()
	current, ok := h.currentLocked(canonical)
	h.mu.Unlock()

	if ok {
		h.AddResponse(current, r)
	}
}

// finish resolves the caller waiting on canonical, at most once.
func (h *GetHandler) finish(canonical timer.TaskID, content []byte, err error) {
	h.mu.Lock()
	h.eraseLocked(canonical)
	promise := h.waiters[canonical]
	delete(h.waiters, canonical)
	h.mu.Unlock()

	if promise == nil {
		return
	}

	if err != nil {
		promise.Reject(err)
		return
	}

	promise.Resolve(content)
}

// close makes timer sentinels fail gets with errs.ErrCancelled.
func (h *GetHandler) close() {
	h.closed.Store(true)
}

// currentLocked returns the task id now tracking canonical. Caller must hold mu.
func (h *GetHandler) currentLocked(canonical timer.TaskID) (timer.TaskID, bool) {
	for id, info := range h.infos {
		if info.canonical == canonical {
			return id, true
		}
	}

	return 0, false
}

// eraseLocked drops every task id mapped to canonical. Caller must hold mu.
func (h *GetHandler) eraseLocked(canonical timer.TaskID) {
	for id, info := range h.infos {
		if info.canonical == canonical {
			delete(h.infos, id)
		}
	}
}
