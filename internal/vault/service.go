// Package vault is the replica side of a group: it executes requests against
// the local chunk and version-tree stores and answers each logical request at
// most once, replaying the cached reply to re-delivered copies.
package vault

import (
	"context"
	"sync"

	"Vaultnet/internal/accumulator"
	"Vaultnet/internal/async"
	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
	"Vaultnet/internal/logger"
	"Vaultnet/internal/protocol"
	"Vaultnet/internal/sdv"
	"Vaultnet/internal/storage"
)

// defaultSaveEvery is the number of decisions between snapshots of the
// handled requests.
const defaultSaveEvery = 64

// Config bounds the request bookkeeping of a Service.
type Config struct {
	MaxPending int // MaxPending bounds requests being executed
	MaxHandled int // MaxHandled bounds remembered final replies
	SaveEvery  int // SaveEvery is the number of decisions between snapshots, negative to disable
}

// DefaultConfig returns the default bounds.
func DefaultConfig() Config {
	return Config{
		MaxPending: accumulator.MaxPendingRequests,
		MaxHandled: accumulator.MaxHandledRequests,
		SaveEvery:  defaultSaveEvery,
	}
}

// Service answers group requests addressed to this node.
type Service struct {
	self    data.Identity            // self is stamped on every response
	owner   data.Name                // owner keys the persisted handled requests
	db      *storage.Storage         // db holds the accumulator snapshot
	backend *sdv.DiskBackend         // backend executes requests
	acc     *accumulator.Accumulator // acc deduplicates requests

	saveEvery int        // saveEvery is the snapshot interval in decisions
	mu        sync.Mutex // mu orders duplicate detection against decisions
	decided   int        // decided counts decisions since the last snapshot

	ctx    context.Context    // ctx is cancelled by Close
	cancel context.CancelFunc // cancel cancels ctx
}

// New creates a service over db and restores the handled requests stored by a
// previous run. The store stays owned by the caller.
func New(self data.Identity, db *storage.Storage, cfg Config) (*Service, error) {
	if cfg.SaveEvery == 0 {
		cfg.SaveEvery = defaultSaveEvery
	}

	acc := accumulator.NewWithLimits(cfg.MaxPending, cfg.MaxHandled)
	owner := data.Immutable(self[:])

	restored, err := acc.Load(db, owner)
	if err != nil {
		return nil, errs.Wrap(err, "restore handled requests")
	}

	if restored > 0 {
		logger.Info("handled requests restored", "count", restored)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		self:      self,
		owner:     owner,
		db:        db,
		backend:   sdv.NewDiskBackend(db),
		acc:       acc,
		saveEvery: cfg.SaveEvery,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Handle executes the request msg and sends its response through respond.
// A request already handled is answered from cache; a copy of a request
// still executing is answered together with the original once it is decided.
func (s *Service) Handle(msg *protocol.Message, respond func(*protocol.Message)) {
	if msg.Response {
		logger.Debug("vault ignored response", "kind", msg.Kind, "sender", msg.Sender)
		return
	}

	id := accumulator.RequestID{MessageID: msg.MessageID, Sender: msg.Sender}
	answer := func(r protocol.Reply) {
		respond(msg.ResponseTo(s.self, r))
	}

	s.mu.Lock()
	if reply, ok := s.acc.CheckHandled(id); ok {
		s.mu.Unlock()
		logger.Debug("duplicate answered from cache", "kind", msg.Kind, "sender", msg.Sender, "msg", msg.MessageID)
		answer(reply)
		return
	}

	executing := s.acc.IsPending(id)
	s.acc.PushRequest(accumulator.PendingRequest{
		ID:      id,
		Request: msg,
		Reply:   protocol.NoResponse(),
		Respond: answer,
	})
	s.mu.Unlock()

	if executing {
		logger.Debug("duplicate of executing request", "kind", msg.Kind, "sender", msg.Sender, "msg", msg.MessageID)
		return
	}

	reply := s.execute(msg)

	s.mu.Lock()
	removed := s.acc.SetHandled(id, reply)
	s.decided++
	save := s.saveEvery > 0 && s.decided >= s.saveEvery
	if save {
		s.decided = 0
	}
	s.mu.Unlock()

	if len(removed) == 0 {
		logger.Debug("request evicted before its decision", "kind", msg.Kind, "sender", msg.Sender, "msg", msg.MessageID)
	}

	for _, p := range removed {
		p.Respond(p.Reply)
	}

	if save {
		if err := s.acc.Save(s.db, s.owner); err != nil {
			logger.Warn("save handled requests failed", "error", err)
		}
	}
}

// Pending returns the number of requests being executed.
func (s *Service) Pending() int {
	return s.acc.PendingCount()
}

// Close cancels executing requests and stores the handled requests.
func (s *Service) Close() error {
	s.cancel()
	s.backend.Close()

	return s.acc.Save(s.db, s.owner)
}

// execute runs msg against the backend and converts the outcome to a reply.
func (s *Service) execute(msg *protocol.Message) protocol.Reply {
	content, err := s.run(msg)
	if err != nil {
		logger.Debug("request failed", "kind", msg.Kind, "name", msg.Name, "error", err)
		return protocol.Failure(protocol.CodeFromError(err))
	}

	return protocol.Success(content)
}

// run dispatches msg by kind.
func (s *Service) run(msg *protocol.Message) ([]byte, error) {
	switch msg.Kind {
	case protocol.KindGet:
		return wait(s.ctx, s.backend.DoGetChunk(msg.Name))

	case protocol.KindPut:
		return empty(wait(s.ctx, s.backend.DoPutChunk(msg.Name, msg.Content)))

	case protocol.KindDelete:
		return empty(wait(s.ctx, s.backend.DoDeleteChunk(msg.Name)))

	case protocol.KindCreateVersionTree:
		args, err := protocol.DecodeCreateArgs(msg.Aux)
		if err != nil {
			return nil, err
		}

		return empty(wait(s.ctx, s.backend.DoCreateSDV(msg.Name, args.Root, args.MaxVersions, args.MaxBranches)))

	case protocol.KindPutVersion:
		old, next, err := protocol.DecodeVersionPair(msg.Aux)
		if err != nil {
			return nil, err
		}

		return empty(wait(s.ctx, s.backend.DoPutSDVVersion(msg.Name, old, next)))

	case protocol.KindGetVersions:
		return encoded(wait(s.ctx, s.backend.DoGetBranches(msg.Name)))

	case protocol.KindGetBranch:
		tip, err := protocol.DecodeVersion(msg.Aux)
		if err != nil {
			return nil, err
		}

		return encoded(wait(s.ctx, s.backend.DoGetBranchVersions(msg.Name, tip)))

	case protocol.KindDeleteBranchUntilFork:
		tip, err := protocol.DecodeVersion(msg.Aux)
		if err != nil {
			return nil, err
		}

		return empty(wait(s.ctx, s.backend.DoDeleteBranchUntilFork(msg.Name, tip)))

	default:
		return nil, errs.New(errs.ErrInvalidArgument, "unsupported request %s", msg.Kind)
	}
}

// wait blocks on f until it resolves or ctx ends.
func wait[T any](ctx context.Context, f *async.Future[T]) (T, error) {
	v, err := f.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		return v, errs.Cancelled(err, "vault closed")
	}

	return v, err
}

// empty drops a unit result.
func empty(_ struct{}, err error) ([]byte, error) {
	return nil, err
}

// encoded serializes a version list result.
func encoded(vs []data.VersionName, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}

	return protocol.EncodeVersions(vs), nil
}
