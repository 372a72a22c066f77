package client

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"Vaultnet/internal/async"
	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
	"Vaultnet/internal/protocol"
	"Vaultnet/internal/timer"
)

const testGroupSize = 4

// sent is one recorded dispatch.
type sent struct {
	kind protocol.Kind
	id   timer.TaskID
	name data.Name
}

// fakeDispatcher records requests instead of sending them.
type fakeDispatcher struct {
	mu   sync.Mutex
	sent []sent
	fail bool
}

func (d *fakeDispatcher) record(kind protocol.Kind, id timer.TaskID, name data.Name) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fail {
		return errs.New(errs.ErrTransport, "refused")
	}

	d.sent = append(d.sent, sent{kind: kind, id: id, name: name})

	return nil
}

func (d *fakeDispatcher) last(t *testing.T) sent {
	t.Helper()

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.sent) == 0 {
		t.Fatal("nothing dispatched")
	}

	return d.sent[len(d.sent)-1]
}

func (d *fakeDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.sent)
}

func (d *fakeDispatcher) SendGetRequest(id timer.TaskID, name data.Name) error {
	return d.record(protocol.KindGet, id, name)
}

func (d *fakeDispatcher) SendPutRequest(id timer.TaskID, name data.Name, _ []byte, _ data.Identity) error {
	return d.record(protocol.KindPut, id, name)
}

func (d *fakeDispatcher) SendDeleteRequest(id timer.TaskID, name data.Name) error {
	return d.record(protocol.KindDelete, id, name)
}

func (d *fakeDispatcher) SendCreateVersionTreeRequest(id timer.TaskID, name data.Name, _ data.VersionName, _, _ uint32) error {
	return d.record(protocol.KindCreateVersionTree, id, name)
}

func (d *fakeDispatcher) SendPutVersionRequest(id timer.TaskID, name data.Name, _, _ data.VersionName) error {
	return d.record(protocol.KindPutVersion, id, name)
}

func (d *fakeDispatcher) SendGetVersionsRequest(id timer.TaskID, name data.Name) error {
	return d.record(protocol.KindGetVersions, id, name)
}

func (d *fakeDispatcher) SendGetBranchRequest(id timer.TaskID, name data.Name, _ data.VersionName) error {
	return d.record(protocol.KindGetBranch, id, name)
}

func (d *fakeDispatcher) SendDeleteBranchUntilForkRequest(id timer.TaskID, name data.Name, _ data.VersionName) error {
	return d.record(protocol.KindDeleteBranchUntilFork, id, name)
}

// newTestClient creates a client over a fake dispatcher.
func newTestClient(t *testing.T) (*Client, *fakeDispatcher) {
	t.Helper()

	d := &fakeDispatcher{}
	c := New(Config{GroupSize: testGroupSize, Timeout: time.Minute}, d)
	t.Cleanup(c.Close)

	return c, d
}

// await waits for f with a deadline.
func await[T any](t *testing.T, f *async.Future[T]) (T, error) {
	t.Helper()

	select {
	case <-f.Done():
		return f.Get()
	case <-time.After(2 * time.Second):
		t.Fatal("future did not resolve")
	}

	var zero T
	return zero, nil
}

// reply builds a response message for a dispatched request.
func reply(s sent, r protocol.Reply) *protocol.Message {
	req := &protocol.Message{Kind: s.kind, TaskID: uint64(s.id), Name: s.name}
	return req.ResponseTo(data.Identity{0x09}, r)
}

func TestGetQuorumAccept(t *testing.T) {
	c, d := newTestClient(t)
	content := []byte("chunk")
	name := data.Immutable(content)

	f := c.Get(name, 0)
	req := d.last(t)

	c.HandleResponse(reply(req, protocol.Success(content)))
	c.HandleResponse(reply(req, protocol.Success([]byte("late"))))
	c.HandleResponse(reply(req, protocol.Failure(protocol.CodeNotFound)))

	got, err := await(t, f)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if !bytes.Equal(got, content) {
		t.Errorf("got %q, want %q", got, content)
	}

	if n := c.gets.Outstanding(); n != 0 {
		t.Errorf("outstanding = %d, want 0", n)
	}
}

func TestGetIgnoresInvalidContent(t *testing.T) {
	c, d := newTestClient(t)
	content := []byte("chunk")
	name := data.Immutable(content)

	f := c.Get(name, 0)
	req := d.last(t)

	c.HandleResponse(reply(req, protocol.Success([]byte("forged"))))

	if f.Ready() {
		t.Fatal("invalid content should not resolve the get")
	}

	c.HandleResponse(reply(req, protocol.Success(content)))

	if got, err := await(t, f); err != nil || !bytes.Equal(got, content) {
		t.Errorf("Get = (%q, %v), want %q", got, err, content)
	}
}

func TestGetRetryThenSucceed(t *testing.T) {
	c, d := newTestClient(t)
	content := []byte("chunk")
	name := data.Immutable(content)

	f := c.Get(name, 0)
	first := d.last(t)

	for i := 0; i < testGroupSize-1; i++ {
		c.HandleResponse(reply(first, protocol.Failure(protocol.CodeNotFound)))
	}

	if d.count() != 2 {
		t.Fatalf("dispatched %d requests, want a retry", d.count())
	}

	retry := d.last(t)
	if retry.id == first.id || retry.name != name {
		t.Fatalf("retry = %+v, want a new task id for the same name", retry)
	}

	// Stale replies for the old task id are dropped.
	c.HandleResponse(reply(first, protocol.Failure(protocol.CodeNotFound)))

	if d.count() != 2 {
		t.Errorf("stale reply caused a dispatch")
	}

	if f.Ready() {
		t.Fatal("retry must not resolve the get")
	}

	c.HandleResponse(reply(retry, protocol.Success(content)))

	if got, err := await(t, f); err != nil || !bytes.Equal(got, content) {
		t.Errorf("Get = (%q, %v), want %q", got, err, content)
	}
}

func TestGetIgnoresNoResponseReply(t *testing.T) {
	c, d := newTestClient(t)
	content := []byte("present")
	name := data.Immutable(content)

	f := c.Get(name, 0)
	req := d.last(t)

	for i := 0; i < testGroupSize; i++ {
		c.HandleResponse(reply(req, protocol.NoResponse()))
	}

	if f.Ready() {
		t.Fatal("a replica reply must not cancel the get")
	}

	if d.count() != 1 {
		t.Errorf("dispatched %d requests, want 1", d.count())
	}

	c.HandleResponse(reply(req, protocol.Success(content)))

	if got, err := await(t, f); err != nil || !bytes.Equal(got, content) {
		t.Errorf("Get = (%q, %v), want %q", got, err, content)
	}
}

func TestGetExpiryCancelsRetriedTask(t *testing.T) {
	c, d := newTestClient(t)
	content := []byte("slow chunk")
	name := data.Immutable(content)

	f := c.Get(name, 50*time.Millisecond)
	first := d.last(t)

	for i := 0; i < testGroupSize-1; i++ {
		c.HandleResponse(reply(first, protocol.Failure(protocol.CodeNotFound)))
	}

	retry := d.last(t)
	if retry.id == first.id {
		t.Fatal("expected a retry")
	}

	if _, err := await(t, f); !errs.Is(err, errs.ErrTimedOut) {
		t.Errorf("err = %v, want timed out", err)
	}

	if n := c.gets.Outstanding(); n != 0 {
		t.Errorf("outstanding = %d, want 0", n)
	}

	// The retried task was erased with its canonical id.
	c.HandleResponse(reply(retry, protocol.Success(content)))

	if d.count() != 2 {
		t.Errorf("dispatched %d requests, want 2", d.count())
	}
}

func TestGetConcurrentValidReplies(t *testing.T) {
	c, d := newTestClient(t)
	content := []byte("contended")
	name := data.Immutable(content)

	f := c.Get(name, 0)
	req := d.last(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.HandleResponse(reply(req, protocol.Success(content)))
		}()
	}
	wg.Wait()

	if got, err := await(t, f); err != nil || !bytes.Equal(got, content) {
		t.Errorf("Get = (%q, %v), want %q", got, err, content)
	}

	if n := c.gets.Outstanding(); n != 0 {
		t.Errorf("outstanding = %d, want 0", n)
	}

	if n := c.timer.Pending(); n != 0 {
		t.Errorf("timer tasks = %d, want 0", n)
	}
}

func TestGetTimesOut(t *testing.T) {
	c, _ := newTestClient(t)

	f := c.Get(data.Immutable([]byte("slow")), 20*time.Millisecond)

	if _, err := await(t, f); !errs.Is(err, errs.ErrTimedOut) {
		t.Errorf("err = %v, want timed out", err)
	}
}

func TestGetDispatchFailure(t *testing.T) {
	c, d := newTestClient(t)
	d.fail = true

	f := c.Get(data.Immutable([]byte("x")), 0)

	if _, err := await(t, f); !errs.Is(err, errs.ErrTransport) {
		t.Errorf("err = %v, want transport error", err)
	}
}

func TestGetRetryDispatchFailureExhausts(t *testing.T) {
	c, d := newTestClient(t)
	name := data.Immutable([]byte("unreachable"))

	f := c.Get(name, 0)
	first := d.last(t)

	d.mu.Lock()
	d.fail = true
	d.mu.Unlock()

	for i := 0; i < testGroupSize-1; i++ {
		c.HandleResponse(reply(first, protocol.Failure(protocol.CodeNotFound)))
	}

	if _, err := await(t, f); !errs.Is(err, errs.ErrQuorumExhausted) {
		t.Errorf("err = %v, want quorum exhausted", err)
	}

	if n := c.gets.Outstanding(); n != 0 {
		t.Errorf("outstanding = %d, want 0", n)
	}
}

func TestPutMajority(t *testing.T) {
	c, d := newTestClient(t)
	content := []byte("value")

	f := c.Put(data.Immutable(content), content, 0)
	req := d.last(t)

	c.HandleResponse(reply(req, protocol.Success(nil)))
	c.HandleResponse(reply(req, protocol.Failure(protocol.CodeAlreadyExists)))

	if f.Ready() {
		t.Fatal("one success of four should not decide")
	}

	c.HandleResponse(reply(req, protocol.Success(nil)))
	c.HandleResponse(reply(req, protocol.Success(nil)))

	if _, err := await(t, f); err != nil {
		t.Errorf("Put: %v", err)
	}
}

func TestPutRejectsMismatchedContent(t *testing.T) {
	c, d := newTestClient(t)

	f := c.Put(data.Immutable([]byte("a")), []byte("b"), 0)

	if _, err := await(t, f); !errs.Is(err, errs.ErrValidation) {
		t.Errorf("err = %v, want validation error", err)
	}

	if d.count() != 0 {
		t.Error("invalid put should not be dispatched")
	}
}

func TestDeleteMostFrequentError(t *testing.T) {
	c, d := newTestClient(t)

	f := c.Delete(data.Immutable([]byte("gone")), 0)
	req := d.last(t)

	c.HandleResponse(reply(req, protocol.Failure(protocol.CodeNotFound)))
	c.HandleResponse(reply(req, protocol.Success(nil)))
	c.HandleResponse(reply(req, protocol.Failure(protocol.CodeNotFound)))
	c.HandleResponse(reply(req, protocol.Failure(protocol.CodeInternal)))

	if _, err := await(t, f); !errs.Is(err, errs.ErrNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestGetVersionsDecodes(t *testing.T) {
	c, d := newTestClient(t)
	tip := data.VersionName{Index: 3, ID: data.ID{0x03}}
	content := protocol.EncodeVersions([]data.VersionName{tip})

	f := c.GetVersions(data.Immutable([]byte("tree")), 0)
	req := d.last(t)

	for i := 0; i < 3; i++ {
		c.HandleResponse(reply(req, protocol.Success(content)))
	}

	got, err := await(t, f)
	if err != nil {
		t.Fatalf("GetVersions: %v", err)
	}

	if len(got) != 1 || got[0] != tip {
		t.Errorf("got %v, want [%v]", got, tip)
	}
}

func TestMutationTimeout(t *testing.T) {
	c, d := newTestClient(t)

	f := c.PutVersion(data.Immutable([]byte("tree")), data.VersionName{}, data.VersionName{Index: 1}, 20*time.Millisecond)
	req := d.last(t)

	c.HandleResponse(reply(req, protocol.Failure(protocol.CodeFork)))

	if _, err := await(t, f); !errs.Is(err, errs.ErrFork) {
		t.Errorf("err = %v, want the most frequent error", err)
	}
}

func TestCreateVersionTreeRejectsZeroBounds(t *testing.T) {
	c, _ := newTestClient(t)

	f := c.CreateVersionTree(data.Immutable(nil), data.VersionName{}, 0, 1, 0)

	if _, err := await(t, f); !errs.Is(err, errs.ErrInvalidArgument) {
		t.Errorf("err = %v, want invalid argument", err)
	}
}

func TestCloseFailsOutstanding(t *testing.T) {
	d := &fakeDispatcher{}
	c := New(Config{GroupSize: testGroupSize, Timeout: time.Minute}, d)

	get := c.Get(data.Immutable([]byte("x")), 0)
	del := c.Delete(data.Immutable([]byte("x")), 0)

	c.Close()

	if _, err := await(t, get); !errs.Is(err, errs.ErrCancelled) {
		t.Errorf("get err = %v, want cancelled", err)
	}

	if _, err := await(t, del); !errs.Is(err, errs.ErrCancelled) {
		t.Errorf("delete err = %v, want cancelled", err)
	}

	if _, err := await(t, c.Get(data.Immutable([]byte("y")), 0)); !errs.Is(err, errs.ErrCancelled) {
		t.Errorf("get after close err = %v, want cancelled", err)
	}
}
