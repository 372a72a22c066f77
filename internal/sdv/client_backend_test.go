package sdv

import (
	"bytes"
	"testing"
	"time"

	"Vaultnet/internal/client"
	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
	"Vaultnet/internal/protocol"
	"Vaultnet/internal/timer"
)

// echoGroup answers every request immediately as groupSize replicas would,
// or never when silent.
type echoGroup struct {
	c         *client.Client
	groupSize int
	chunk     []byte
	tips      []data.VersionName
	silent    bool
}

func (g *echoGroup) answer(kind protocol.Kind, id timer.TaskID, name data.Name, r protocol.Reply) error {
	if g.silent {
		return nil
	}

	req := &protocol.Message{Kind: kind, TaskID: uint64(id), Name: name}

	for i := 0; i < g.groupSize; i++ {
		g.c.HandleResponse(req.ResponseTo(data.Identity{byte(i)}, r))
	}

	return nil
}

func (g *echoGroup) SendGetRequest(id timer.TaskID, name data.Name) error {
	return g.answer(protocol.KindGet, id, name, protocol.Success(g.chunk))
}

func (g *echoGroup) SendPutRequest(id timer.TaskID, name data.Name, _ []byte, _ data.Identity) error {
	return g.answer(protocol.KindPut, id, name, protocol.Success(nil))
}

func (g *echoGroup) SendDeleteRequest(id timer.TaskID, name data.Name) error {
	return g.answer(protocol.KindDelete, id, name, protocol.Success(nil))
}

func (g *echoGroup) SendCreateVersionTreeRequest(id timer.TaskID, name data.Name, _ data.VersionName, _, _ uint32) error {
	return g.answer(protocol.KindCreateVersionTree, id, name, protocol.Success(nil))
}

func (g *echoGroup) SendPutVersionRequest(id timer.TaskID, name data.Name, _, _ data.VersionName) error {
	return g.answer(protocol.KindPutVersion, id, name, protocol.Success(nil))
}

func (g *echoGroup) SendGetVersionsRequest(id timer.TaskID, name data.Name) error {
	return g.answer(protocol.KindGetVersions, id, name, protocol.Success(protocol.EncodeVersions(g.tips)))
}

func (g *echoGroup) SendGetBranchRequest(id timer.TaskID, name data.Name, tip data.VersionName) error {
	return g.answer(protocol.KindGetBranch, id, name, protocol.Success(protocol.EncodeVersions([]data.VersionName{tip})))
}

func (g *echoGroup) SendDeleteBranchUntilForkRequest(id timer.TaskID, name data.Name, _ data.VersionName) error {
	return g.answer(protocol.KindDeleteBranchUntilFork, id, name, protocol.Success(nil))
}

func TestClientBackendThroughFacade(t *testing.T) {
	content := []byte("replicated chunk")
	tip := version(1, 0x01)
	group := &echoGroup{groupSize: 3, chunk: content, tips: []data.VersionName{tip}}
	group.c = client.New(client.Config{GroupSize: group.groupSize, Timeout: time.Second}, group)

	n := NewNetwork(NewClientBackend(group.c, 0))

	got, err := await(t, n.GetChunk(data.Immutable(content)))
	if err != nil || !bytes.Equal(got, content) {
		t.Fatalf("GetChunk = (%q, %v), want %q", got, err, content)
	}

	if _, err := await(t, n.PutChunk(data.Immutable(content), content)); err != nil {
		t.Errorf("PutChunk: %v", err)
	}

	versions, err := await(t, n.GetSDVVersions(data.Immutable([]byte("tree"))))
	if err != nil || len(versions) != 1 || versions[0] != tip {
		t.Errorf("GetSDVVersions = (%v, %v), want [%s]", versions, err, tip)
	}

	group.tips = append(group.tips, version(1, 0x02))

	if _, err := await(t, n.GetSDVVersions(data.Immutable([]byte("tree")))); !errs.Is(err, errs.ErrFork) {
		t.Errorf("err = %v, want fork", err)
	}

	n.Close()

	if _, err := await(t, n.GetChunk(data.Immutable(content))); !errs.Is(err, errs.ErrCancelled) {
		t.Errorf("after close err = %v, want cancelled", err)
	}
}

func TestClientBackendCloseCancels(t *testing.T) {
	group := &echoGroup{groupSize: 3, silent: true}
	group.c = client.New(client.Config{GroupSize: group.groupSize, Timeout: time.Minute}, group)

	n := NewNetwork(NewClientBackend(group.c, 0))

	chunk := n.GetChunk(data.Immutable([]byte("never answered")))
	put := n.PutChunk(data.Immutable([]byte("x")), []byte("x"))
	versions := n.GetSDVVersions(data.Immutable([]byte("tree")))

	n.Close()

	if _, err := await(t, chunk); !errs.Is(err, errs.ErrCancelled) || errs.Is(err, errs.ErrTimedOut) {
		t.Errorf("GetChunk err = %v, want cancelled", err)
	}

	if _, err := await(t, put); !errs.Is(err, errs.ErrCancelled) {
		t.Errorf("PutChunk err = %v, want cancelled", err)
	}

	if _, err := await(t, versions); !errs.Is(err, errs.ErrCancelled) {
		t.Errorf("GetSDVVersions err = %v, want cancelled", err)
	}
}
