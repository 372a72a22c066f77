package client

import (
	"sync/atomic"
	"time"

	"Vaultnet/internal/data"
	"Vaultnet/internal/errs"
	"Vaultnet/internal/protocol"
	"Vaultnet/internal/timer"
)

// Dispatcher sends requests toward the replica group responsible for a name.
// Sends are fire-and-forget: an error only means the request was not accepted
// for sending. Replies come back through Client.HandleResponse.
type Dispatcher interface {
	SendGetRequest(id timer.TaskID, name data.Name) error
	SendPutRequest(id timer.TaskID, name data.Name, content []byte, hint data.Identity) error
	SendDeleteRequest(id timer.TaskID, name data.Name) error
	SendCreateVersionTreeRequest(id timer.TaskID, name data.Name, root data.VersionName, maxVersions, maxBranches uint32) error
	SendPutVersionRequest(id timer.TaskID, name data.Name, old, new data.VersionName) error
	SendGetVersionsRequest(id timer.TaskID, name data.Name) error
	SendGetBranchRequest(id timer.TaskID, name data.Name, tip data.VersionName) error
	SendDeleteBranchUntilForkRequest(id timer.TaskID, name data.Name, tip data.VersionName) error
}

// Router delivers an encoded message to the n nodes closest to name.
type Router interface {
	SendToGroup(name data.Name, n int, payload []byte) error
}

// GroupDispatcher encodes requests as protocol messages and routes them to
// the replica group of their target name.
type GroupDispatcher struct {
	router    Router        // router moves bytes to the group
	self      data.Identity // self is the sender identity stamped on requests
	groupSize int           // groupSize is the number of replicas addressed
	nextMsgID atomic.Uint64 // nextMsgID is the last message id used
}

// NewGroupDispatcher creates a dispatcher sending as self to groups of groupSize.
// Message ids start from the clock so a restarted node does not reuse ids
// that replicas still remember as handled.
func NewGroupDispatcher(router Router, self data.Identity, groupSize int) *GroupDispatcher {
	d := &GroupDispatcher{
		router:    router,
		self:      self,
		groupSize: groupSize,
	}

	d.nextMsgID.Store(uint64(time.Now().UnixNano()))

	return d
}

// SendGetRequest asks the group for the content of name.
func (d *GroupDispatcher) SendGetRequest(id timer.TaskID, name data.Name) error {
	return d.send(protocol.KindGet, id, name, nil, nil)
}

// SendPutRequest stores content under name. A non-zero hint names the
// replica expected to hold the data.
func (d *GroupDispatcher) SendPutRequest(id timer.TaskID, name data.Name, content []byte, hint data.Identity) error {
	var aux []byte
	if hint != (data.Identity{}) {
		aux = hint[:]
	}

	return d.send(protocol.KindPut, id, name, content, aux)
}

// SendDeleteRequest removes name.
func (d *GroupDispatcher) SendDeleteRequest(id timer.TaskID, name data.Name) error {
	return d.send(protocol.KindDelete, id, name, nil, nil)
}

// SendCreateVersionTreeRequest creates the version tree of name rooted at root.
func (d *GroupDispatcher) SendCreateVersionTreeRequest(id timer.TaskID, name data.Name, root data.VersionName, maxVersions, maxBranches uint32) error {
	aux := protocol.EncodeCreateArgs(protocol.CreateArgs{
		Root:        root,
		MaxVersions: maxVersions,
		MaxBranches: maxBranches,
	})

	return d.send(protocol.KindCreateVersionTree, id, name, nil, aux)
}

// SendPutVersionRequest appends new after old in the version tree of name.
func (d *GroupDispatcher) SendPutVersionRequest(id timer.TaskID, name data.Name, old, new data.VersionName) error {
	return d.send(protocol.KindPutVersion, id, name, nil, protocol.EncodeVersionPair(old, new))
}

// SendGetVersionsRequest asks for the branch tips of name.
func (d *GroupDispatcher) SendGetVersionsRequest(id timer.TaskID, name data.Name) error {
	return d.send(protocol.KindGetVersions, id, name, nil, nil)
}

// SendGetBranchRequest asks for the versions from tip back to the root.
func (d *GroupDispatcher) SendGetBranchRequest(id timer.TaskID, name data.Name, tip data.VersionName) error {
	return d.send(protocol.KindGetBranch, id, name, nil, protocol.EncodeVersion(tip))
}

// SendDeleteBranchUntilForkRequest removes the branch ending at tip.
func (d *GroupDispatcher) SendDeleteBranchUntilForkRequest(id timer.TaskID, name data.Name, tip data.VersionName) error {
	return d.send(protocol.KindDeleteBranchUntilFork, id, name, nil, protocol.EncodeVersion(tip))
}

// send encodes and routes one request.
func (d *GroupDispatcher) send(kind protocol.Kind, id timer.TaskID, name data.Name, content, aux []byte) error {
	msg := &protocol.Message{
		Kind:      kind,
		MessageID: d.nextMsgID.Add(1),
		TaskID:    uint64(id),
		Sender:    d.self,
		Name:      name,
		Content:   content,
		Aux:       aux,
	}

	if err := d.router.SendToGroup(name, d.groupSize, protocol.Encode(msg)); err != nil {
		return errs.Transport(err, "send %s request for %s", kind, name)
	}

	return nil
}
