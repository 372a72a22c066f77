// Package client is a Go SDK for the HTTP API of a Vaultnet node.
package client

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client connects to a Vaultnet node via HTTP.
type Client struct {
	nodeAddr string       // nodeAddr is the HTTP address (e.g. "127.0.0.1:8080")
	http     *http.Client // http performs the requests
}

// Version identifies one version of a version tree.
type Version struct {
	Index uint64 `json:"index"` // Index is the position in the chain
	ID    string `json:"id"`    // ID is the hex content identity
}

// String returns "index.id", the path form of a version.
func (v Version) String() string {
	return fmt.Sprintf("%d.%s", v.Index, v.ID)
}

// NewVersion builds a version from a raw 32-byte id.
func NewVersion(index uint64, id [32]byte) Version {
	return Version{Index: index, ID: hex.EncodeToString(id[:])}
}

// Status describes the node a client talks to.
type Status struct {
	Identity  string `json:"identity"`  // Identity is the node's hex identity
	Members   int    `json:"members"`   // Members counts the node and its peers
	GroupSize int    `json:"groupSize"` // GroupSize is the replica count per name
}

// NewClient creates a client for the node at nodeAddr.
func NewClient(nodeAddr string) *Client {
	return &Client{
		nodeAddr: nodeAddr,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Health checks that the node answers.
func (c *Client) Health() error {
	var resp map[string]string
	return c.do(http.MethodGet, "/health", nil, &resp)
}

// Status returns the node's identity and membership.
func (c *Client) Status() (*Status, error) {
	var status Status
	if err := c.do(http.MethodGet, "/status", nil, &status); err != nil {
		return nil, err
	}

	return &status, nil
}

// PutChunk stores content as an immutable chunk and returns its name.
func (c *Client) PutChunk(content []byte) (string, error) {
	var resp struct {
		Name string `json:"name"`
	}

	if err := c.doRaw(http.MethodPut, "/chunks", content, &resp); err != nil {
		return "", err
	}

	return resp.Name, nil
}

// GetChunk returns the content of the chunk name.
func (c *Client) GetChunk(name string) ([]byte, error) {
	return c.getRaw("/chunks/" + url.PathEscape(name))
}

// CreateTree creates a version tree under name, rooted at root.
func (c *Client) CreateTree(name string, root Version, maxVersions, maxBranches uint32) error {
	body := map[string]any{
		"root":        root,
		"maxVersions": maxVersions,
		"maxBranches": maxBranches,
	}

	return c.do(http.MethodPost, treePath(name), body, nil)
}

// PutVersion appends next after old in the tree name.
func (c *Client) PutVersion(name string, old, next Version) error {
	body := map[string]Version{"old": old, "new": next}
	return c.do(http.MethodPost, treePath(name)+"/versions", body, nil)
}

// Versions returns the single branch of the tree, tip first.
// A forked tree fails with an error of kind errs.ErrFork.
func (c *Client) Versions(name string) ([]Version, error) {
	return c.versions(treePath(name) + "/versions")
}

// Branches returns the tips of the tree.
func (c *Client) Branches(name string) ([]Version, error) {
	return c.versions(treePath(name) + "/branches")
}

// Branch returns the versions from tip back to the root.
func (c *Client) Branch(name string, tip Version) ([]Version, error) {
	return c.versions(treePath(name) + "/branches/" + tip.String())
}

// DeleteBranch removes the branch ending at tip up to the nearest fork.
func (c *Client) DeleteBranch(name string, tip Version) error {
	return c.do(http.MethodDelete, treePath(name)+"/branches/"+tip.String(), nil, nil)
}

// versions fetches a version list.
func (c *Client) versions(path string) ([]Version, error) {
	var resp struct {
		Versions []Version `json:"versions"`
	}

	if err := c.do(http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	return resp.Versions, nil
}

// treePath returns the resource path of a tree.
func treePath(name string) string {
	return "/sdv/" + url.PathEscape(name)
}
