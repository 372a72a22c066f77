package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"Vaultnet/internal/errs"
)

// do sends a JSON request and decodes a JSON response into result when non-nil.
func (c *Client) do(method, path string, body, result any) error {
	var payload []byte

	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body:\n%w", err)
		}

		payload = b
	}

	return c.doRaw(method, path, payload, result)
}

// doRaw sends payload as the request body and decodes the JSON response.
func (c *Client) doRaw(method, path string, payload []byte, result any) error {
	resp, err := c.send(method, path, payload)
	if err != nil {
		return err
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if err := checkStatus(method, path, resp); err != nil {
		return err
	}

	if result == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(result)
}

// getRaw performs a GET request and returns the raw body.
func (c *Client) getRaw(path string) ([]byte, error) {
	resp, err := c.send(http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if err := checkStatus(http.MethodGet, path, resp); err != nil {
		return nil, err
	}

	return io.ReadAll(resp.Body)
}

// send performs one request against the node.
func (c *Client) send(method, path string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, "http://"+c.nodeAddr+path, body)
	if err != nil {
		return nil, fmt.Errorf("%s %s:\n%w", method, path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errs.Transport(err, "%s %s", method, path)
	}

	return resp, nil
}

// checkStatus converts a non-2xx response into an error carrying the kind
// reported by the node.
func checkStatus(method, path string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var failure struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(&failure)

	kind := errs.ByName(failure.Kind)
	if kind == nil {
		kind = errs.ErrTransport
	}

	return errs.New(kind, "%s %s: status %d: %s", method, path, resp.StatusCode, failure.Error)
}
