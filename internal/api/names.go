package api

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"Vaultnet/internal/data"
)

// versionJSON is the JSON form of a version name.
type versionJSON struct {
	Index uint64 `json:"index"`
	ID    string `json:"id"`
}

// version parses v.
func (v versionJSON) version() (data.VersionName, error) {
	id, err := parseID(v.ID)
	if err != nil {
		return data.VersionName{}, err
	}

	return data.VersionName{Index: v.Index, ID: id}, nil
}

// toJSON converts a version name for output.
func toJSON(v data.VersionName) versionJSON {
	return versionJSON{Index: v.Index, ID: hex.EncodeToString(v.ID[:])}
}

// formatName returns the hex form of an encoded name used in paths.
func formatName(n data.Name) string {
	return hex.EncodeToString(n.Bytes())
}

// parseName parses the hex form of an encoded name.
func parseName(s string) (data.Name, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return data.Name{}, fmt.Errorf("name is not hex: %w", err)
	}

	return data.ParseName(raw)
}

// parseID parses a 64-character hex id.
func parseID(s string) (data.ID, error) {
	var id data.ID

	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("id is not hex: %w", err)
	}

	if len(raw) != data.IDSize {
		return id, fmt.Errorf("id size: got %d, want %d", len(raw), data.IDSize)
	}

	copy(id[:], raw)

	return id, nil
}

// parseVersion parses the path form of a version: "index.hexid".
func parseVersion(s string) (data.VersionName, error) {
	index, id, ok := strings.Cut(s, ".")
	if !ok {
		return data.VersionName{}, fmt.Errorf("version must be index.id")
	}

	n, err := strconv.ParseUint(index, 10, 64)
	if err != nil {
		return data.VersionName{}, fmt.Errorf("version index: %w", err)
	}

	return versionJSON{Index: n, ID: id}.version()
}

// pathName reads the {name} path value, writing 400 when it is invalid.
func pathName(w http.ResponseWriter, r *http.Request) (data.Name, bool) {
	name, err := parseName(r.PathValue("name"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid name: %v", err))
		return data.Name{}, false
	}

	return name, true
}

// pathVersion reads the {tip} path value, writing 400 when it is invalid.
func pathVersion(w http.ResponseWriter, r *http.Request) (data.VersionName, bool) {
	tip, err := parseVersion(r.PathValue("tip"))
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid version: %v", err))
		return data.VersionName{}, false
	}

	return tip, true
}
