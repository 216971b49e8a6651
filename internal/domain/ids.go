package domain

import (
	"fmt"
	"strings"
)

// NodeKey identifies an event source. It is stable across reconnects of the
// same logical agent.
type NodeKey string

// LocalID is an identifier unique within one source namespace.
type LocalID string

// GlobalID is the only identifier used across namespace boundaries.
type GlobalID struct {
	Key   NodeKey `json:"key"`
	Local LocalID `json:"local"`
}

// idSeparator splits the key from the local part in the string form.
// NodeKeys never contain it; LocalIDs may.
const idSeparator = "/"

// NewGlobalID creates a GlobalID scoped to the given source
func NewGlobalID(key NodeKey, local LocalID) GlobalID {
	return GlobalID{Key: key, Local: local}
}

// IsZero reports whether the id is unset
func (id GlobalID) IsZero() bool {
	return id.Key == "" && id.Local == ""
}

// String renders the id as "key/local"
func (id GlobalID) String() string {
	return string(id.Key) + idSeparator + string(id.Local)
}

// Compare orders ids by key, then local id.
func (id GlobalID) Compare(other GlobalID) int {
	if c := strings.Compare(string(id.Key), string(other.Key)); c != 0 {
		return c
	}
	return strings.Compare(string(id.Local), string(other.Local))
}

// Less reports whether id sorts before other
func (id GlobalID) Less(other GlobalID) bool {
	return id.Compare(other) < 0
}

// ParseGlobalID parses the "key/local" form produced by String.
func ParseGlobalID(s string) (GlobalID, error) {
	key, local, ok := strings.Cut(s, idSeparator)
	if !ok || key == "" || local == "" {
		return GlobalID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return GlobalID{Key: NodeKey(key), Local: LocalID(local)}, nil
}

// ValidNodeKey reports whether k can be used as a namespace.
func ValidNodeKey(k NodeKey) bool {
	return k != "" && !strings.Contains(string(k), idSeparator)
}
