package domain

import (
	"path"
	"strings"
	"time"
)

// NodeKind represents the type of observed entity
type NodeKind string

const (
	NodeKindProcess   NodeKind = "process"
	NodeKindFile      NodeKind = "file"
	NodeKindUser      NodeKind = "user"
	NodeKindHost      NodeKind = "host"
	NodeKindContainer NodeKind = "container"
)

// NodeKinds lists every valid kind
var NodeKinds = []NodeKind{NodeKindProcess, NodeKindFile, NodeKindUser, NodeKindHost, NodeKindContainer}

// ParseNodeKind validates a wire kind string
func ParseNodeKind(s string) (NodeKind, error) {
	for _, k := range NodeKinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", ErrUnknownKind
}

// Well-known attribute keys
const (
	AttrLabel    = "label"
	AttrExe      = "exe"
	AttrCmdline  = "cmdline"
	AttrPath     = "path"
	AttrUsername = "username"
	AttrHostname = "hostname"
	AttrName     = "name"
	AttrImage    = "image"
)

// Node is an entity in the truth graph
type Node struct {
	ID        GlobalID          `json:"id"`
	Kind      NodeKind          `json:"kind"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	FirstSeen time.Time         `json:"first_seen"`
	LastSeen  time.Time         `json:"last_seen"`
	RemovedAt *time.Time        `json:"removed_at,omitempty"`

	// LastSeq is the apply sequence of the most recent delta touching the node
	LastSeq uint64 `json:"last_seq"`
}

// Tombstoned reports whether the node has a removal timestamp
func (n *Node) Tombstoned() bool {
	return n.RemovedAt != nil
}

// Clone returns a copy that shares nothing with n
func (n *Node) Clone() Node {
	c := *n
	if n.Attrs != nil {
		c.Attrs = make(map[string]string, len(n.Attrs))
		for k, v := range n.Attrs {
			c.Attrs[k] = v
		}
	}
	if n.RemovedAt != nil {
		t := *n.RemovedAt
		c.RemovedAt = &t
	}
	return c
}

// Label returns a short display label derived from kind-specific attributes.
// An explicit "label" attribute always wins; the local id is the fallback.
func (n *Node) Label() string {
	if l := n.Attrs[AttrLabel]; l != "" {
		return l
	}
	switch n.Kind {
	case NodeKindProcess:
		if c := strings.TrimSpace(n.Attrs[AttrCmdline]); c != "" {
			return c
		}
		if e := n.Attrs[AttrExe]; e != "" {
			return path.Base(e)
		}
	case NodeKindFile:
		if p := n.Attrs[AttrPath]; p != "" {
			return NormalizeDisplayPath(p)
		}
	case NodeKindUser:
		if u := n.Attrs[AttrUsername]; u != "" {
			return u
		}
	case NodeKindHost:
		if h := n.Attrs[AttrHostname]; h != "" {
			return h
		}
	case NodeKindContainer:
		if name := n.Attrs[AttrName]; name != "" {
			return name
		}
		if i := n.Attrs[AttrImage]; i != "" {
			return i
		}
	}
	return string(n.ID.Local)
}

// maxDisplayPath is the longest path shown before eliding the middle
const maxDisplayPath = 48

// NormalizeDisplayPath cleans a path and elides the middle of long ones,
// keeping the first directory and the file name.
func NormalizeDisplayPath(p string) string {
	p = path.Clean(strings.ReplaceAll(p, "\\", "/"))
	if len(p) <= maxDisplayPath {
		return p
	}
	parts := strings.Split(strings.TrimPrefix(p, "/"), "/")
	if len(parts) < 3 {
		return p
	}
	head := parts[0]
	if strings.HasPrefix(p, "/") {
		head = "/" + head
	}
	return head + "/…/" + parts[len(parts)-1]
}
