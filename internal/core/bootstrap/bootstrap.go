// Package bootstrap seeds the graph with the host the server runs on.
//
// The server describes itself the way an agent would: one host node, a
// container node when it runs inside one, and its own process, all under
// a single source key. The seeded nodes are pinned so GC never purges
// them, and Keep re-seeds them so they do not expire.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"spacegraph/internal/core"
	"spacegraph/internal/domain"
)

// Local ids of the seeded nodes
const (
	HostID      domain.LocalID = "host"
	ContainerID domain.LocalID = "container"
)

// Probe reads host facts. Paths are resolved against Root without a
// leading slash, so tests can substitute an in-memory filesystem.
type Probe struct {
	Root       fs.FS
	Getenv     func(string) string
	Hostname   func() (string, error)
	Executable func() (string, error)
	Pid        int
}

// DefaultProbe inspects the running system
func DefaultProbe() Probe {
	return Probe{
		Root:       os.DirFS("/"),
		Getenv:     os.Getenv,
		Hostname:   os.Hostname,
		Executable: os.Executable,
		Pid:        os.Getpid(),
	}
}

func (p Probe) read(name string) string {
	data, err := fs.ReadFile(p.Root, name)
	if err != nil {
		return ""
	}
	return string(data)
}

func (p Probe) exists(name string) bool {
	_, err := fs.Stat(p.Root, name)
	return err == nil
}

// Facts describes the server host
type Facts struct {
	Hostname       string           `json:"hostname"`
	OS             string           `json:"os"`
	Arch           string           `json:"arch"`
	Kernel         string           `json:"kernel,omitempty"`
	Environment    EnvironmentType  `json:"environment"`
	Runtime        ContainerRuntime `json:"runtime"`
	Virtualization string           `json:"virtualization,omitempty"`
	Namespace      string           `json:"namespace,omitempty"`
	Pod            string           `json:"pod,omitempty"`
	CPUs           int              `json:"cpus"`
	CPULimit       float64          `json:"cpu_limit,omitempty"`
	MemoryMB       int              `json:"memory_mb,omitempty"`
	MemoryLimitMB  int              `json:"memory_limit_mb,omitempty"`
	Pid            int              `json:"pid"`
	Exe            string           `json:"exe,omitempty"`
}

// Detect gathers facts. Missing sources leave fields empty.
func (p Probe) Detect() Facts {
	f := Facts{
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		Kernel:        strings.TrimSpace(p.read("proc/sys/kernel/osrelease")),
		CPUs:          runtime.NumCPU(),
		CPULimit:      p.cpuLimit(),
		MemoryMB:      p.memTotalMB(),
		MemoryLimitMB: p.memLimitMB(),
		Pid:           p.Pid,
	}
	if p.Hostname != nil {
		f.Hostname, _ = p.Hostname()
	}
	if p.Executable != nil {
		f.Exe, _ = p.Executable()
	}
	f.Runtime = p.detectRuntime()
	f.Virtualization = p.detectVM()
	f.Environment = inferEnvironmentType(f.Runtime, f.Virtualization)
	if f.Runtime == RuntimeKubernetes {
		f.Namespace, f.Pod = p.kubernetesNames()
	}
	return f
}

// ProcessID is the local id of the server process node
func (f Facts) ProcessID() domain.LocalID {
	return domain.LocalID("pid:" + strconv.Itoa(f.Pid))
}

// Fragment renders the facts as nodes and edges
func (f Facts) Fragment() *domain.GraphFragment {
	frag := domain.NewGraphFragment()

	host := map[string]string{
		domain.AttrHostname: f.Hostname,
		"os":                f.OS,
		"arch":              f.Arch,
		"environment":       string(f.Environment),
		"cpus":              strconv.Itoa(f.CPUs),
	}
	setIf(host, "kernel", f.Kernel)
	setIf(host, "virtualization", f.Virtualization)
	if f.MemoryMB > 0 {
		host["memory_mb"] = strconv.Itoa(f.MemoryMB)
	}
	frag.AddNode(domain.UpsertNode{ID: HostID, Kind: domain.NodeKindHost, Attrs: host})

	proc := map[string]string{"pid": strconv.Itoa(f.Pid)}
	setIf(proc, domain.AttrExe, f.Exe)
	frag.AddNode(domain.UpsertNode{ID: f.ProcessID(), Kind: domain.NodeKindProcess, Attrs: proc})

	runsOn := HostID
	if f.Runtime != RuntimeNone {
		ctr := map[string]string{"runtime": string(f.Runtime)}
		setIf(ctr, "namespace", f.Namespace)
		setIf(ctr, domain.AttrName, f.Pod)
		if f.CPULimit > 0 {
			ctr["cpu_limit"] = strconv.FormatFloat(f.CPULimit, 'f', 2, 64)
		}
		if f.MemoryLimitMB > 0 {
			ctr["memory_limit_mb"] = strconv.Itoa(f.MemoryLimitMB)
		}
		frag.AddNode(domain.UpsertNode{ID: ContainerID, Kind: domain.NodeKindContainer, Attrs: ctr})
		frag.AddEdge(domain.UpsertEdge{From: ContainerID, To: HostID, Kind: domain.EdgeKindRunsOn})
		runsOn = ContainerID
	}
	frag.AddEdge(domain.UpsertEdge{From: f.ProcessID(), To: runsOn, Kind: domain.EdgeKindRunsOn})
	return frag
}

func setIf(attrs map[string]string, key, value string) {
	if value != "" {
		attrs[key] = value
	}
}

// Seed detects the host, pins its nodes under source and queues the
// fragment for the next tick
func Seed(ctx context.Context, c *core.Core, source domain.NodeKey, p Probe, now time.Time, logger *slog.Logger) (Facts, error) {
	if source == "" {
		return Facts{}, errors.New("bootstrap: empty source key")
	}
	if logger == nil {
		logger = slog.Default()
	}
	start := time.Now()
	facts := p.Detect()
	frag := facts.Fragment()

	for _, n := range frag.Nodes {
		c.Pins().Pin(domain.GlobalID{Key: source, Local: n.ID})
	}
	if _, err := c.Import(ctx, source, frag, now); err != nil {
		return facts, fmt.Errorf("bootstrap: %w", err)
	}

	logger.Debug("seeded server host",
		"source", source,
		"hostname", facts.Hostname,
		"environment", facts.Environment,
		"runtime", facts.Runtime,
		"duration", time.Since(start))
	return facts, nil
}

// Keep seeds immediately and then every interval until ctx ends. Only the
// first seed's error is returned; later failures are logged.
func Keep(ctx context.Context, c *core.Core, source domain.NodeKey, p Probe, every time.Duration, now func() time.Time, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := Seed(ctx, c, source, p, now(), logger); err != nil {
		return err
	}
	if every <= 0 {
		return nil
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := Seed(ctx, c, source, p, now(), logger.With("refresh", true)); err != nil {
				logger.Warn("failed to refresh server host", "source", source, "error", err)
			}
		}
	}
}
