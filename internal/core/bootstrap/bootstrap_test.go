package bootstrap

import (
	"context"
	"errors"
	"testing"
	"testing/fstest"
	"time"

	"spacegraph/internal/core"
	"spacegraph/internal/domain"
	"spacegraph/internal/gc"
)

func testProbe(files fstest.MapFS, env map[string]string) Probe {
	return Probe{
		Root:       files,
		Getenv:     func(k string) string { return env[k] },
		Hostname:   func() (string, error) { return "web-1", nil },
		Executable: func() (string, error) { return "/usr/bin/spacegraph", nil },
		Pid:        42,
	}
}

func file(s string) *fstest.MapFile {
	return &fstest.MapFile{Data: []byte(s)}
}

func TestDetectEnvironment(t *testing.T) {
	tests := []struct {
		name    string
		files   fstest.MapFS
		env     map[string]string
		runtime ContainerRuntime
		envType EnvironmentType
		vm      string
	}{
		{
			name:    "bare metal",
			files:   fstest.MapFS{},
			runtime: RuntimeNone,
			envType: EnvTypeBareMetal,
		},
		{
			name:    "docker marker",
			files:   fstest.MapFS{".dockerenv": file("")},
			runtime: RuntimeDocker,
			envType: EnvTypeContainerized,
		},
		{
			name:    "containerd cgroup",
			files:   fstest.MapFS{"proc/1/cgroup": file("0::/system.slice/containerd-abc.scope\n")},
			runtime: RuntimeContainerd,
			envType: EnvTypeContainerized,
		},
		{
			name:    "kubernetes env wins over docker cgroup",
			files:   fstest.MapFS{"proc/1/cgroup": file("0::/docker/abc\n")},
			env:     map[string]string{"KUBERNETES_SERVICE_HOST": "10.0.0.1"},
			runtime: RuntimeKubernetes,
			envType: EnvTypeContainerized,
		},
		{
			name:    "podman env",
			files:   fstest.MapFS{},
			env:     map[string]string{"container": "podman"},
			runtime: RuntimePodman,
			envType: EnvTypeContainerized,
		},
		{
			name:    "kvm guest",
			files:   fstest.MapFS{"sys/class/dmi/id/product_name": file("KVM\n")},
			runtime: RuntimeNone,
			envType: EnvTypeVM,
			vm:      "kvm",
		},
		{
			name:    "hypervisor flag",
			files:   fstest.MapFS{"proc/cpuinfo": file("flags : fpu hypervisor\n")},
			runtime: RuntimeNone,
			envType: EnvTypeVM,
			vm:      "hypervisor_detected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := testProbe(tt.files, tt.env).Detect()
			if f.Runtime != tt.runtime {
				t.Errorf("Runtime = %v, want %v", f.Runtime, tt.runtime)
			}
			if f.Environment != tt.envType {
				t.Errorf("Environment = %v, want %v", f.Environment, tt.envType)
			}
			if f.Virtualization != tt.vm {
				t.Errorf("Virtualization = %q, want %q", f.Virtualization, tt.vm)
			}
		})
	}
}

func TestDetectResources(t *testing.T) {
	p := testProbe(fstest.MapFS{
		"proc/meminfo":              file("MemTotal:       16384000 kB\nMemFree: 1 kB\n"),
		"sys/fs/cgroup/memory.max":  file("536870912\n"),
		"sys/fs/cgroup/cpu.max":     file("150000 100000\n"),
		"proc/sys/kernel/osrelease": file("6.1.0\n"),
	}, nil)

	f := p.Detect()
	if f.MemoryMB != 16000 {
		t.Errorf("MemoryMB = %d, want 16000", f.MemoryMB)
	}
	if f.MemoryLimitMB != 512 {
		t.Errorf("MemoryLimitMB = %d, want 512", f.MemoryLimitMB)
	}
	if f.CPULimit != 1.5 {
		t.Errorf("CPULimit = %v, want 1.5", f.CPULimit)
	}
	if f.Kernel != "6.1.0" {
		t.Errorf("Kernel = %q, want 6.1.0", f.Kernel)
	}
}

func TestUnlimitedCgroup(t *testing.T) {
	p := testProbe(fstest.MapFS{
		"sys/fs/cgroup/memory.max": file("max\n"),
		"sys/fs/cgroup/cpu.max":    file("max 100000\n"),
	}, nil)
	f := p.Detect()
	if f.MemoryLimitMB != 0 || f.CPULimit != 0 {
		t.Errorf("limits = %d MB, %v cpus, want none", f.MemoryLimitMB, f.CPULimit)
	}
}

func TestFragment(t *testing.T) {
	t.Run("bare host", func(t *testing.T) {
		frag := testProbe(fstest.MapFS{}, nil).Detect().Fragment()
		if len(frag.Nodes) != 2 || len(frag.Edges) != 1 {
			t.Fatalf("got %d nodes, %d edges, want 2 and 1", len(frag.Nodes), len(frag.Edges))
		}
		if frag.Nodes[0].Attrs[domain.AttrHostname] != "web-1" {
			t.Errorf("hostname = %q", frag.Nodes[0].Attrs[domain.AttrHostname])
		}
		e := frag.Edges[0]
		if e.From != "pid:42" || e.To != HostID || e.Kind != domain.EdgeKindRunsOn {
			t.Errorf("edge = %+v", e)
		}
	})

	t.Run("kubernetes pod", func(t *testing.T) {
		files := fstest.MapFS{
			"var/run/secrets/kubernetes.io/serviceaccount/token":     file("x"),
			"var/run/secrets/kubernetes.io/serviceaccount/namespace": file("obs\n"),
		}
		frag := testProbe(files, map[string]string{"POD_NAME": "spacegraph-0"}).Detect().Fragment()
		if len(frag.Nodes) != 3 || len(frag.Edges) != 2 {
			t.Fatalf("got %d nodes, %d edges, want 3 and 2", len(frag.Nodes), len(frag.Edges))
		}
		ctr := frag.Nodes[2]
		if ctr.Kind != domain.NodeKindContainer || ctr.Attrs["namespace"] != "obs" || ctr.Attrs["name"] != "spacegraph-0" {
			t.Errorf("container = %+v", ctr)
		}
		if frag.Edges[1].To != ContainerID {
			t.Errorf("process runs on %q, want container", frag.Edges[1].To)
		}
	})
}

func TestSeedPinsHost(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := core.New(core.Options{
		GC:               gc.Policy{TTL: time.Second, Grace: time.Second},
		TimelineCapacity: 100,
		QueueCapacity:    64,
	}, core.Deps{Now: func() time.Time { return t0 }})
	ctx := context.Background()

	facts, err := Seed(ctx, c, "self", testProbe(fstest.MapFS{}, nil), t0, nil)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if facts.Hostname != "web-1" {
		t.Errorf("Hostname = %q", facts.Hostname)
	}
	c.Tick(ctx, t0)
	c.Sweep(ctx, t0.Add(time.Hour))
	c.Sweep(ctx, t0.Add(2*time.Hour))

	host := domain.GlobalID{Key: "self", Local: HostID}
	n, err := c.Node(host)
	if err != nil {
		t.Fatalf("pinned host was purged: %v", err)
	}
	if !n.Tombstoned() {
		t.Fatal("unrefreshed host should expire")
	}

	// a refresh revives the tombstoned host
	later := t0.Add(2 * time.Hour)
	if _, err := Seed(ctx, c, "self", testProbe(fstest.MapFS{}, nil), later, nil); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	c.Tick(ctx, later)
	n, err = c.Node(host)
	if err != nil {
		t.Fatalf("Node: %v", err)
	}
	if n.Tombstoned() {
		t.Error("refreshed host is still tombstoned")
	}
	label, _ := c.Label(host)
	if label != "web-1" {
		t.Errorf("label = %q, want web-1", label)
	}

	if _, err := Seed(ctx, c, "bad/key", testProbe(fstest.MapFS{}, nil), t0, nil); !errors.Is(err, domain.ErrInvalidID) {
		t.Errorf("bad key error = %v, want ErrInvalidID", err)
	}
}

func TestKeepStopsOnCancel(t *testing.T) {
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := core.New(core.Options{TimelineCapacity: 100, QueueCapacity: 4096}, core.Deps{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Keep(ctx, c, "self", testProbe(fstest.MapFS{}, nil), time.Millisecond, func() time.Time { return t0 }, nil)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Keep returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Keep did not stop")
	}
	if c.Registry().Depth() == 0 {
		t.Error("nothing was queued")
	}
}
