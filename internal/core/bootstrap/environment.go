package bootstrap

import (
	"strings"
)

// EnvironmentType represents the broad category of deployment
type EnvironmentType string

const (
	EnvTypeBareMetal     EnvironmentType = "bare_metal"
	EnvTypeVM            EnvironmentType = "vm"
	EnvTypeContainerized EnvironmentType = "containerized"
)

// ContainerRuntime represents specific container runtime
type ContainerRuntime string

const (
	RuntimeNone       ContainerRuntime = "none"
	RuntimeDocker     ContainerRuntime = "docker"
	RuntimeKubernetes ContainerRuntime = "kubernetes"
	RuntimePodman     ContainerRuntime = "podman"
	RuntimeContainerd ContainerRuntime = "containerd"
	RuntimeCRIO       ContainerRuntime = "cri-o"
	RuntimeLXC        ContainerRuntime = "lxc"
)

// cgroupMarkers maps /proc/1/cgroup substrings to runtimes, most specific
// first
var cgroupMarkers = []struct {
	runtime ContainerRuntime
	markers []string
}{
	{RuntimeKubernetes, []string{"kubepods"}},
	{RuntimeCRIO, []string{"crio-", "/crio/"}},
	{RuntimeContainerd, []string{"containerd-", "/containerd/"}},
	{RuntimePodman, []string{"libpod-", "/libpod/"}},
	{RuntimeDocker, []string{"docker-", "/docker/"}},
	{RuntimeLXC, []string{"/lxc/", "lxc.payload"}},
}

// vmIndicators maps DMI product names to hypervisors
var vmIndicators = []struct{ indicator, name string }{
	{"VirtualBox", "virtualbox"},
	{"VMware", "vmware"},
	{"KVM", "kvm"},
	{"QEMU", "qemu"},
	{"Hyper-V", "hyperv"},
	{"Bochs", "bochs"},
	{"Parallels", "parallels"},
	{"Virtual Machine", "unknown_hypervisor"},
}

// detectRuntime returns the container runtime the process runs under
func (p Probe) detectRuntime() ContainerRuntime {
	if p.Getenv("KUBERNETES_SERVICE_HOST") != "" || p.exists("var/run/secrets/kubernetes.io/serviceaccount/token") {
		return RuntimeKubernetes
	}
	if cgroup := p.read("proc/1/cgroup"); cgroup != "" {
		for _, m := range cgroupMarkers {
			for _, marker := range m.markers {
				if strings.Contains(cgroup, marker) {
					return m.runtime
				}
			}
		}
	}
	switch p.Getenv("container") {
	case "podman":
		return RuntimePodman
	case "lxc":
		return RuntimeLXC
	}
	if p.exists("run/.containerenv") {
		return RuntimePodman
	}
	if p.exists(".dockerenv") {
		return RuntimeDocker
	}
	return RuntimeNone
}

// detectVM names the hypervisor, or "" on bare metal
func (p Probe) detectVM() string {
	if product := strings.TrimSpace(p.read("sys/class/dmi/id/product_name")); product != "" {
		for _, vm := range vmIndicators {
			if strings.Contains(product, vm.indicator) {
				return vm.name
			}
		}
	}
	if strings.Contains(p.read("proc/cpuinfo"), "hypervisor") {
		return "hypervisor_detected"
	}
	return ""
}

// kubernetesNames returns the namespace and pod name when known
func (p Probe) kubernetesNames() (namespace, pod string) {
	namespace = strings.TrimSpace(p.read("var/run/secrets/kubernetes.io/serviceaccount/namespace"))
	pod = p.Getenv("POD_NAME")
	return namespace, pod
}

func inferEnvironmentType(rt ContainerRuntime, vm string) EnvironmentType {
	switch {
	case rt != RuntimeNone:
		return EnvTypeContainerized
	case vm != "":
		return EnvTypeVM
	default:
		return EnvTypeBareMetal
	}
}
