package bootstrap

import (
	"strconv"
	"strings"
)

// memTotalMB reads MemTotal from /proc/meminfo
func (p Probe) memTotalMB() int {
	for _, line := range strings.Split(p.read("proc/meminfo"), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return int(kb / 1024)
	}
	return 0
}

// memLimitMB returns the cgroup memory limit, 0 when unlimited or unknown
func (p Probe) memLimitMB() int {
	// cgroup v2
	if s := strings.TrimSpace(p.read("sys/fs/cgroup/memory.max")); s != "" && s != "max" {
		if b, err := strconv.ParseInt(s, 10, 64); err == nil {
			return int(b / 1024 / 1024)
		}
	}
	// cgroup v1 reports "unlimited" as a huge number
	if s := strings.TrimSpace(p.read("sys/fs/cgroup/memory/memory.limit_in_bytes")); s != "" {
		if b, err := strconv.ParseInt(s, 10, 64); err == nil && b < 1<<62 {
			return int(b / 1024 / 1024)
		}
	}
	return 0
}

// cpuLimit returns the cgroup CPU quota in cores, 0 when unlimited
func (p Probe) cpuLimit() float64 {
	fields := strings.Fields(p.read("sys/fs/cgroup/cpu.max"))
	if len(fields) >= 2 && fields[0] != "max" {
		quota, err1 := strconv.ParseInt(fields[0], 10, 64)
		period, err2 := strconv.ParseInt(fields[1], 10, 64)
		if err1 == nil && err2 == nil && period > 0 {
			return float64(quota) / float64(period)
		}
	}
	q, err1 := strconv.ParseInt(strings.TrimSpace(p.read("sys/fs/cgroup/cpu/cpu.cfs_quota_us")), 10, 64)
	per, err2 := strconv.ParseInt(strings.TrimSpace(p.read("sys/fs/cgroup/cpu/cpu.cfs_period_us")), 10, 64)
	if err1 == nil && err2 == nil && q > 0 && per > 0 {
		return float64(q) / float64(per)
	}
	return 0
}
