//go:build linux

package status

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

type cpuSample struct {
	busy  uint64
	total uint64
}

// LinuxProber reads host usage from /proc and syscalls. CPU usage is the
// busy fraction between two /proc/stat samples, so the prober keeps the
// previous sample between probes.
type LinuxProber struct {
	diskPath string

	mu   sync.Mutex
	prev cpuSample
}

// NewProber creates the host resource prober. diskPath selects the
// filesystem whose usage is reported; empty means the root filesystem.
func NewProber(diskPath string) *LinuxProber {
	if diskPath == "" {
		diskPath = "/"
	}
	return &LinuxProber{diskPath: diskPath}
}

// Probe returns current CPU, memory and disk usage percentages.
func (p *LinuxProber) Probe(ctx context.Context) (*Resources, error) {
	cpu, err := p.cpuUsage(ctx)
	if err != nil {
		return nil, err
	}
	mem, err := memoryUsage()
	if err != nil {
		return nil, err
	}
	disk, err := diskUsage(p.diskPath)
	if err != nil {
		return nil, err
	}
	return &Resources{CPU: cpu, Memory: mem, Disk: disk}, nil
}

// cpuUsage computes the busy fraction since the previous probe. The first
// probe has no baseline, so it takes a short second sample.
func (p *LinuxProber) cpuUsage(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cur, err := readCPUSample()
	if err != nil {
		return 0, err
	}

	if p.prev.total == 0 {
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		p.prev = cur
		if cur, err = readCPUSample(); err != nil {
			return 0, err
		}
	}

	deltaTotal := cur.total - p.prev.total
	deltaBusy := cur.busy - p.prev.busy
	p.prev = cur

	if deltaTotal == 0 {
		return 0, nil
	}
	return float64(deltaBusy) / float64(deltaTotal) * 100, nil
}

func readCPUSample() (cpuSample, error) {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return cpuSample{}, fmt.Errorf("failed to read cpu stats: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		var sample cpuSample
		for i, field := range fields[1:] {
			v, err := strconv.ParseUint(field, 10, 64)
			if err != nil {
				return cpuSample{}, fmt.Errorf("failed to parse cpu stats: %w", err)
			}
			sample.total += v
			// Fields 4 and 5 are idle and iowait.
			if i != 3 && i != 4 {
				sample.busy += v
			}
		}
		return sample, nil
	}
	return cpuSample{}, fmt.Errorf("cpu line not found in /proc/stat")
}

func memoryUsage() (float64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("failed to read memory stats: %w", err)
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	total := info.Totalram * unit
	if total == 0 {
		return 0, nil
	}
	used := total - (info.Freeram+info.Bufferram)*unit
	return float64(used) / float64(total) * 100, nil
}

func diskUsage(path string) (float64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("failed to read disk stats for %s: %w", path, err)
	}
	total := stat.Blocks
	if total == 0 {
		return 0, nil
	}
	used := stat.Blocks - stat.Bfree
	return float64(used) / float64(total) * 100, nil
}
