package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/masyavpn/masyavpn/common"
)

// Reaper force-terminates engine processes left over from an earlier run,
// matched by image name.
type Reaper struct {
	// Images are executable names such as "xray.exe" or "tun2socks".
	Images []string

	// list enumerates candidate processes. It is replaced in tests.
	list func(ctx context.Context) ([]reapable, error)
}

// reapable is the part of *process.Process the reaper uses.
type reapable interface {
	NameWithContext(ctx context.Context) (string, error)
	KillWithContext(ctx context.Context) error
}

// NewReaper creates a Reaper for the given binary paths or names.
func NewReaper(binaries ...string) *Reaper {
	images := make([]string, 0, len(binaries))
	for _, b := range binaries {
		images = append(images, filepath.Base(b))
	}
	return &Reaper{Images: images, list: systemProcesses}
}

func systemProcesses(ctx context.Context) ([]reapable, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	self := int32(os.Getpid())
	out := make([]reapable, 0, len(procs))
	for _, p := range procs {
		if p.Pid != self {
			out = append(out, p)
		}
	}
	return out, nil
}

// Reap kills every running process whose name matches one of Images and
// returns how many were killed. Nothing found is the normal outcome.
// Failures are logged and never returned.
func (r *Reaper) Reap(ctx context.Context) int {
	procs, err := r.list(ctx)
	if err != nil {
		common.LogWarn("reaper: listing processes: %v", err)
		return 0
	}

	killed := 0
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || !r.matches(name) {
			continue
		}
		if err := p.KillWithContext(ctx); err != nil {
			if !errors.Is(err, os.ErrProcessDone) && !errors.Is(err, process.ErrorProcessNotRunning) {
				common.LogWarn("reaper: killing %s: %v", name, err)
			}
			continue
		}
		common.LogInfo("reaper: killed stray %s", name)
		killed++
	}

	if killed == 0 {
		common.LogDebug("reaper: no stray engine processes")
	}
	return killed
}

func (r *Reaper) matches(name string) bool {
	trimmed := strings.TrimSuffix(strings.ToLower(name), ".exe")
	for _, image := range r.Images {
		if trimmed == strings.TrimSuffix(strings.ToLower(image), ".exe") {
			return true
		}
	}
	return false
}

// Running returns how many processes match Images.
func (r *Reaper) Running(ctx context.Context) int {
	procs, err := r.list(ctx)
	if err != nil {
		common.LogWarn("reaper: listing processes: %v", err)
		return 0
	}

	n := 0
	for _, p := range procs {
		if name, err := p.NameWithContext(ctx); err == nil && r.matches(name) {
			n++
		}
	}
	return n
}
