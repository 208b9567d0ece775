package macro

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jordanella.com/natro-go/internal/logging"
	"jordanella.com/natro-go/internal/window"
)

// ProcessTable lists and terminates processes; window.SystemProcesses
// satisfies it
type ProcessTable interface {
	Processes() ([]window.Process, error)
	Exists(pid int32) (bool, error)
	Terminate(pid int32) error
}

// InstanceGuard finds other running copies of this executable
type InstanceGuard struct {
	procs   ProcessTable
	name    string
	selfPID int32
	wait    time.Duration
	logger  *logging.Logger
}

// NewInstanceGuard creates a guard for the running executable
func NewInstanceGuard(procs ProcessTable) *InstanceGuard {
	name := filepath.Base(os.Args[0])
	if exe, err := os.Executable(); err == nil {
		name = filepath.Base(exe)
	}
	return &InstanceGuard{
		procs:   procs,
		name:    name,
		selfPID: int32(os.Getpid()),
		wait:    5 * time.Second,
		logger:  logging.NewLogger("Instance"),
	}
}

// WithName overrides the executable name matched against
func (g *InstanceGuard) WithName(name string) *InstanceGuard {
	g.name = name
	return g
}

// WithSelf overrides the pid treated as this process
func (g *InstanceGuard) WithSelf(pid int32) *InstanceGuard {
	g.selfPID = pid
	return g
}

// WithWait sets how long Ensure waits for terminated instances to exit
func (g *InstanceGuard) WithWait(d time.Duration) *InstanceGuard {
	g.wait = d
	return g
}

func (g *InstanceGuard) WithLogger(logger *logging.Logger) *InstanceGuard {
	g.logger = logger
	return g
}

// Others returns the pids of other running instances
func (g *InstanceGuard) Others() ([]int32, error) {
	procs, err := g.procs.Processes()
	if err != nil {
		return nil, err
	}

	want := normalizeName(g.name)
	var pids []int32
	for _, p := range procs {
		if p.PID != g.selfPID && normalizeName(p.Name) == want {
			pids = append(pids, p.PID)
		}
	}
	return pids, nil
}

// Ensure makes this the only running instance. Other instances are
// terminated when terminate is set; otherwise their presence is an error.
func (g *InstanceGuard) Ensure(terminate bool) error {
	others, err := g.Others()
	if err != nil {
		return fmt.Errorf("failed to check running instances: %w", err)
	}
	if len(others) == 0 {
		return nil
	}
	if !terminate {
		return fmt.Errorf("%d other instance(s) already running: %v", len(others), others)
	}

	for _, pid := range others {
		g.logger.InfoWithContext("Terminating existing instance", map[string]interface{}{
			"pid": pid,
		})
		if err := g.procs.Terminate(pid); err != nil {
			// It may have exited on its own
			g.logger.WarnWithContext("Terminate failed", map[string]interface{}{
				"pid":   pid,
				"error": err.Error(),
			})
		}
	}

	deadline := time.Now().Add(g.wait)
	for {
		remaining := 0
		for _, pid := range others {
			if alive, err := g.procs.Exists(pid); err == nil && alive {
				remaining++
			}
		}
		if remaining == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%d instance(s) still running after %v", remaining, g.wait)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSuffix(strings.ToLower(name), ".exe"))
}
