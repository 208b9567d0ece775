package window

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// SystemProcesses lists processes through gopsutil
type SystemProcesses struct{}

// Processes returns every running process whose name can be read
func (SystemProcesses) Processes() ([]Process, error) {
	procs, err := process.Processes()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	out := make([]Process, 0, len(procs))
	for _, p := range procs {
		name, err := p.Name()
		if err != nil || name == "" {
			// Exited between listing and lookup, or not ours to inspect
			continue
		}
		out = append(out, Process{PID: p.Pid, Name: name})
	}
	return out, nil
}

// Exists reports whether pid is still running
func (SystemProcesses) Exists(pid int32) (bool, error) {
	ok, err := process.PidExists(pid)
	if err != nil {
		return false, fmt.Errorf("failed to check pid %d: %w", pid, err)
	}
	return ok, nil
}

// Terminate asks a process to exit
func (SystemProcesses) Terminate(pid int32) error {
	p, err := process.NewProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to open pid %d: %w", pid, err)
	}
	if err := p.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate pid %d: %w", pid, err)
	}
	return nil
}
