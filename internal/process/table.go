package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"golang.org/x/sys/unix"
)

// commLen is the kernel's limit on /proc/<pid>/comm (TASK_COMM_LEN - 1).
const commLen = 15

// Proc is one entry of the OS process table.
type Proc struct {
	PID  int
	Name string
}

// Table looks up running processes by name. The process table is
// host-global: results are a point-in-time snapshot.
type Table interface {
	Find(name string) ([]Proc, error)
}

// ProcTable scans a procfs mount.
type ProcTable struct {
	Root string // default "/proc"
}

// NewProcTable returns a table reading /proc.
func NewProcTable() *ProcTable {
	return &ProcTable{Root: "/proc"}
}

// Find returns all processes whose comm, exe basename or argv[0]
// basename equals name, ordered by PID. The caller's own PID is skipped.
func (t *ProcTable) Find(name string) ([]Proc, error) {
	if name == "" {
		return nil, errors.New("empty process name")
	}
	root := t.Root
	if root == "" {
		root = "/proc"
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}

	self := os.Getpid()
	comm := name
	if len(comm) > commLen {
		comm = comm[:commLen]
	}

	var out []Proc
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 || pid == self {
			continue
		}
		dir := filepath.Join(root, e.Name())

		if exe, _ := os.Readlink(filepath.Join(dir, "exe")); exe != "" && filepath.Base(exe) == name {
			out = append(out, Proc{PID: pid, Name: name})
			continue
		}

		// exe is unreadable for other users' processes; argv[0] is not
		if cmdline, _ := os.ReadFile(filepath.Join(dir, "cmdline")); len(cmdline) > 0 {
			argv0, _, _ := bytes.Cut(cmdline, []byte{0})
			if filepath.Base(string(argv0)) == name {
				out = append(out, Proc{PID: pid, Name: name})
				continue
			}
			// Process has a command line that does not match: a long name
			// sharing the same comm prefix must not count.
			if len(name) > commLen {
				continue
			}
		}

		c, _ := os.ReadFile(filepath.Join(dir, "comm"))
		if string(bytes.TrimRight(c, "\n")) == comm {
			out = append(out, Proc{PID: pid, Name: name})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out, nil
}

// Exists reports whether pid is still present in the process table.
func Exists(pid int) bool {
	_, err := os.Stat(filepath.Join("/proc", strconv.Itoa(pid)))
	if err == nil {
		return true
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false
	}
	// Transient error: fall back to signal 0
	err = unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// Kill sends SIGKILL to p. Privileged kills go through the executor so
// they can reach root-owned processes. A process that is already gone
// is not an error.
func Kill(ctx context.Context, exec Executor, p Proc, privileged bool) error {
	if !privileged {
		if err := unix.Kill(p.PID, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			return fmt.Errorf("kill %s[%d]: %w", p.Name, p.PID, err)
		}
		return nil
	}

	err := exec.Run(ctx, Command{
		Name:       "kill",
		Path:       "kill",
		Args:       []string{"-9", strconv.Itoa(p.PID)},
		Privileged: true,
	})
	if err != nil && Exists(p.PID) {
		return fmt.Errorf("kill %s[%d]: %w", p.Name, p.PID, err)
	}
	return nil
}
