package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

// fakeProc writes a procfs entry under root.
func fakeProc(t *testing.T, root string, pid int, comm, exe, cmdline string) {
	t.Helper()
	dir := filepath.Join(root, strconv.Itoa(pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "comm"), []byte(comm+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if cmdline != "" {
		if err := os.WriteFile(filepath.Join(dir, "cmdline"), []byte(cmdline), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if exe != "" {
		if err := os.Symlink(exe, filepath.Join(dir, "exe")); err != nil {
			t.Fatal(err)
		}
	}
}

func TestProcTable_Find(t *testing.T) {
	root := t.TempDir()
	fakeProc(t, root, 300, "slsReceiver", "/opt/sls/bin/slsReceiver", "/opt/sls/bin/slsReceiver\x00-t\x001954\x00")
	fakeProc(t, root, 120, "slsReceiver", "", "")
	fakeProc(t, root, 410, "moenchDetectorS", "", "./moenchDetectorServer_virtual\x00")
	fakeProc(t, root, 411, "moenchDetectorS", "", "./moenchDetectorServer_other\x00")
	fakeProc(t, root, 500, "sudo", "", "sudo\x00-S\x00slsReceiver\x00")
	fakeProc(t, root, 600, "bash", "", "bash\x00")
	if err := os.MkdirAll(filepath.Join(root, "self"), 0o755); err != nil {
		t.Fatal(err)
	}

	table := &ProcTable{Root: root}

	testCases := []struct {
		name string
		want []int
	}{
		{"slsReceiver", []int{120, 300}},
		{"moenchDetectorServer_virtual", []int{410}},
		{"moench04ZmqProcess", nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			procs, err := table.Find(tc.name)
			if err != nil {
				t.Fatalf("Find: %v", err)
			}
			if len(procs) != len(tc.want) {
				t.Fatalf("Find(%q) = %v, want PIDs %v", tc.name, procs, tc.want)
			}
			for i, p := range procs {
				if p.PID != tc.want[i] {
					t.Errorf("procs[%d].PID = %d, want %d", i, p.PID, tc.want[i])
				}
			}
		})
	}
}

func TestProcTable_Errors(t *testing.T) {
	if _, err := (&ProcTable{Root: t.TempDir()}).Find(""); err == nil {
		t.Error("expected error for empty name")
	}
	if _, err := (&ProcTable{Root: filepath.Join(t.TempDir(), "missing")}).Find("x"); err == nil {
		t.Error("expected error for missing procfs")
	}
}

func TestProcTable_FindsSelfSpawnedChild(t *testing.T) {
	e := NewSudoExecutor("", newTestLogger(), false)
	sp, err := e.Start(context.Background(), Command{Name: "sleep", Path: "/bin/sleep", Args: []string{"30"}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	procs, err := NewProcTable().Find("sleep")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	found := false
	for _, p := range procs {
		if p.PID == sp.PID {
			found = true
		}
	}
	if !found {
		t.Errorf("spawned pid %d not in %v", sp.PID, procs)
	}

	if err := Kill(context.Background(), e, Proc{PID: sp.PID, Name: "sleep"}, false); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	select {
	case <-sp.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process survived SIGKILL")
	}

	// Second kill of a reaped process is a no-op
	if err := Kill(context.Background(), e, Proc{PID: sp.PID, Name: "sleep"}, false); err != nil {
		t.Errorf("second Kill: %v", err)
	}
}

// failingExecutor fails every command.
type failingExecutor struct {
	calls []Command
}

func (f *failingExecutor) Run(_ context.Context, c Command) error {
	f.calls = append(f.calls, c)
	return errors.New("kill: no such process")
}

func (f *failingExecutor) Output(ctx context.Context, c Command) ([]byte, error) {
	return nil, f.Run(ctx, c)
}

func (f *failingExecutor) Start(ctx context.Context, c Command) (*Spawned, error) {
	return nil, f.Run(ctx, c)
}

func TestKill_PrivilegedGoneProcess(t *testing.T) {
	exec := &failingExecutor{}

	// PID above pid_max never exists
	err := Kill(context.Background(), exec, Proc{PID: 99999999, Name: "slsReceiver"}, true)
	if err != nil {
		t.Errorf("Kill of absent process = %v, want nil", err)
	}
	if len(exec.calls) != 1 || !exec.calls[0].Privileged || exec.calls[0].Args[1] != "99999999" {
		t.Errorf("unexpected calls: %+v", exec.calls)
	}
}

func TestExists(t *testing.T) {
	if !Exists(os.Getpid()) {
		t.Error("own pid should exist")
	}
	if Exists(99999999) {
		t.Error("pid above pid_max should not exist")
	}
}
