package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewRootCmd_Subcommands(t *testing.T) {
	root := NewRootCmd()

	for _, path := range [][]string{
		{"run"},
		{"backend", "start"},
		{"backend", "stop"},
		{"backend", "status"},
		{"frames"},
		{"preflight"},
		{"status"},
		{"version"},
	} {
		cmd, _, err := root.Find(path)
		if err != nil || cmd.Name() != path[len(path)-1] {
			t.Errorf("Find(%v) = %v, %v", path, cmd, err)
		}
	}
}

func TestNewRootCmd_CredentialIsNotAFlag(t *testing.T) {
	root := NewRootCmd()
	for _, name := range []string{"password", "credential", "root-password"} {
		if root.PersistentFlags().Lookup(name) != nil {
			t.Errorf("flag --%s must not exist", name)
		}
	}
}

func TestRootCmd_ValidationError(t *testing.T) {
	root := NewRootCmd()
	root.SetArgs([]string{"preflight", "--backend", "bogus"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "backend") {
		t.Errorf("Execute() error = %v, want backend validation error", err)
	}
}

func TestApp_ResolveConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "moench.yaml")
	doc := "backend: simulated\nreceiver_port: 2000\npedestal_frames: 100\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	root := NewRootCmd()
	cmd, _, err := root.Find([]string{"preflight"})
	if err != nil {
		t.Fatal(err)
	}
	if err := cmd.ParseFlags([]string{"--config", path, "--receiver-port", "3000"}); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}

	if err := root.PersistentPreRunE(cmd, nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	port, _ := cmd.Flags().GetInt("receiver-port")
	if port != 3000 {
		t.Errorf("receiver-port = %d, want 3000 (flag beats file)", port)
	}
	frames, _ := cmd.Flags().GetInt("pedestal-frames")
	if frames != 100 {
		t.Errorf("pedestal-frames = %d, want 100 from file", frames)
	}
	backend, _ := cmd.Flags().GetString("backend")
	if backend != "simulated" {
		t.Errorf("backend = %q, want simulated", backend)
	}
}
