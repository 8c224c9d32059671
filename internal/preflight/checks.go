// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/mbi-div-b/go-moench-control/internal/config"
)

// Descriptors needed by the receiver pipes, the stream socket, the
// metrics server and the recorder, with headroom.
const requiredFDs = 256

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// RunAll executes all preflight checks for cfg.
func RunAll(cfg *config.Config) *Result {
	result := &Result{
		Checks: make([]Check, 0, 8),
		Passed: true,
	}

	result.add(checkFileDescriptors(requiredFDs))

	result.add(checkExecutable("receiver_binary", cfg.ExecutablesPath, cfg.ReceiverBinary))
	if cfg.Backend == config.BackendSimulated {
		result.add(checkExecutable("simulator_binary", cfg.ExecutablesPath, cfg.SimulatorBinary))
	}
	if cfg.ProcessingBinary != "" {
		result.add(checkExecutable("processing_binary", cfg.ExecutablesPath, cfg.ProcessingBinary))
	}
	result.add(checkExecutable("sls_detector_get", cfg.ExecutablesPath, "sls_detector_get"))
	result.add(checkExecutable("sls_detector_put", cfg.ExecutablesPath, "sls_detector_put"))

	result.add(checkDetectorConfig(cfg.ConfigFile()))
	result.add(checkCredential(cfg))

	// Warnings only
	if cfg.NetworkInterface != "" {
		result.add(checkInterface("/sys/class/net", cfg.NetworkInterface))
	}
	if cfg.FileWrite && cfg.FilePath != "" {
		result.add(checkOutputDir(cfg.FilePath))
	}

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(required int) Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to read limit: %v", err),
		}
	}

	actual := int(limit.Cur)
	if limit.Cur > uint64(1<<31-1) {
		actual = 1<<31 - 1
	}
	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, required),
	}
}

// checkExecutable verifies that name, resolved against dir, is an
// executable file.
func checkExecutable(check, dir, name string) Check {
	path := name
	if dir != "" && !filepath.IsAbs(name) {
		path = filepath.Join(dir, name)
	}

	info, err := os.Stat(path)
	if err != nil {
		return Check{
			Name:    check,
			Passed:  false,
			Message: fmt.Sprintf("not found at %s", path),
		}
	}
	if info.IsDir() || info.Mode().Perm()&0o111 == 0 {
		return Check{
			Name:    check,
			Passed:  false,
			Message: fmt.Sprintf("%s is not executable", path),
		}
	}
	return Check{
		Name:    check,
		Passed:  true,
		Message: fmt.Sprintf("found at %s", path),
	}
}

// checkDetectorConfig verifies the detector config file is readable.
func checkDetectorConfig(path string) Check {
	f, err := os.Open(path)
	if err != nil {
		return Check{
			Name:    "detector_config",
			Passed:  false,
			Message: fmt.Sprintf("cannot read %s: %v", path, err),
		}
	}
	f.Close()
	return Check{
		Name:    "detector_config",
		Passed:  true,
		Message: path,
	}
}

// checkCredential reports whether a privilege credential is configured.
// The receiver and interface bring-up need it unless sudo is passwordless.
func checkCredential(cfg *config.Config) Check {
	cred, err := cfg.Credential()
	if err != nil {
		return Check{
			Name:    "credential",
			Passed:  false,
			Message: err.Error(),
		}
	}
	if cred == "" {
		return Check{
			Name:    "credential",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("none set (%s empty); sudo must not prompt", cfg.CredentialEnv),
		}
	}
	return Check{
		Name:    "credential",
		Passed:  true,
		Message: "configured",
	}
}

// checkInterface looks the interface up under sysfs.
func checkInterface(sysfs, name string) Check {
	data, err := os.ReadFile(filepath.Join(sysfs, name, "operstate"))
	if err != nil {
		return Check{
			Name:    "network_interface",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("%s not found", name),
		}
	}
	state := strings.TrimSpace(string(data))
	return Check{
		Name:    "network_interface",
		Passed:  true,
		Warning: state != "up",
		Message: fmt.Sprintf("%s is %s", name, state),
	}
}

// checkOutputDir warns when the output directory cannot be created or
// written by this user. The receiver may still write it with privilege.
func checkOutputDir(dir string) Check {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{
			Name:    "output_dir",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("cannot create %s: %v", dir, err),
		}
	}
	if err := unix.Access(dir, unix.W_OK); err != nil {
		return Check{
			Name:    "output_dir",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("%s not writable: %v", dir, err),
		}
	}
	return Check{
		Name:    "output_dir",
		Passed:  true,
		Message: dir,
	}
}

// PrintResults prints the preflight check results to stdout.
func PrintResults(result *Result) {
	fmt.Println("Preflight checks:")
	for _, check := range result.Checks {
		fmt.Println(check.String())
		if !check.Passed {
			fmt.Printf("    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Println()
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 4096 (or edit /etc/security/limits.conf)"
	case "receiver_binary", "simulator_binary", "processing_binary", "sls_detector_get", "sls_detector_put":
		return "build slsDetectorPackage or set executables_path"
	case "detector_config":
		return "set hardware_config / simulated_config"
	case "credential":
		return "check credential_file, or export the variable named by credential_env"
	default:
		return "see documentation"
	}
}
