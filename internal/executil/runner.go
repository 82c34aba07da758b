package executil

import (
	"bytes"
	"errors"
	"os/exec"
	"strings"

	"provision-host/internal/logger"
)

// Runner executes an external program and returns its exit code along with the
// captured stdout and stderr. Arguments are always passed as a structured list;
// nothing here ever builds a shell command line, so package names and paths
// never need quoting.
//
// Every external interaction in this tool (package manager invocations,
// detection probes, verification probes) goes through a Runner, which lets
// tests substitute a fake and script the host's behavior.
type Runner interface {
	Run(program string, args ...string) (exitCode int, stdout string, stderr string)
}

// LookPath reports the location of a runnable command, mirroring exec.LookPath.
// It is injected wherever binary presence matters so tests can fake the PATH.
type LookPath func(name string) (string, error)

// SystemLookPath is the production LookPath backed by the real PATH.
var SystemLookPath LookPath = exec.LookPath

// ExecRunner is the production Runner backed by os/exec.
type ExecRunner struct{}

// Run executes program with args, blocking until it exits. A program that
// cannot be started at all (not found, not executable) reports exit code -1.
func (ExecRunner) Run(program string, args ...string) (int, string, string) {
	cmd := exec.Command(program, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger.Debug("[DEBUG] Running command: %s\n", strings.Join(cmd.Args, " "))

	err := cmd.Run()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			// Start failure, not a nonzero exit.
			logger.Debug("[DEBUG] Command %s could not be started: %v\n", program, err)
			code = -1
		}
	}
	return code, stdout.String(), stderr.String()
}
