package manifest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	osexec "os/exec"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/flanksource/commons/logger"
	"github.com/flanksource/gomplate/v3"
)

// Result is the outcome of one command.
type Result struct {
	Command  string        `json:"command"`
	Stdout   string        `json:"stdout,omitempty"`
	Stderr   string        `json:"stderr,omitempty"`
	ExitCode int           `json:"exitCode"`
	Duration time.Duration `json:"duration"`
}

// AsMap exposes the result to CEL. Stdout that looks like JSON is also
// decoded under "json".
func (r Result) AsMap() map[string]any {
	m := map[string]any{
		"output":   r.Stdout,
		"stdout":   r.Stdout,
		"stderr":   r.Stderr,
		"exitCode": r.ExitCode,
	}
	trimmed := strings.TrimSpace(r.Stdout)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var data any
		if err := json.Unmarshal([]byte(trimmed), &data); err == nil {
			m["json"] = data
		}
	}
	return m
}

// killGrace keeps a command alive slightly past its context deadline, so
// the deadline is reported as a timeout before the process is killed. It
// also bounds how long output is drained once bash has exited.
const killGrace = 500 * time.Millisecond

// shell runs templated bash scripts in one directory.
type shell struct {
	dir string
	env map[string]string
}

// render expands a gomplate template against data. A reference to a value
// that is not in data is an error; a fixture that was gated off renders as an
// empty string.
func render(script string, data map[string]any) (string, error) {
	if !strings.Contains(script, "{{") {
		return script, nil
	}
	values := templateData(data)
	for k, v := range values {
		if v == nil {
			values[k] = ""
		}
	}
	out, err := gomplate.RunTemplate(values, gomplate.Template{Template: script})
	if err != nil {
		return "", fmt.Errorf("failed to template %q: %w", script, err)
	}
	if strings.Contains(out, noValue) && !strings.Contains(script, noValue) {
		return "", fmt.Errorf("failed to template %q: references a value that is not defined", script)
	}
	return out, nil
}

// noValue is what text/template prints for a missing map key.
const noValue = "<no value>"

// exports prefixes script with the shell's environment.
func (s shell) exports() string {
	if len(s.env) == 0 {
		return ""
	}
	keys := make([]string, 0, len(s.env))
	for k := range s.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "export %s='%s'\n", k, strings.ReplaceAll(s.env[k], "'", `'\''`))
	}
	return b.String()
}

// exec renders script against data and runs it with bash. A non-zero exit
// code is not an error: it is left to the caller's expectation. The command
// runs in its own process group, which is killed when ctx is cancelled, or
// killGrace after its deadline (or timeout) passes.
func (s shell) exec(ctx context.Context, script string, data map[string]any, timeout time.Duration) (Result, error) {
	rendered, err := render(script, data)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{Command: rendered}, err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger.V(3).Infof("exec: %s", rendered)
	var stdout, stderr bytes.Buffer
	cmd := osexec.Command("bash", "-c", s.exports()+rendered)
	cmd.Dir = s.dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = killGrace

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{Command: rendered}, fmt.Errorf("failed to run %q: %w", rendered, err)
	}

	exited := make(chan struct{})
	var killed atomic.Bool
	stop := context.AfterFunc(ctx, func() {
		select {
		case <-exited:
			return
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			select {
			case <-exited:
				return
			case <-time.After(killGrace):
			}
		}
		killed.Store(true)
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	})
	waitErr := cmd.Wait()
	close(exited)
	stop()

	result := Result{
		Command:  rendered,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		result.ExitCode = cmd.ProcessState.ExitCode()
	}
	if killed.Load() {
		return result, fmt.Errorf("%q interrupted after %s: %w", rendered, result.Duration.Round(time.Millisecond), ctx.Err())
	}
	var exitErr *osexec.ExitError
	if waitErr != nil && !errors.As(waitErr, &exitErr) {
		return result, fmt.Errorf("failed to run %q: %w", rendered, waitErr)
	}
	logger.V(4).Infof("exit=%d stdout=%s stderr=%s", result.ExitCode, result.Stdout, result.Stderr)
	return result, nil
}

// check runs c and verifies its expectation, returning the result either way.
func (s shell) check(ctx context.Context, c Command, data map[string]any) (Result, error) {
	result, err := s.exec(ctx, c.Run, data, c.Timeout.Std())
	if err != nil {
		return result, err
	}
	ok, err := expect(c.Expect, result, data)
	if err != nil {
		return result, err
	}
	if !ok {
		return result, &ExpectationError{Expect: expectation(c.Expect), Result: result}
	}
	return result, nil
}

// ExpectationError reports a command whose outcome did not satisfy its expectation.
type ExpectationError struct {
	Expect string
	Result Result
}

func (e *ExpectationError) Error() string {
	msg := fmt.Sprintf("expected %s, got exit code %d", e.Expect, e.Result.ExitCode)
	if stderr := strings.TrimSpace(e.Result.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}
