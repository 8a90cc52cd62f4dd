package hooks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-logr/logr"
)

// HookFailure is a provisioning script that did not exit 0. Session start must be aborted.
type HookFailure struct {
	Hook     string
	ExitCode int
	Err      error
}

func (e *HookFailure) Error() string {
	if e.ExitCode >= 0 {
		return fmt.Sprintf("hook %s exited with status %d", e.Hook, e.ExitCode)
	}
	return fmt.Sprintf("hook %s failed: %v", e.Hook, e.Err)
}

func (e *HookFailure) Unwrap() error {
	return e.Err
}

// Runner executes the scripts of a before-notebook hook directory in lexical order.
type Runner struct {
	Log         logr.Logger
	Dir         string
	Environment Environment
	Timeout     time.Duration
}

// Hooks lists the executable regular files of Dir in run order.
func (r *Runner) Hooks() ([]string, error) {
	entries, err := os.ReadDir(r.Dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var hooks []string
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if info.Mode().Perm()&0111 == 0 {
			r.Log.V(1).Info("skipping non executable hook", "hook", e.Name())
			continue
		}
		hooks = append(hooks, filepath.Join(r.Dir, e.Name()))
	}
	sort.Strings(hooks)
	return hooks, nil
}

// Run stops at the first failing hook.
func (r *Runner) Run(ctx context.Context) error {
	hooks, err := r.Hooks()
	if err != nil {
		return err
	}
	environ := r.Environment.Environ(os.Environ())
	for _, hook := range hooks {
		if err := r.runOne(ctx, hook, environ); err != nil {
			return err
		}
	}
	r.Log.Info("hooks finished", "dir", r.Dir, "count", len(hooks))
	return nil
}

func (r *Runner) runOne(ctx context.Context, hook string, environ []string) error {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	log := r.Log.WithValues("hook", hook)
	log.Info("running hook", "timeout", r.Timeout)

	startTime := time.Now()
	cmd := exec.CommandContext(ctx, hook)
	cmd.Env = environ
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	err := cmd.Run()
	if err == nil {
		log.V(1).Info("hook finished", "duration", time.Since(startTime))
		return nil
	}

	failure := &HookFailure{Hook: filepath.Base(hook), ExitCode: -1, Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		failure.ExitCode = exitErr.ExitCode()
	}
	log.Error(failure, "hook failed", "duration", time.Since(startTime))
	return failure
}
