package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	ctrl "sigs.k8s.io/controller-runtime"

	"notebook-agent/pkg/config"
	"notebook-agent/pkg/culler"
	"notebook-agent/pkg/hooks"
	"notebook-agent/pkg/notebooksync"
)

// exitEligible is the cull-check status of a session the culler would stop.
const exitEligible = 3

func newSource(c *config.Config) (notebooksync.Source, error) {
	src := c.Sync.Source
	switch {
	case src == "":
		return nil, errors.New("no notebook source configured")
	case strings.Contains(src, "://") || strings.HasPrefix(src, "git@") || strings.HasSuffix(src, ".git"):
		return &notebooksync.GitSource{
			Log:    ctrl.Log.WithName("git"),
			URL:    src,
			Branch: c.Sync.Branch,
			Dir:    c.Sync.CacheDir,
		}, nil
	default:
		return notebooksync.DirSource(src), nil
	}
}

func newSyncCmd(a *app) *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Merge the course notebooks into the user's notebook directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.load(cmd)
			if err != nil {
				return err
			}
			source, err := newSource(c)
			if err != nil {
				setupLog.Error(err, "unable to create notebook source")
				return err
			}

			log := ctrl.Log.WithName("sync")
			s := &notebooksync.Syncer{
				Log:         log,
				Source:      source,
				NotebookDir: c.Sync.NotebookDir,
				HomeDir:     c.Sync.HomeDir,
				StateDir:    c.Sync.StateDir,
				DryRun:      dryRun,
			}
			res, err := s.Run(ctrl.SetupSignalHandler())
			if err != nil {
				log.Error(err, "notebook sync failed")
				return err
			}
			if res.Skipped {
				fmt.Fprintln(cmd.OutOrStdout(), "notebook sync skipped")
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.String("source", "", "remote notebook content: a git url or a directory")
	flags.String("branch", "main", "git branch of the remote content")
	flags.String("notebook-dir", "", "user notebook directory (default is <home>/notebooks)")
	flags.String("home", "/home/jovyan", "user home directory")
	flags.String("state-dir", "", "sync state directory (default is <home>/.notebook-sync)")
	flags.BoolVar(&dryRun, "dry-run", false, "compute the merge without writing")

	a.bind(cmd, "sync.source", "source")
	a.bind(cmd, "sync.branch", "branch")
	a.bind(cmd, "sync.notebookDir", "notebook-dir")
	a.bind(cmd, "sync.homeDir", "home")
	a.bind(cmd, "sync.stateDir", "state-dir")
	return cmd
}

func newLandingCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "landing",
		Short: "Place " + hooks.LandingPage + " into the notebook directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.load(cmd)
			if err != nil {
				return err
			}
			log := ctrl.Log.WithName("landing").WithValues("scriptsDir", c.Hooks.ScriptsDir, "notebookDir", c.Sync.NotebookDir)
			placed, err := hooks.PlaceLanding(c.Hooks.ScriptsDir, c.Sync.NotebookDir)
			if err != nil {
				log.Error(err, "unable to place landing page")
				return err
			}
			if placed {
				log.Info("landing page in place")
			} else {
				log.V(1).Info("no landing page to place")
			}
			return nil
		},
	}
	cmd.Flags().String("scripts-dir", "/opt/notebook-scripts", "directory holding "+hooks.LandingPage)
	cmd.Flags().String("notebook-dir", "", "user notebook directory")
	a.bind(cmd, "hooks.scriptsDir", "scripts-dir")
	a.bind(cmd, "sync.notebookDir", "notebook-dir")
	return cmd
}

func newHooksRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the before-notebook hooks in lexical order",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.load(cmd)
			if err != nil {
				return err
			}
			r := &hooks.Runner{
				Log:         ctrl.Log.WithName("hooks"),
				Dir:         c.Hooks.Dir,
				Environment: hooks.ResolveEnvironment(os.Getenv),
				Timeout:     c.Hooks.Timeout,
			}
			err = r.Run(ctrl.SetupSignalHandler())
			var failure *hooks.HookFailure
			if errors.As(err, &failure) && failure.ExitCode > 0 {
				return &exitError{code: failure.ExitCode, err: err}
			}
			return err
		},
	}
	cmd.Flags().String("dir", "/usr/local/bin/before-notebook.d", "hook directory")
	cmd.Flags().Duration("timeout", 10*time.Minute, "timeout of a single hook, 0 for none")
	a.bind(cmd, "hooks.dir", "dir")
	a.bind(cmd, "hooks.timeout", "timeout")
	return cmd
}

func newEnvCmd(a *app) *cobra.Command {
	var export bool
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Print the runtime environment activated for the shell and the kernel",
		RunE: func(cmd *cobra.Command, args []string) error {
			e := hooks.ResolveEnvironment(os.Getenv)
			if !e.Exists() {
				ctrl.Log.WithName("env").Info("environment is not installed", "name", e.Name, "prefix", e.Prefix)
			}
			out := cmd.OutOrStdout()
			if !export {
				fmt.Fprintf(out, "name: %s\nprefix: %s\n", e.Name, e.Prefix)
				return nil
			}
			for _, kv := range e.Environ(os.Environ()) {
				k, v, _ := strings.Cut(kv, "=")
				if k == "PATH" || k == "CONDA_DEFAULT_ENV" || k == "CONDA_PREFIX" {
					fmt.Fprintf(out, "export %s=%q\n", k, v)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&export, "export", false, "print shell export statements")
	return cmd
}

func newCullCheckCmd(a *app) *cobra.Command {
	var since string
	cmd := &cobra.Command{
		Use:   "cull-check",
		Short: "Evaluate the idle culling policy against the liveness marker",
		Long: "Exits 0 while the session is active and 3 once it is eligible for culling. Without a marker, " +
			"idle time counts from --since; with neither, no activity is recorded and the session is eligible.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.load(cmd)
			if err != nil {
				return err
			}
			w := &culler.Watcher{
				Log:    ctrl.Log.WithName("culler"),
				Policy: culler.Policy{IdleTimeout: c.Guard.IdleTimeout},
				Source: culler.FileSource(c.MarkerPath),
			}
			if since != "" {
				if w.Since, err = time.Parse(time.RFC3339, since); err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
			}
			d, err := w.Check(context.Background())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch {
			case d.Recorded:
				fmt.Fprintf(out, "last activity: %s\nidle: %s\n", d.LastActivity.Format(time.RFC3339), d.Idle.Truncate(time.Second))
			case !w.Since.IsZero():
				fmt.Fprintf(out, "last activity: none recorded in %s\nidle since %s: %s\n",
					c.MarkerPath, w.Since.Format(time.RFC3339), d.Idle.Truncate(time.Second))
			default:
				fmt.Fprintf(out, "last activity: none recorded in %s\n", c.MarkerPath)
				d.Cull = true
			}
			fmt.Fprintf(out, "eligible: %t\n", d.Cull)
			if d.Cull {
				return &exitError{code: exitEligible}
			}
			return nil
		},
	}
	cmd.Flags().String("marker", "", "liveness marker file")
	cmd.Flags().Duration("idle-timeout", 15*time.Minute, "idle timeout of the culler")
	cmd.Flags().StringVar(&since, "since", "", "session start (RFC3339) counted as activity while no marker exists")
	a.bind(cmd, "reporter.markerPath", "marker")
	a.bind(cmd, "guard.idleTimeout", "idle-timeout")
	return cmd
}
