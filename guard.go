package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	ctrl "sigs.k8s.io/controller-runtime"

	"notebook-agent/pkg/config"
	"notebook-agent/pkg/culler"
	"notebook-agent/pkg/hubapi"
	"notebook-agent/pkg/keepalive"
	"notebook-agent/pkg/kube"
	"notebook-agent/pkg/marker"
	"notebook-agent/pkg/sampler"
	"notebook-agent/pkg/server"
)

func newGuardCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "guard [-- notebook-command args...]",
		Short: "Refresh the liveness marker while the notebook processes use the CPU",
		Long: "Samples the CPU time of the notebook process tree every poll interval and reports activity " +
			"to the culler while utilization stays at or above the busy threshold. When a command is given " +
			"it is started as the tracked process and the guard exits with it.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.load(cmd)
			if err != nil {
				return err
			}
			return runGuard(ctrl.SetupSignalHandler(), c, args)
		},
	}
	flags := cmd.Flags()
	flags.Duration("poll-interval", keepalive.DefaultPollInterval, "length of one sampling window")
	flags.Float64("busy-threshold", keepalive.DefaultBusyThreshold, "cpu/wall ratio at or above which a window counts as activity")
	flags.Duration("idle-timeout", keepalive.DefaultIdleTimeout, "idle timeout of the culler")
	flags.Int32("pid", 0, "root pid of the tracked process tree (default is the parent process)")
	flags.String("sampler", config.SamplerProcess, "cpu accounting source: process or cgroup")
	flags.StringSlice("reporter", []string{config.ReporterFile}, "liveness reporters: file, hub, kube")
	flags.String("marker", "", "liveness marker file of the file reporter")
	flags.String("status-addr", "", "address of the status endpoint, empty to disable")
	flags.Duration("culler-interval", 0, "evaluate the culling policy locally at this interval, 0 to disable")

	a.bind(cmd, "guard.pollInterval", "poll-interval")
	a.bind(cmd, "guard.busyThreshold", "busy-threshold")
	a.bind(cmd, "guard.idleTimeout", "idle-timeout")
	a.bind(cmd, "guard.pid", "pid")
	a.bind(cmd, "sampler.type", "sampler")
	a.bind(cmd, "reporter.types", "reporter")
	a.bind(cmd, "reporter.markerPath", "marker")
	a.bind(cmd, "status.addr", "status-addr")
	a.bind(cmd, "culler.interval", "culler-interval")
	return cmd
}

func buildSampler(c *config.Config, pid int32) keepalive.Sampler {
	if c.SamplerType == config.SamplerCgroup {
		return sampler.CgroupSampler{Root: c.CgroupRoot}
	}
	s := sampler.NewProcessSampler(pid, 3*c.Guard.PollInterval)
	s.Log = ctrl.Log.WithName("sampler").WithValues("pid", pid)
	return s
}

func buildReporter(c *config.Config) (keepalive.Reporter, error) {
	var reporters keepalive.MultiReporter
	for _, t := range c.ReporterTypes {
		switch t {
		case config.ReporterFile:
			reporters = append(reporters, marker.NewFile(c.MarkerPath))
		case config.ReporterHub:
			reporters = append(reporters, hubapi.NewClient(c.Hub.APIURL, c.Hub.APIToken, c.Hub.User, c.Hub.Server))
		case config.ReporterKube:
			restConfig, err := ctrl.GetConfig()
			if err != nil {
				return nil, fmt.Errorf("unable to get kubeconfig: %w", err)
			}
			clientset, err := kubernetes.NewForConfig(restConfig)
			if err != nil {
				return nil, err
			}
			namespace, name, err := kube.PodIdentity(os.Getenv)
			if err != nil {
				return nil, err
			}
			reporters = append(reporters, &kube.PodAnnotator{Client: clientset, Namespace: namespace, Name: name})
		}
	}
	if len(reporters) == 1 {
		return reporters[0], nil
	}
	return reporters, nil
}

func trackedPid(c *config.Config) int32 {
	if c.Pid > 0 {
		return c.Pid
	}
	if ppid := os.Getppid(); ppid > 0 {
		return int32(ppid)
	}
	return 1
}

// notebookChild is the notebook server started by the guard.
type notebookChild struct {
	cmd  *exec.Cmd
	done chan error
}

// startChild starts args and calls onExit once the process has exited.
func startChild(args []string, onExit func()) (*notebookChild, error) {
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	c := &notebookChild{cmd: cmd, done: make(chan error, 1)}
	go func() {
		c.done <- cmd.Wait()
		onExit()
	}()
	return c, nil
}

func (c *notebookChild) pid() int32 {
	return int32(c.cmd.Process.Pid)
}

// terminate sends SIGTERM unless the process already exited, then waits for it.
func (c *notebookChild) terminate() error {
	select {
	case err := <-c.done:
		return err
	default:
	}
	_ = c.cmd.Process.Signal(syscall.SIGTERM)
	return <-c.done
}

// exitStatus turns the wait result of the notebook server into the guard's own result.
func exitStatus(err error) error {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			code = 1
		}
		return &exitError{code: code}
	}
	return err
}

func runGuard(ctx context.Context, c *config.Config, args []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reporter, err := buildReporter(c)
	if err != nil {
		setupLog.Error(err, "unable to create liveness reporter", "reporters", c.ReporterTypes)
		return err
	}

	var child *notebookChild
	pid := trackedPid(c)
	if len(args) > 0 {
		child, err = startChild(args, cancel)
		if err != nil {
			setupLog.Error(err, "unable to start notebook command", "command", args)
			return err
		}
		pid = child.pid()
		setupLog.Info("started notebook command", "command", args, "pid", pid)
	}

	guard, err := keepalive.Start(ctx, c.Guard, buildSampler(c, pid), reporter,
		keepalive.WithLogger(ctrl.Log.WithName("guard")))
	if err != nil {
		setupLog.Error(err, "unable to start activity guard")
		if child != nil {
			_ = child.terminate()
		}
		return err
	}

	if c.CullerInterval > 0 && c.MarkerPath != "" {
		watcher := &culler.Watcher{
			Log:      ctrl.Log.WithName("culler"),
			Policy:   culler.Policy{IdleTimeout: c.Guard.IdleTimeout},
			Source:   culler.FileSource(c.MarkerPath),
			Interval: c.CullerInterval,
			Since:    time.Now(),
		}
		if err := watcher.Start(); err != nil {
			setupLog.Error(err, "unable to start culler watcher")
			guard.Stop()
			if child != nil {
				_ = child.terminate()
			}
			return err
		}
		defer watcher.Stop()
	}

	if c.StatusAddr != "" {
		status := &server.StatusServer{
			Log:    ctrl.Log.WithName("status"),
			Addr:   c.StatusAddr,
			Status: guard.Status,
		}
		go func() {
			if err := status.Run(ctx); err != nil {
				setupLog.Error(err, "status server failed")
			}
		}()
	}

	<-guard.Done()
	guard.Stop()

	if child == nil {
		return nil
	}
	// on a signal the notebook server is still running and gets it passed on
	return exitStatus(child.terminate())
}
