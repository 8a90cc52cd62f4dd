package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	ctrl "sigs.k8s.io/controller-runtime"
	ctrlzap "sigs.k8s.io/controller-runtime/pkg/log/zap"

	"notebook-agent/pkg/config"
)

var (
	setupLog = ctrl.Log.WithName("setup")
)

// exitError carries a process exit status other than the generic failure.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

type app struct {
	v          *viper.Viper
	configFile string
	debug      bool
}

// configKeyAnnotation marks a flag as the override of a config key.
const configKeyAnnotation = "notebook-agent/config-key"

// load binds the running command's flags and reads the configuration. Flags are bound
// here rather than at construction since several commands override the same keys.
func (a *app) load(cmd *cobra.Command) (*config.Config, error) {
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if keys, ok := f.Annotations[configKeyAnnotation]; ok && bindErr == nil {
			bindErr = a.v.BindPFlag(keys[0], f)
		}
	})
	if bindErr != nil {
		return nil, bindErr
	}

	c, err := config.Load(a.v, a.configFile)
	if err != nil {
		setupLog.Error(err, "unable to load config")
		return nil, err
	}
	return c, nil
}

func (a *app) setupLogger() {
	// Levels in logr correspond to custom debug levels in Zap.
	// Any given level in logr is represents by its inverse in Zap (zapLevel = -1*logrLevel).
	// For example V(2) is equivalent to log level -2 in Zap, while V(1) is equivalent to Zap's DebugLevel.
	// zap.InfoLevel = 0; zap.DebugLevel = -1
	// r.Log.Info() is INFO in Zap
	// r.Log.V(1).Info() is DEBUG in Zap
	// ref: https://github.com/go-logr/zapr
	l := zap.NewAtomicLevelAt(zap.InfoLevel)
	if a.debug {
		l = zap.NewAtomicLevelAt(zap.DebugLevel)
	}

	ctrl.SetLogger(ctrlzap.New(func(o *ctrlzap.Options) {
		o.Development = true
		o.Level = &l
	}))
}

func (a *app) bind(cmd *cobra.Command, key string, flag string) {
	if err := cmd.Flags().SetAnnotation(flag, configKeyAnnotation, []string{key}); err != nil {
		panic(fmt.Errorf("cannot bind flag %s: %w", flag, err))
	}
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}

	rootCmd := &cobra.Command{
		Use:           "notebook-agent",
		Short:         "Session agent for JupyterHub notebook containers",
		Long:          "Keeps CPU-busy notebook sessions alive, syncs course notebooks and runs the before-notebook provisioning steps.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.setupLogger()
		},
	}
	rootCmd.PersistentFlags().StringVar(&a.configFile, "config", "", "config file (default is config.yaml in /etc/notebook-agent/ or the working directory)")
	rootCmd.PersistentFlags().BoolVar(&a.debug, "debug", false, "enables debug logs")

	hooksCmd := &cobra.Command{
		Use:   "hooks",
		Short: "Provisioning hooks of the notebook container",
	}
	hooksCmd.AddCommand(newHooksRunCmd(a))

	rootCmd.AddCommand(
		newGuardCmd(a),
		newSyncCmd(a),
		newLandingCmd(a),
		hooksCmd,
		newEnvCmd(a),
		newCullCheckCmd(a),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			if exit.err != nil {
				fmt.Fprintln(os.Stderr, exit.err)
			}
			os.Exit(exit.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
