package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/worldledger/internal/logging"
	"github.com/danielpatrickdp/worldledger/internal/state"
)

// #region main

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

// #endregion main

// #region root

// app carries the configuration shared by every subcommand.
type app struct {
	v *viper.Viper
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	a.v.SetEnvPrefix("WORLDLEDGER")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "worldledger",
		Short: "Branching world-state ledger with a generate-and-verify loop",
		Long: `worldledger grows a branching ledger of world states. Each step issues a
challenge, collects candidates from the producers, verifies them through the
novelty gate and the general verifiers, and commits the winner.

Every flag can also be set through the environment, e.g. WORLDLEDGER_SEED=7.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.bind(cmd)
		},
	}
	root.PersistentFlags().String("db", "worldledger.db", "path to the ledger database")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(a.runCmd(), a.inspectCmd(), a.replayCmd(), a.exportCmd())
	return root
}

// bind exposes the executing command's flags through viper so the
// environment can supply them.
func (a *app) bind(cmd *cobra.Command) error {
	var err error
	bind := func(fs *pflag.FlagSet) {
		fs.VisitAll(func(f *pflag.Flag) {
			if err == nil {
				err = a.v.BindPFlag(f.Name, f)
			}
		})
	}
	bind(cmd.InheritedFlags())
	bind(cmd.LocalFlags())
	return err
}

func (a *app) logger() (*zap.Logger, error) {
	return logging.New(a.v.GetString("log-level"))
}

// openExisting opens a ledger database that must already exist.
func (a *app) openExisting() (*state.Store, error) {
	path := a.v.GetString("db")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return state.NewStore(path)
}

// #endregion root
