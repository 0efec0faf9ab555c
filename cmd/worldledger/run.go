package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/danielpatrickdp/worldledger/internal/backend"
	"github.com/danielpatrickdp/worldledger/internal/codec"
	"github.com/danielpatrickdp/worldledger/internal/engine"
	"github.com/danielpatrickdp/worldledger/internal/metrics"
	"github.com/danielpatrickdp/worldledger/internal/policy"
	"github.com/danielpatrickdp/worldledger/internal/state"
)

// #region run-cmd

func (a *app) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the generate-and-verify loop for a number of steps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.run(ctx, cmd.OutOrStdout())
		},
	}
	f := cmd.Flags()
	f.Int64("seed", 7, "random seed")
	f.Int("steps", 50, "number of steps to run")
	f.String("policy", "", "policy document (YAML or JSON); empty uses the defaults")
	f.String("backend", backend.KindNone, "generation backend: none, openai or grpc")
	f.String("backend-address", "", "gRPC sidecar address (backend=grpc)")
	f.String("backend-model", "", "model name (backend=openai)")
	f.String("backend-base-url", backend.DefaultConfig().BaseURL, "OpenAI-compatible base URL (backend=openai)")
	f.Duration("backend-timeout", backend.DefaultConfig().Timeout, "per-request backend timeout")
	f.String("metrics-addr", "", "listen address for /metrics; empty disables")
	f.Bool("json", false, "print the run summary as JSON")
	f.Bool("quiet", false, "suppress per-step lines")
	return cmd
}

func (a *app) run(ctx context.Context, out io.Writer) error {
	logger, err := a.logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	p, err := policy.Load(a.v.GetString("policy"))
	if err != nil {
		return err
	}
	store, err := state.NewStore(a.v.GetString("db"))
	if err != nil {
		return err
	}
	defer store.Close()

	be, err := openBackend(ctx, a.backendConfig(), logger)
	if err != nil {
		return err
	}
	if be != nil {
		defer be.Close()
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	if addr := a.v.GetString("metrics-addr"); addr != "" {
		srv := &http.Server{Addr: addr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("metrics server stopped", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.WithoutCancel(ctx))
		logger.Info("serving metrics", zap.String("addr", addr))
	}

	opts := engine.Options{
		Seed:      a.v.GetInt64("seed"),
		Backend:   be,
		Collector: collector,
		Logger:    logger,
	}
	if !a.v.GetBool("quiet") {
		opts.OnStep = stepPrinter(out)
	}
	eng, err := engine.New(ctx, p, store, opts)
	if err != nil {
		return err
	}

	summary, runErr := eng.Run(ctx, a.v.GetInt("steps"))
	if a.v.GetBool("json") {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(summary); err != nil {
			return err
		}
	} else {
		printSummary(out, summary)
	}
	if errors.Is(runErr, context.Canceled) {
		logger.Info("run interrupted", zap.Int("step", eng.Steps()))
		return nil
	}
	return runErr
}

// #endregion run-cmd

// #region backend

func (a *app) backendConfig() backend.Config {
	c := backend.DefaultConfig()
	c.Kind = a.v.GetString("backend")
	c.Address = a.v.GetString("backend-address")
	c.Model = a.v.GetString("backend-model")
	c.BaseURL = a.v.GetString("backend-base-url")
	c.Timeout = a.v.GetDuration("backend-timeout")
	c.APIKey = a.v.GetString("backend-api-key")
	return c
}

// openBackend returns nil for the template-only mode.
func openBackend(ctx context.Context, c backend.Config, logger *zap.Logger) (backend.Backend, error) {
	switch c.Kind {
	case backend.KindNone, "":
		return nil, nil
	case backend.KindOpenAI:
		client, err := backend.NewOpenAI(c, logger)
		if err != nil {
			return nil, err
		}
		return client, nil
	case backend.KindGRPC:
		client, err := codec.NewCodecClient(c, logger)
		if err != nil {
			return nil, err
		}
		if err := client.WaitReady(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("grpc backend not ready: %w", err)
		}
		return client, nil
	}
	return nil, fmt.Errorf("unknown backend %q (want none, openai or grpc)", c.Kind)
}

// #endregion backend

// #region render

func stepPrinter(out io.Writer) func(engine.StepEvent) {
	green := color.New(color.FgGreen).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	magenta := color.New(color.FgMagenta).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	return func(ev engine.StepEvent) {
		decision := red(fmt.Sprintf("%-13s", ev.Decision))
		switch ev.Decision {
		case engine.DecisionCommit:
			decision = green(fmt.Sprintf("%-13s", ev.Decision))
		case engine.DecisionEscapeCommit:
			decision = cyan(fmt.Sprintf("%-13s", ev.Decision))
		}
		flags := ""
		if ev.Escape {
			flags += " " + yellow("escape")
		}
		if ev.Stagnation {
			flags += " " + magenta("stagnation")
		}
		if ev.ForkStateID != "" {
			flags += " " + cyan("fork")
		}
		if ev.Stalled {
			flags += " " + red("stalled")
		}
		fmt.Fprintf(out, "%5d  %-16s %-24s %s mode=%-17s theta=%.3f %s%s\n",
			ev.Step, ev.BranchID, ev.Directive, decision,
			ev.Controller.Mode, ev.Controller.Theta,
			faint(fmt.Sprintf("a=%d r=%d f=%d", ev.Accepted, ev.Rejected, ev.Forks)),
			flags,
		)
	}
}

func printSummary(out io.Writer, s metrics.Summary) {
	bold := color.New(color.Bold).SprintFunc()
	fmt.Fprintln(out, bold("summary"))
	fmt.Fprintf(out, "  attempted %d  accepted %d  rejected %d  escape commits %d\n",
		s.Attempted, s.Accepted, s.Rejected, s.EscapeCommits)
	fmt.Fprintf(out, "  forks %d  branches %d  accept rate %.3f  fork rate %.3f\n",
		s.Forks, s.Branches, s.AcceptRate, s.ForkRate)
	fmt.Fprintf(out, "  validator variance %.4f  semantic debt %.3f  debt trend %+.3f\n",
		s.ValidatorVariance, s.SemanticDebt, s.DebtTrend)
	fmt.Fprintf(out, "  controller mode %s  theta %.3f\n", s.Controller.Mode, s.Controller.Theta)
}

// #endregion render
