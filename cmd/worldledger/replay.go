package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/worldledger/internal/policy"
	"github.com/danielpatrickdp/worldledger/internal/replay"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// errMismatch is returned when a replay disagrees with its recording.
var errMismatch = errors.New("replay diverged from the recorded verdicts")

// #region replay-cmd

func (a *app) replayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-judge recorded candidates offline and report verdict mismatches",
		Long: `replay re-runs the verifier cascade and the aggregator over recorded
candidates. The source is either a fixture file (--fixture) or the step log
of a ledger database (--db, with the policy the run used).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := a.logger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			var (
				f      *replay.Fixture
				source string
			)
			if path := a.v.GetString("fixture"); path != "" {
				if f, err = replay.LoadFixture(path); err != nil {
					return err
				}
				source = path
			} else {
				if f, err = a.exportFixture(cmd.Context(), "db replay"); err != nil {
					return err
				}
				source = a.v.GetString("db")
			}

			rep, err := replay.Run(cmd.Context(), f, source, logger)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), rep)
			if !rep.OK() {
				return errMismatch
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.String("fixture", "", "fixture JSON to replay; empty replays --db")
	f.String("policy", "", "policy document the recorded run used (--db mode)")
	f.Int("last", 0, "replay only the last N steps (--db mode, 0 for all)")
	return cmd
}

// #endregion replay-cmd

// #region export-cmd

func (a *app) exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write recorded steps of a ledger database as a replay fixture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := a.v.GetString("out")
			if out == "" {
				return errors.New("--out is required")
			}
			f, err := a.exportFixture(cmd.Context(), a.v.GetString("description"))
			if err != nil {
				return err
			}
			if err := replay.WriteFixture(out, f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d steps to %s\n", len(f.Steps), out)
			return nil
		},
	}
	f := cmd.Flags()
	f.String("out", "", "output fixture JSON path")
	f.String("policy", "", "policy document the recorded run used")
	f.Int("last", 4, "number of most recent steps to export (0 for all)")
	f.String("description", "exported from step log", "fixture description")
	return cmd
}

func (a *app) exportFixture(ctx context.Context, description string) (*replay.Fixture, error) {
	p, err := policy.Load(a.v.GetString("policy"))
	if err != nil {
		return nil, err
	}
	store, err := a.openExisting()
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return replay.Export(ctx, store, p, description, a.v.GetInt("last"))
}

// #endregion export-cmd

// #region report

func printReport(out io.Writer, rep replay.Report) {
	verdicts := make([]string, 0, len(rep.Verdicts))
	for v := range rep.Verdicts {
		verdicts = append(verdicts, string(v))
	}
	sort.Strings(verdicts)

	fmt.Fprintf(out, "%-12s  %-44s  %-8s  %8s  %s\n", "Challenge", "Candidate", "Verdict", "Score", "Gate")
	fmt.Fprintf(out, "%-12s+-%-44s+-%-8s+-%8s+-%s\n", "------------", "--------------------------------------------", "--------", "--------", "----------")
	for _, r := range rep.Results {
		verdict := fmt.Sprintf("%-8s", r.Verdict)
		if r.Verdict == world.VerdictAccept {
			verdict = color.GreenString(verdict)
		}
		gate := "-"
		if len(r.GateCodes) > 0 {
			gate = r.GateCodes[0]
			if len(r.GateCodes) > 1 {
				gate += fmt.Sprintf(" +%d", len(r.GateCodes)-1)
			}
		}
		fmt.Fprintf(out, "%-12s  %-44s  %s  %8.4f  %s\n", r.ChallengeID, r.CandidateID, verdict, r.Score, gate)
	}

	fmt.Fprintf(out, "\nsteps %d  candidates %d", rep.Steps, rep.Candidates)
	for _, v := range verdicts {
		fmt.Fprintf(out, "  %s %d", v, rep.Verdicts[world.Verdict(v)])
	}
	fmt.Fprintln(out)

	if rep.OK() {
		fmt.Fprintln(out, color.GreenString("all recorded verdicts reproduced"))
		return
	}
	fmt.Fprintln(out, color.RedString("%d mismatches:", len(rep.Mismatches)))
	for _, m := range rep.Mismatches {
		fmt.Fprintf(out, "  %s\n", m)
	}
}

// #endregion report
