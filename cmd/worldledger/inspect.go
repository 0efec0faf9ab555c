package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/worldledger/internal/engine"
	"github.com/danielpatrickdp/worldledger/internal/graph"
	"github.com/danielpatrickdp/worldledger/internal/state"
	"github.com/danielpatrickdp/worldledger/internal/world"
)

// #region inspect-cmd

func (a *app) inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show branches, recent states, anchors and the latest controller epoch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.openExisting()
			if err != nil {
				return err
			}
			defer store.Close()

			rep, err := buildInspect(cmd.Context(), store, a.v.GetString("branch"), a.v.GetInt("last"))
			if err != nil {
				return err
			}
			if a.v.GetBool("json") {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			printInspect(cmd.OutOrStdout(), rep)
			return nil
		},
	}
	f := cmd.Flags()
	f.String("branch", "", "only show this branch")
	f.Int("last", 10, "states shown per branch (0 for all)")
	f.Bool("json", false, "output as JSON instead of tables")
	return cmd
}

// #endregion inspect-cmd

// #region inspect-model

type inspectReport struct {
	Branches []branchView           `json:"branches"`
	Epoch    *world.ControllerEpoch `json:"latest_epoch,omitempty"`
}

type branchView struct {
	world.Branch
	Height  int         `json:"height"`
	States  []stateRow  `json:"states"`
	Anchors []anchorRow `json:"anchors"`
}

type stateRow struct {
	ID          string          `json:"id"`
	Height      int             `json:"height"`
	Score       float64         `json:"score"`
	Directive   world.Directive `json:"directive,omitempty"`
	AcceptedVia string          `json:"accepted_via,omitempty"`
	Scene       string          `json:"scene"`
}

type anchorRow struct {
	ID        string         `json:"id"`
	Type      world.FactType `json:"type"`
	Height    int            `json:"height"`
	Citations int            `json:"citations"`
	Depth     int            `json:"dependency_depth"`
	Content   string         `json:"content"`
}

func buildInspect(ctx context.Context, store *state.Store, only string, last int) (inspectReport, error) {
	branches, err := store.ListBranches(ctx, "")
	if err != nil {
		return inspectReport{}, err
	}
	refs, err := graph.NewRefGraph(store.DB())
	if err != nil {
		return inspectReport{}, err
	}
	var rep inspectReport
	for _, b := range branches {
		if only != "" && b.ID != only {
			continue
		}
		states, err := store.ListStates(ctx, b.ID, last)
		if err != nil {
			return inspectReport{}, err
		}
		anchors, err := store.ActiveFacts(ctx, b.ID)
		if err != nil {
			return inspectReport{}, err
		}
		cites, err := refs.Citations(ctx, b.ID)
		if err != nil {
			return inspectReport{}, err
		}
		view := branchView{Branch: b, States: make([]stateRow, 0, len(states)), Anchors: make([]anchorRow, 0, len(anchors))}
		for _, s := range states {
			view.Height = max(view.Height, s.Height)
			view.States = append(view.States, stateRow{
				ID:          s.ID,
				Height:      s.Height,
				Score:       s.Acceptance.Score,
				Directive:   s.Metadata.Directive,
				AcceptedVia: s.Acceptance.AcceptedVia,
				Scene:       excerpt(s.Metadata.Bundle.Scene, 72),
			})
		}
		for _, f := range anchors {
			walk, err := refs.Walk(ctx, b.ID, f.ID, 0, 0)
			if err != nil {
				return inspectReport{}, err
			}
			view.Anchors = append(view.Anchors, anchorRow{
				ID:        f.ID,
				Type:      f.Type,
				Height:    f.IntroducedHeight,
				Citations: cites[f.ID],
				Depth:     walk.Depth(),
				Content:   excerpt(f.Content, 72),
			})
		}
		rep.Branches = append(rep.Branches, view)
	}
	if only != "" && len(rep.Branches) == 0 {
		return inspectReport{}, fmt.Errorf("branch %q not found", only)
	}

	epoch, ok, err := store.LatestEpoch(ctx)
	if err != nil {
		return inspectReport{}, err
	}
	if ok {
		rep.Epoch = &epoch
	}
	return rep, nil
}

// #endregion inspect-model

// #region inspect-render

func printInspect(out io.Writer, rep inspectReport) {
	bold := color.New(color.Bold).SprintFunc()
	for _, b := range rep.Branches {
		status := color.GreenString(string(b.Status))
		if b.Status != world.BranchActive {
			status = color.YellowString(string(b.Status))
		}
		fmt.Fprintf(out, "%s  %s  height=%d  debt=%.3f  closure=%.3f  chaos=%.3f\n",
			bold(b.ID), status, b.Height, b.SemanticDebt, b.ClosurePressure, b.ChaosPressure)

		fmt.Fprintf(out, "  %6s  %6s  %-24s  %-8s  %s\n", "Height", "Score", "Directive", "Via", "Scene")
		fmt.Fprintf(out, "  %6s+-%6s+-%-24s+-%-8s+-%s\n", "------", "------", strings.Repeat("-", 24), "--------", "--------------------")
		for _, s := range b.States {
			via := s.AcceptedVia
			if via == "" {
				via = "-"
			}
			fmt.Fprintf(out, "  %6d  %6.3f  %-24s  %-8s  %s\n", s.Height, s.Score, s.Directive, shortVia(via), s.Scene)
		}

		if len(b.Anchors) > 0 {
			fmt.Fprintf(out, "  anchors (%d):\n", len(b.Anchors))
			for _, f := range b.Anchors {
				fmt.Fprintf(out, "    %-10s %-18s h=%-4d cited=%-3d depth=%-2d %s\n", f.ID, f.Type, f.Height, f.Citations, f.Depth, f.Content)
			}
		}
		fmt.Fprintln(out)
	}

	if e := rep.Epoch; e != nil {
		d := e.State.Difficulty
		fmt.Fprintf(out, "%s step=%d mode=%s theta=%.3f\n", bold("latest epoch"), e.Step, e.State.Mode, e.State.Theta)
		fmt.Fprintf(out, "  depth=%d density=%.2f underspec=%.2f fragility=%.2f novelty=%.2f\n",
			d.DependencyDepth, d.ConstraintDensity, d.UnderspecificationLevel, d.FutureFragility, d.NoveltyBudget)
	} else {
		fmt.Fprintln(out, color.New(color.Faint).Sprint("no controller epoch yet"))
	}
}

func shortVia(via string) string {
	if via == engine.AcceptedViaEscape {
		return "escape"
	}
	return via
}

func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// #endregion inspect-render
