package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"xspecfit/internal/config"
	"xspecfit/internal/record"
	"xspecfit/pkg/xspecfit"
)

func newFitCommand(flags *globalFlags) *cobra.Command {
	var (
		configPath string
		method     string
		errorIdx   []int
		progress   bool
		dryRun     bool
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit the session described by a config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if method != "" {
				cfg.Fit.Method = method
			}
			if cmd.Flags().Changed("errors") {
				cfg.Errors.Params = errorIdx
			}
			opts := xspecfit.Options{DBPath: cfg.Store.Path}
			if progress {
				opts.Progress = cmd.OutOrStdout()
			}
			client, err := openClient(cmd, flags, cfg.Store.Kind, opts)
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			summary, err := client.Fit(cmd.Context(), xspecfit.FitRequest{Config: cfg, DryRun: dryRun})
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), summary.Run)
			}
			printRun(cmd.OutOrStdout(), summary.Run)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "session config file (YAML)")
	cmd.Flags().StringVar(&method, "method", "", "override the fit method: leven|simplex|anneal|genetic")
	cmd.Flags().IntSliceVar(&errorIdx, "errors", nil, "parameter indices to search confidence intervals for")
	cmd.Flags().BoolVar(&progress, "progress", false, "print the per-iteration table")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "do not store the run")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run as JSON")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func newRunsCommand(flags *globalFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored fit runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := openClient(cmd, flags, "", xspecfit.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			runs, err := client.Runs(cmd.Context(), xspecfit.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no runs")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tMODEL\tSTATISTIC\tSTATUS\tVALUE\tDOF")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.4f\t%s\n",
					r.ID, humanize.Time(r.CreatedAt), r.Expression, r.Statistic, r.Status, r.Value, humanize.Comma(int64(r.DOF)))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func newShowCommand(flags *globalFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a stored fit run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(cmd, flags, "", xspecfit.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			run, err := client.Show(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), run)
			}
			printRun(cmd.OutOrStdout(), run)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the run as JSON")
	return cmd
}

func newDeleteCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a stored fit run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(cmd, flags, "", xspecfit.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			if err := client.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newExportCommand(flags *globalFlags) *cobra.Command {
	var (
		latest bool
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "export [run-id]",
		Short: "Write a stored run as JSON and CSV artifacts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := openClient(cmd, flags, "", xspecfit.Options{})
			if err != nil {
				return err
			}
			defer func() { _ = client.Close() }()

			req := xspecfit.ExportRequest{Latest: latest, OutDir: outDir}
			if len(args) == 1 {
				req.RunID = args[0]
			}
			dir, err := client.Export(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %s\n", dir)
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "export the newest run")
	cmd.Flags().StringVar(&outDir, "out", "exports", "output directory")
	return cmd
}

func newComponentsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "components",
		Short: "List the built-in model components",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tKIND\tPARAMETERS\tDESCRIPTION")
			for _, c := range xspecfit.Components(nil) {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Name, c.Kind, strings.Join(c.Params, " "), c.Description)
			}
			return tw.Flush()
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRun(w io.Writer, run record.FitRun) {
	fmt.Fprintf(w, "run %s\n", run.ID)
	fmt.Fprintf(w, "model %s, %s (%s weighting), method %s\n", run.Expression, run.Statistic, run.Weighting, run.Method)
	fmt.Fprintf(w, "%s after %s iterations\n", run.Status, humanize.Comma(int64(run.Iterations)))
	if run.Error != "" {
		fmt.Fprintf(w, "error: %s\n", run.Error)
	}
	fmt.Fprintf(w, "statistic %.6g using %s degrees of freedom", run.Value, humanize.Comma(int64(run.DOF)))
	if run.DOF > 0 && run.Statistic == "chi" {
		fmt.Fprintf(w, ", reduced %.4f, null hypothesis probability %.4g", run.Value/float64(run.DOF), run.NullHypothesis)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARAMETER\tVALUE\tSIGMA\tUNIT\t")
	for _, p := range run.Params {
		note := ""
		switch {
		case p.Link != "":
			note = "= " + p.Link
		case p.Frozen:
			note = "frozen"
		case p.Pegged:
			note = "pegged"
		}
		fmt.Fprintf(tw, "%s\t%.6g\t%.3g\t%s\t%s\n", p.Label, p.Value, p.Sigma, p.Unit, note)
	}
	_ = tw.Flush()

	for _, b := range run.ErrorBounds {
		fmt.Fprintf(w, "confidence %s: %.6g .. %.6g", b.Label, b.Low, b.High)
		if b.LowAtLimit || b.HighAtLimit {
			fmt.Fprint(w, " (hit limit)")
		}
		if b.LowUnbracketed || b.HighUnbracketed {
			fmt.Fprint(w, " (not bracketed, raise the search iterations)")
		}
		if b.NewMinimum {
			fmt.Fprint(w, " (new minimum found, refit)")
		}
		fmt.Fprintln(w)
	}
	for _, g := range run.Goodness {
		fmt.Fprintf(w, "goodness %s: %.6g\n", g.Test, g.Value)
	}
	for _, f := range run.Faults {
		fmt.Fprintf(w, "derivative fault: %s\n", f)
	}
}
