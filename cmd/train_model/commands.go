package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"exovision/config"
	"exovision/logger"
	"exovision/ml"
	"exovision/store"
	"exovision/training"
)

type rootOptions struct {
	configPath string
	modelsDir  string
	verbose    bool
	cfg        *config.Config
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "train_model",
		Short:         "Train and inspect KOI disposition models offline",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.modelsDir == "" {
				opts.modelsDir = cfg.Store.Dir
			}
			if opts.verbose {
				cfg.Log.Format = "console"
				cfg.Log.File = ""
				if _, err := logger.Init(cfg.Log); err != nil {
					return err
				}
			}
			opts.cfg = cfg
			return nil
		},
	}
	root.SetOut(out)
	root.SetErr(out)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default config.yaml when present)")
	root.PersistentFlags().StringVar(&opts.modelsDir, "models-dir", "", "model directory (default store.dir)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log training stages to stdout")

	root.AddCommand(newTrainCmd(opts), newPredictCmd(opts), newModelsCmd(opts))
	return root
}

func newTrainCmd(opts *rootOptions) *cobra.Command {
	var (
		name        string
		description string
		nIter       int
	)
	cmd := &cobra.Command{
		Use:   "train --name NAME FILE.csv [FILE.csv...]",
		Short: "Train a model on one or more labelled KOI CSV files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(opts.modelsDir, store.Options{})
			if err != nil {
				return err
			}
			cfg := opts.cfg.Training
			if nIter > 0 {
				cfg.NIter = nIter
			}
			out := cmd.OutOrStdout()
			runner := training.NewRunner(cfg, st, stagePrinter{out})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			result, err := runner.Run(ctx, training.Job{
				Model:       name,
				Description: description,
				Trigger:     "cli",
				Paths:       args,
			})
			if err != nil {
				return err
			}
			printReport(out, name, st.Path(name), result)
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "model name (letters, digits, _ and -)")
	cmd.Flags().StringVar(&description, "description", "", "description stored with the model")
	cmd.Flags().IntVar(&nIter, "n-iter", 0, "parameter sets to sample (default training.n_iter)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

type stagePrinter struct {
	out io.Writer
}

func (p stagePrinter) PublishStage(_, _, stage string, _, _ bool) {
	fmt.Fprintf(p.out, "- %s\n", stage)
}

func printReport(out io.Writer, name, path string, result *training.Result) {
	meta := result.Artifact.Metadata
	fmt.Fprintf(out, "\nmodel %s saved to %s\n", name, path)
	fmt.Fprintf(out, "best params:       %s\n", meta.BestParams)
	fmt.Fprintf(out, "cv score:          %.4f\n", meta.CVScore)
	fmt.Fprintf(out, "balanced accuracy: %.4f\n", meta.BalancedAccuracy)
	fmt.Fprintf(out, "rows:              %s train, %s after SMOTE, %s test\n",
		humanize.Comma(int64(meta.TrainingRows)), humanize.Comma(int64(meta.ResampledRows)), humanize.Comma(int64(meta.TestRows)))
	if len(result.Issues) > 0 {
		fmt.Fprintf(out, "dropped rows:      %d\n", len(result.Issues))
		for _, issue := range result.Issues[:min(len(result.Issues), 5)] {
			fmt.Fprintf(out, "  %s row %d: %s\n", issue.Source, issue.Row, issue.Message)
		}
	}
	fmt.Fprintf(out, "took:              %s\n\n", result.Duration.Round(time.Millisecond))
	if result.Evaluation != nil {
		fmt.Fprintln(out, result.Evaluation.Report)
	}
}

func newPredictCmd(opts *rootOptions) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "predict --model NAME FILE.csv",
		Short: "Print the disposition of every row of a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(opts.modelsDir, store.Options{})
			if err != nil {
				return err
			}
			predictor, err := st.Get(model)
			if err != nil {
				return err
			}
			ds, err := ml.LoadCSV(args[0])
			if err != nil {
				return err
			}
			features := predictor.Features()
			if err := ds.Require(features); err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ROW\tPREDICTION\tCONFIDENCE")
			for i := 0; i < ds.Len(); i++ {
				vector, invalid := ds.Record(i, features)
				if len(invalid) > 0 {
					fmt.Fprintf(tw, "%d\t-\tinvalid %s\n", i+1, strings.Join(invalid, ","))
					continue
				}
				d, err := predictor.Predict(vector)
				if err != nil {
					return fmt.Errorf("row %d: %w", i+1, err)
				}
				fmt.Fprintf(tw, "%d\t%s\t%.1f%%\n", i+1, d.Prediction, d.Confidence*100)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model name")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}

func newModelsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List saved models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(opts.modelsDir, store.Options{})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tBALANCED ACC\tCREATED\tFILE")
			for _, name := range st.Names() {
				p, err := st.Get(name)
				if err != nil {
					continue
				}
				meta := p.Artifact().Metadata
				created := "-"
				if !meta.CreatedAt.IsZero() {
					created = humanize.Time(meta.CreatedAt)
				}
				fmt.Fprintf(tw, "%s\t%.4f\t%s\t%s\n", name, meta.BalancedAccuracy, created, filepath.Base(st.Path(name)))
			}
			return tw.Flush()
		},
	}
}
