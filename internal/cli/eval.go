package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"llmd/internal/eval"
)

func newEvalCmd(opts *rootOptions) *cobra.Command {
	var (
		model       string
		apiURL      string
		apiKey      string
		datasets    []string
		datasetsDir string
		batchSize   int
		maxTokens   int
		temperature float64
		workDir     string
		historyDB   string
	)
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Benchmark a served model on multiple-choice datasets",
		Example: `  llmd eval --model Qwen3-8B --api-url http://127.0.0.1:8080/v1
  llmd eval --model Qwen3-8B --datasets iquiz,mmlu-lite --datasets-dir ./datasets`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg.Eval
			task := eval.TaskConfig{
				Model:       model,
				APIURL:      firstNonEmpty(apiURL, cfg.APIURL),
				APIKey:      firstNonEmpty(apiKey, cfg.APIKey),
				Datasets:    datasets,
				DatasetsDir: firstNonEmpty(datasetsDir, cfg.DatasetsDir),
				BatchSize:   batchSize,
				MaxTokens:   maxTokens,
				Temperature: temperature,
				WorkDir:     firstNonEmpty(workDir, cfg.WorkDir),
				HistoryDB:   firstNonEmpty(historyDB, cfg.HistoryDB),
			}
			if len(task.Datasets) == 0 {
				task.Datasets = cfg.Datasets
			}
			if task.BatchSize <= 0 {
				task.BatchSize = cfg.BatchSize
			}
			if task.MaxTokens <= 0 {
				task.MaxTokens = cfg.MaxTokens
			}

			runner, err := eval.NewRunner(task, opts.log)
			if err != nil {
				return err
			}
			rep, err := runner.Run(cmd.Context())
			if err != nil {
				return err
			}
			dir, err := eval.WriteReport(rep, task.WorkDir)
			if err != nil {
				return err
			}
			if task.HistoryDB != "" {
				h, err := eval.OpenHistory(task.HistoryDB)
				if err != nil {
					return err
				}
				defer h.Close()
				if err := h.SaveRun(rep); err != nil {
					return err
				}
			}
			fmt.Fprint(cmd.OutOrStdout(), rep.String())
			fmt.Fprintf(cmd.OutOrStdout(), "report written to %s\n", dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "Served model name to benchmark (required)")
	cmd.Flags().StringVar(&apiURL, "api-url", envOr("LLMD_EVAL_API_URL", "http://127.0.0.1:8080/v1"), "OpenAI-compatible base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", envOr("LLMD_EVAL_API_KEY", ""), "API key, if the endpoint requires one")
	cmd.Flags().StringSliceVar(&datasets, "datasets", nil, "Dataset names (default iquiz)")
	cmd.Flags().StringVar(&datasetsDir, "datasets-dir", "datasets", "Directory holding <name>.jsonl files")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Concurrent requests (default 8)")
	cmd.Flags().IntVar(&maxTokens, "max-tokens", 0, "Generation cap per sample (default 512)")
	cmd.Flags().Float64Var(&temperature, "temperature", 0, "Sampling temperature")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "Report output directory (default outputs)")
	cmd.Flags().StringVar(&historyDB, "history-db", "", "sqlite path for run history (disabled when empty)")
	_ = cmd.MarkFlagRequired("model")

	cmd.AddCommand(newEvalHistoryCmd(opts))
	return cmd
}

func newEvalHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		historyDB string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent eval runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := firstNonEmpty(historyDB, opts.cfg.Eval.HistoryDB)
			if path == "" {
				return fmt.Errorf("no history db configured (--history-db)")
			}
			h, err := eval.OpenHistory(path)
			if err != nil {
				return err
			}
			defer h.Close()
			runs, err := h.Runs(limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tMODEL\tDATASETS\tACCURACY\tSTARTED")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.3f\t%s\n",
					r.ID, r.Model, r.Datasets, r.Accuracy, r.StartedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&historyDB, "history-db", "", "sqlite path for run history")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum runs to show")
	return cmd
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
