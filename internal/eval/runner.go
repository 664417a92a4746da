package eval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// SampleResult records one graded sample.
type SampleResult struct {
	Dataset   string `json:"dataset"`
	SampleID  string `json:"sample_id"`
	Category  string `json:"category,omitempty"`
	Expected  string `json:"expected"`
	Predicted string `json:"predicted"`
	Correct   bool   `json:"correct"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// CategoryStat aggregates accuracy within one category.
type CategoryStat struct {
	Total    int     `json:"total"`
	Correct  int     `json:"correct"`
	Accuracy float64 `json:"accuracy"`
}

// DatasetReport aggregates one dataset's results.
type DatasetReport struct {
	Name       string                  `json:"name"`
	Total      int                     `json:"total"`
	Correct    int                     `json:"correct"`
	Accuracy   float64                 `json:"accuracy"`
	Categories map[string]CategoryStat `json:"categories,omitempty"`
}

// Report is the outcome of one eval run.
type Report struct {
	RunID       string          `json:"run_id"`
	Model       string          `json:"model"`
	APIURL      string          `json:"api_url"`
	StartedAt   time.Time       `json:"started_at"`
	DurationSec float64         `json:"duration_sec"`
	Accuracy    float64         `json:"accuracy"`
	Datasets    []DatasetReport `json:"datasets"`
	Samples     []SampleResult  `json:"-"`
}

// Runner executes benchmark runs.
type Runner struct {
	cfg    TaskConfig
	client *Client
	log    zerolog.Logger
}

// NewRunner validates the config and prepares a runner.
func NewRunner(cfg TaskConfig, log zerolog.Logger) (*Runner, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, client: NewClient(cfg.APIURL, cfg.APIKey), log: log}, nil
}

// Run executes every configured dataset and returns the aggregated report.
// The API is health-checked before any sample is sent.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if err := r.client.Health(ctx); err != nil {
		return nil, err
	}

	rep := &Report{
		RunID:     uuid.NewString(),
		Model:     r.cfg.Model,
		APIURL:    r.cfg.APIURL,
		StartedAt: time.Now(),
	}
	totalAll, correctAll := 0, 0
	for _, name := range r.cfg.Datasets {
		ds, err := LoadDataset(r.cfg.DatasetsDir, name)
		if err != nil {
			return nil, err
		}
		r.log.Info().Str("dataset", name).Int("samples", len(ds.Samples)).Msg("eval dataset start")
		results, err := r.runDataset(ctx, ds)
		if err != nil {
			return nil, err
		}
		dr := summarize(ds.Name, results)
		r.log.Info().Str("dataset", name).Float64("accuracy", dr.Accuracy).Msg("eval dataset done")
		rep.Datasets = append(rep.Datasets, dr)
		rep.Samples = append(rep.Samples, results...)
		totalAll += dr.Total
		correctAll += dr.Correct
	}
	if totalAll > 0 {
		rep.Accuracy = float64(correctAll) / float64(totalAll)
	}
	rep.DurationSec = time.Since(rep.StartedAt).Seconds()
	return rep, nil
}

// runDataset grades every sample with up to BatchSize requests in flight.
func (r *Runner) runDataset(ctx context.Context, ds Dataset) ([]SampleResult, error) {
	results := make([]SampleResult, len(ds.Samples))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.BatchSize)
	for i, s := range ds.Samples {
		g.Go(func() error {
			res := r.gradeSample(gctx, ds.Name, s)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) gradeSample(ctx context.Context, dataset string, s Sample) SampleResult {
	res := SampleResult{
		Dataset:  dataset,
		SampleID: s.ID,
		Category: s.Category,
		Expected: s.Answer,
	}
	start := time.Now()
	reply, err := r.client.ChatOnce(ctx, r.cfg.Model, s.Prompt(), r.cfg.MaxTokens, r.cfg.Temperature)
	res.LatencyMs = time.Since(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Predicted = ExtractChoice(reply, len(s.Choices))
	res.Correct = res.Predicted == s.Answer
	return res
}

func summarize(name string, results []SampleResult) DatasetReport {
	dr := DatasetReport{Name: name, Total: len(results), Categories: map[string]CategoryStat{}}
	for _, res := range results {
		cat := res.Category
		if cat == "" {
			cat = "default"
		}
		st := dr.Categories[cat]
		st.Total++
		if res.Correct {
			st.Correct++
			dr.Correct++
		}
		dr.Categories[cat] = st
	}
	if dr.Total > 0 {
		dr.Accuracy = float64(dr.Correct) / float64(dr.Total)
	}
	for cat, st := range dr.Categories {
		if st.Total > 0 {
			st.Accuracy = float64(st.Correct) / float64(st.Total)
		}
		dr.Categories[cat] = st
	}
	return dr
}

// String renders a compact per-dataset accuracy table.
func (r *Report) String() string {
	out := fmt.Sprintf("run %s model=%s accuracy=%.3f (%.1fs)\n", r.RunID, r.Model, r.Accuracy, r.DurationSec)
	for _, d := range r.Datasets {
		out += fmt.Sprintf("  %s: %d/%d (%.3f)\n", d.Name, d.Correct, d.Total, d.Accuracy)
	}
	return out
}
