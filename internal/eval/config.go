package eval

import "fmt"

// Defaults applied when corresponding TaskConfig fields are unset.
const (
	defaultBatchSize   = 8
	defaultMaxTokens   = 512
	defaultTemperature = 0.0
	defaultWorkDir     = "outputs"
)

// TaskConfig describes one benchmark run against an OpenAI-compatible API.
type TaskConfig struct {
	// Model name as served by the API.
	Model string
	// Base URL of the OpenAI surface, e.g. http://127.0.0.1:8000/v1.
	APIURL string
	APIKey string
	// Dataset names resolved against DatasetsDir as <name>.jsonl.
	Datasets    []string
	DatasetsDir string
	// Concurrent requests per run.
	BatchSize   int
	MaxTokens   int
	Temperature float64
	// Reports are written to WorkDir/<timestamp>/.
	WorkDir string
	// Optional sqlite path for run history; empty disables persistence.
	HistoryDB string
}

func (c *TaskConfig) applyDefaults() error {
	if c.Model == "" {
		return fmt.Errorf("eval: model is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("eval: api url is required")
	}
	if len(c.Datasets) == 0 {
		c.Datasets = []string{"iquiz"}
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.Temperature < 0 {
		c.Temperature = defaultTemperature
	}
	if c.WorkDir == "" {
		c.WorkDir = defaultWorkDir
	}
	return nil
}
