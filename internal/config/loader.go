package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon and CLI. Zero values mean
// "unspecified" and are replaced by defaults in the command layer.
type Config struct {
	Server  ServerConfig  `json:"server" yaml:"server" toml:"server"`
	Models  ModelsConfig  `json:"models" yaml:"models" toml:"models"`
	Engine  EngineConfig  `json:"engine" yaml:"engine" toml:"engine"`
	Gateway GatewayConfig `json:"gateway" yaml:"gateway" toml:"gateway"`
	Eval    EvalConfig    `json:"eval" yaml:"eval" toml:"eval"`
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Addr         string   `json:"addr" yaml:"addr" toml:"addr"`
	MaxBodyBytes int64    `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	CORSEnabled  bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins  []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
	LogLevel     string   `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// ModelsConfig covers registry discovery and downloads.
type ModelsConfig struct {
	// Directory holding downloaded model weights (<dir>/<id>/<revision>).
	Dir string `json:"dir" yaml:"dir" toml:"dir"`
	// Optional registry manifest (yaml/json/toml); presets are used when empty.
	Manifest string `json:"manifest" yaml:"manifest" toml:"manifest"`
	// Reload the manifest automatically when it changes on disk.
	Watch bool `json:"watch" yaml:"watch" toml:"watch"`
	// Default model id when a request omits the model.
	Default string `json:"default" yaml:"default" toml:"default"`
	// Hub auth token for gated repositories.
	HubToken string `json:"hub_token" yaml:"hub_token" toml:"hub_token"`
}

// EngineConfig covers the external inference-engine processes.
type EngineConfig struct {
	// Engine binary, e.g. "vllm"; the launcher invokes "<bin> serve ...".
	Bin  string `json:"bin" yaml:"bin" toml:"bin"`
	Host string `json:"host" yaml:"host" toml:"host"`
	// Inclusive port range for spawned engines; 0/0 picks any free port.
	PortStart int `json:"port_start" yaml:"port_start" toml:"port_start"`
	PortEnd   int `json:"port_end" yaml:"port_end" toml:"port_end"`
	// GPU memory fraction passed as --gpu-memory-utilization.
	GPUMemoryUtilization float64 `json:"gpu_memory_utilization" yaml:"gpu_memory_utilization" toml:"gpu_memory_utilization"`
	TensorParallelSize   int     `json:"tensor_parallel_size" yaml:"tensor_parallel_size" toml:"tensor_parallel_size"`
	TrustRemoteCode      bool    `json:"trust_remote_code" yaml:"trust_remote_code" toml:"trust_remote_code"`
	// Seconds to wait for a freshly spawned engine to become healthy.
	StartupTimeoutSec int `json:"startup_timeout_sec" yaml:"startup_timeout_sec" toml:"startup_timeout_sec"`
	// Extra argv appended to every launch.
	ExtraArgs []string `json:"extra_args" yaml:"extra_args" toml:"extra_args"`
}

// GatewayConfig covers admission control and VRAM budgeting.
type GatewayConfig struct {
	VRAMBudgetMB  int `json:"vram_budget_mb" yaml:"vram_budget_mb" toml:"vram_budget_mb"`
	VRAMMarginMB  int `json:"vram_margin_mb" yaml:"vram_margin_mb" toml:"vram_margin_mb"`
	MaxQueueDepth int `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	// Concurrent requests forwarded per instance; engines batch internally.
	MaxInflight int `json:"max_inflight" yaml:"max_inflight" toml:"max_inflight"`
	MaxWaitSec  int `json:"max_wait_sec" yaml:"max_wait_sec" toml:"max_wait_sec"`
	DrainSec    int `json:"drain_sec" yaml:"drain_sec" toml:"drain_sec"`
}

// EvalConfig carries defaults for `llmd eval`.
type EvalConfig struct {
	APIURL      string   `json:"api_url" yaml:"api_url" toml:"api_url"`
	APIKey      string   `json:"api_key" yaml:"api_key" toml:"api_key"`
	Datasets    []string `json:"datasets" yaml:"datasets" toml:"datasets"`
	DatasetsDir string   `json:"datasets_dir" yaml:"datasets_dir" toml:"datasets_dir"`
	BatchSize   int      `json:"eval_batch_size" yaml:"eval_batch_size" toml:"eval_batch_size"`
	MaxTokens   int      `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`
	Temperature float64  `json:"temperature" yaml:"temperature" toml:"temperature"`
	WorkDir     string   `json:"work_dir" yaml:"work_dir" toml:"work_dir"`
	HistoryDB   string   `json:"history_db" yaml:"history_db" toml:"history_db"`
}

// MaxWait returns the admission wait as a duration.
func (g GatewayConfig) MaxWait() time.Duration { return time.Duration(g.MaxWaitSec) * time.Second }

// DrainTimeout returns the unload drain deadline as a duration.
func (g GatewayConfig) DrainTimeout() time.Duration { return time.Duration(g.DrainSec) * time.Second }

// StartupTimeout returns the engine readiness deadline as a duration.
func (e EngineConfig) StartupTimeout() time.Duration {
	return time.Duration(e.StartupTimeoutSec) * time.Second
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
