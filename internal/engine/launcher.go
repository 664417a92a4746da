package engine

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"llmd/internal/common/fsutil"
	"llmd/internal/config"
	"llmd/pkg/types"
)

// BuildArgs assembles the engine argv for one model, "vllm serve" style.
// The binary itself is not included.
func BuildArgs(cfg config.EngineConfig, m types.Model, host string, port int) []string {
	args := []string{
		"serve", m.Path,
		"--host", host,
		"--port", strconv.Itoa(port),
		"--served-model-name", m.DisplayName(),
	}
	if m.MaxModelLen > 0 {
		args = append(args, "--max-model-len", strconv.Itoa(m.MaxModelLen))
	}
	if cfg.GPUMemoryUtilization > 0 {
		args = append(args, "--gpu-memory-utilization", strconv.FormatFloat(cfg.GPUMemoryUtilization, 'f', -1, 64))
	}
	if cfg.TensorParallelSize > 0 {
		args = append(args, "--tensor-parallel-size", strconv.Itoa(cfg.TensorParallelSize))
	}
	if cfg.TrustRemoteCode {
		args = append(args, "--trust-remote-code")
	}
	if m.ReasoningParser != "" {
		args = append(args, "--reasoning-parser", m.ReasoningParser)
	}
	args = append(args, cfg.ExtraArgs...)
	for _, extra := range m.ExtraArgs {
		if !contains(args, extra) {
			args = append(args, extra)
		}
	}
	return args
}

func contains(args []string, s string) bool {
	for _, a := range args {
		if a == s {
			return true
		}
	}
	return false
}

// Preflight verifies the model directory looks servable before spawning.
// Mirrors the shell-script checks: directory present, config.json present.
func Preflight(m types.Model) error {
	if strings.TrimSpace(m.Path) == "" {
		return fmt.Errorf("model %s: no local path (pull it first)", m.ID)
	}
	if !fsutil.IsDir(m.Path) {
		return fmt.Errorf("model %s: path %s does not exist (pull it first)", m.ID, m.Path)
	}
	if !fsutil.PathExists(filepath.Join(m.Path, "config.json")) {
		return fmt.Errorf("model %s: %s is missing config.json", m.ID, m.Path)
	}
	return nil
}

// EstimateVRAMMB picks the declared estimate or falls back to the size of
// the weights on disk. A conservative minimum of 1MB keeps budget checks
// honest when nothing can be measured.
func EstimateVRAMMB(m types.Model) int {
	if m.EstVRAMMB > 0 {
		return m.EstVRAMMB
	}
	if m.Path != "" {
		if n, err := fsutil.DirSizeBytes(m.Path); err == nil {
			if mb := int(n / (1024 * 1024)); mb > 0 {
				return mb
			}
		}
	}
	return 1
}
