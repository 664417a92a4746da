package eval

import (
	"fmt"
	"os"
	"path/filepath"

	"llmd/internal/common/fsutil"
)

// WriteReport persists the run under workDir/<timestamp>/: summary.json
// with the aggregate numbers and details.jsonl with one line per sample.
// Returns the run directory.
func WriteReport(rep *Report, workDir string) (string, error) {
	dir := filepath.Join(workDir, rep.StartedAt.Format("20060102_150405"))
	if err := fsutil.EnsureDir(dir); err != nil {
		return "", err
	}

	summary, err := jsonIter.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, "summary.json"), append(summary, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}

	f, err := os.Create(filepath.Join(dir, "details.jsonl"))
	if err != nil {
		return "", err
	}
	defer f.Close()
	for _, s := range rep.Samples {
		line, err := jsonIter.Marshal(s)
		if err != nil {
			return "", err
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return "", err
		}
	}
	return dir, nil
}
