package hub

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	hfhub "github.com/gomlx/go-huggingface/hub"

	"llmd/internal/common/fsutil"
)

// HFOptions tune a HuggingFace snapshot download.
type HFOptions struct {
	AuthToken             string
	Revision              string
	MaxRetries            int
	RetryInterval         time.Duration
	ConcurrentConnections int
	Verbose               bool
}

// NewHFOptions returns download options with sane defaults.
func NewHFOptions() HFOptions {
	return HFOptions{
		Revision:              "main",
		MaxRetries:            5,
		RetryInterval:         5 * time.Second,
		ConcurrentConnections: 5,
	}
}

// DownloadHFSnapshot pulls every file of a HuggingFace repo into destDir
// using the hub client's cache, then materializes plain copies so the
// engine sees a normal model directory.
func DownloadHFSnapshot(repoID, destDir string, opts HFOptions) error {
	repo := hfhub.New(repoID)
	if opts.AuthToken != "" {
		repo = repo.WithAuth(opts.AuthToken)
	}
	if opts.Revision != "" {
		repo.WithRevision(opts.Revision)
	}
	if opts.ConcurrentConnections > 0 {
		repo.MaxParallelDownload = opts.ConcurrentConnections
	}
	if opts.Verbose {
		repo.Verbosity = 1
		repo.WithProgressBar(true)
	} else {
		repo.Verbosity = 0
		repo.WithProgressBar(false)
	}

	var files []string
	var lastErr error
	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		if err := repo.DownloadInfo(false); err != nil {
			lastErr = err
			time.Sleep(opts.RetryInterval)
			continue
		}
		files = files[:0]
		for fileName, err := range repo.IterFileNames() {
			if err != nil {
				return err
			}
			files = append(files, fileName)
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return fmt.Errorf("list hf repo %s: %w", repoID, lastErr)
	}
	if len(files) == 0 {
		return fmt.Errorf("hf repo %s has no files", repoID)
	}
	if err := fsutil.EnsureDir(destDir); err != nil {
		return err
	}

	for attempt := 0; attempt < opts.MaxRetries; attempt++ {
		downloaded, err := repo.DownloadFiles(files...)
		if err != nil {
			lastErr = err
			time.Sleep(opts.RetryInterval)
			continue
		}
		for i, cachePath := range downloaded {
			truePath, err := filepath.EvalSymlinks(cachePath)
			if err != nil {
				return err
			}
			dst := filepath.Join(destDir, filepath.FromSlash(files[i]))
			if err := copyFile(truePath, dst); err != nil {
				return fmt.Errorf("copy %s: %w", path.Base(files[i]), err)
			}
		}
		return nil
	}
	return fmt.Errorf("download hf repo %s after %d attempts: %w", repoID, opts.MaxRetries, lastErr)
}

func copyFile(src, dst string) error {
	if err := fsutil.EnsureDir(filepath.Dir(dst)); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
