package hub

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"llmd/internal/common/fsutil"
)

const (
	// defaultEndpoint is the public ModelScope API endpoint.
	defaultEndpoint = "https://www.modelscope.cn"

	// maxParallelFiles bounds concurrent file downloads per snapshot.
	maxParallelFiles = 4
)

// ProgressFunc is called periodically during download.
// Parameters: filename, bytesDownloaded, totalBytes.
type ProgressFunc func(filename string, downloaded, total int64)

// ModelScopeClient downloads model snapshots from ModelScope without any
// Python dependency, talking to the same HTTP API snapshot_download uses.
type ModelScopeClient struct {
	endpoint   string
	httpClient *http.Client
}

// NewModelScopeClient returns a client against the public endpoint.
func NewModelScopeClient() *ModelScopeClient {
	return &ModelScopeClient{
		endpoint: defaultEndpoint,
		// No overall timeout: snapshots are large. Cancellation comes from ctx.
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// NewModelScopeClientAt returns a client against a custom endpoint (tests).
func NewModelScopeClientAt(endpoint string) *ModelScopeClient {
	c := NewModelScopeClient()
	c.endpoint = endpoint
	return c
}

// FileInfo is one file of a model repository.
type FileInfo struct {
	Path   string
	Size   int64
	Sha256 string
}

// ListFiles fetches the repository file list for repo at revision.
func (c *ModelScopeClient) ListFiles(ctx context.Context, repo, revision string) ([]FileInfo, error) {
	if revision == "" {
		revision = "master"
	}
	u := fmt.Sprintf("%s/api/v1/models/%s/repo/files?Revision=%s&Recursive=True",
		c.endpoint, repo, url.QueryEscape(revision))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("modelscope list %s: status %d: %s", repo, resp.StatusCode, string(body))
	}
	// The API wraps the list as {Data:{Files:[...]}}; directories have Type "tree".
	var result struct {
		Data struct {
			Files []struct {
				Path   string `json:"Path"`
				Size   int64  `json:"Size"`
				Sha256 string `json:"Sha256"`
				Type   string `json:"Type"`
			} `json:"Files"`
		} `json:"Data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("parse file list: %w", err)
	}
	files := make([]FileInfo, 0, len(result.Data.Files))
	for _, f := range result.Data.Files {
		if f.Type == "tree" {
			continue
		}
		files = append(files, FileInfo{Path: f.Path, Size: f.Size, Sha256: f.Sha256})
	}
	return files, nil
}

// DownloadSnapshot downloads every file of repo@revision into destDir.
// Files already present with the right size are skipped, so interrupted
// downloads resume. A lock file guards against concurrent pulls into the
// same directory.
func (c *ModelScopeClient) DownloadSnapshot(ctx context.Context, repo, revision, destDir string, progress ProgressFunc) error {
	if err := fsutil.EnsureDir(destDir); err != nil {
		return err
	}
	lock := filepath.Join(destDir, ".download.lock")
	f, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("another download is in progress for %s (remove %s if stale)", destDir, lock)
		}
		return err
	}
	f.Close()
	defer os.Remove(lock)

	files, err := c.ListFiles(ctx, repo, revision)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("modelscope repo %s@%s has no files", repo, revision)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFiles)
	for _, file := range files {
		g.Go(func() error {
			return c.downloadFile(gctx, repo, revision, file, filepath.Join(destDir, filepath.FromSlash(file.Path)), progress)
		})
	}
	return g.Wait()
}

func (c *ModelScopeClient) downloadFile(ctx context.Context, repo, revision string, file FileInfo, localPath string, progress ProgressFunc) error {
	if err := fsutil.EnsureDir(filepath.Dir(localPath)); err != nil {
		return err
	}
	if info, err := os.Stat(localPath); err == nil && info.Size() == file.Size {
		if progress != nil {
			progress(file.Path, file.Size, file.Size)
		}
		return nil
	}
	if revision == "" {
		revision = "master"
	}
	u := fmt.Sprintf("%s/api/v1/models/%s/repo?Revision=%s&FilePath=%s",
		c.endpoint, repo, url.QueryEscape(revision), url.QueryEscape(file.Path))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("download %s: status %d: %s", file.Path, resp.StatusCode, string(body))
	}

	tmp := localPath + ".tmp"
	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	hasher := sha256.New()
	var written int64
	buf := make([]byte, 1<<20)
	for {
		if err := ctx.Err(); err != nil {
			out.Close()
			os.Remove(tmp)
			return err
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				os.Remove(tmp)
				return werr
			}
			hasher.Write(buf[:n])
			written += int64(n)
			if progress != nil {
				progress(file.Path, written, file.Size)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			os.Remove(tmp)
			return rerr
		}
	}
	if err := out.Close(); err != nil {
		return err
	}
	if file.Size > 0 && written != file.Size {
		os.Remove(tmp)
		return fmt.Errorf("download %s: got %d bytes, want %d", file.Path, written, file.Size)
	}
	if file.Sha256 != "" {
		if sum := hex.EncodeToString(hasher.Sum(nil)); sum != file.Sha256 {
			os.Remove(tmp)
			return fmt.Errorf("download %s: sha256 mismatch", file.Path)
		}
	}
	return os.Rename(tmp, localPath)
}
