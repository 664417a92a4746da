package hub

import (
	"context"
	"fmt"

	"llmd/pkg/types"
)

// Pull downloads the weights for a registry entry into destDir, dispatching
// on the entry's hub source.
func Pull(ctx context.Context, m types.Model, destDir, authToken string, progress ProgressFunc) error {
	if m.Source == "" {
		return fmt.Errorf("model %s has no hub source", m.ID)
	}
	ref, err := ParseRef(m.Source)
	if err != nil {
		return err
	}
	switch ref.Hub {
	case KindModelScope:
		return NewModelScopeClient().DownloadSnapshot(ctx, ref.Repo, m.Revision, destDir, progress)
	case KindHuggingFace:
		opts := NewHFOptions()
		opts.AuthToken = authToken
		if m.Revision != "" {
			opts.Revision = m.Revision
		}
		return DownloadHFSnapshot(ref.Repo, destDir, opts)
	default:
		return fmt.Errorf("unsupported hub %q", ref.Hub)
	}
}
