package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"llmd/internal/hub"
	"llmd/internal/registry"
	"llmd/pkg/types"
)

func newPullCmd(opts *rootOptions) *cobra.Command {
	var (
		modelsDir string
		manifest  string
		revision  string
		source    string
		token     string
	)
	cmd := &cobra.Command{
		Use:   "pull <model-id|org/name>",
		Short: "Download model weights from ModelScope or Hugging Face",
		Example: `  llmd pull qwen3-8b
  llmd pull LLM-Research/gemma-3-4b-it
  llmd pull my-model --source hf:org/name --revision main`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("models-dir") || cfg.Models.Dir == "" {
				cfg.Models.Dir = modelsDir
			}
			if cmd.Flags().Changed("manifest") {
				cfg.Models.Manifest = manifest
			}
			if token == "" {
				token = cfg.Models.HubToken
			}

			reg, err := registry.Load(cfg.Models.Dir, cfg.Models.Manifest)
			if err != nil {
				return err
			}
			m, ok := reg.Get(args[0])
			if !ok {
				// Not a registry entry: treat the argument as a hub reference.
				m = types.Model{ID: refID(args[0]), Source: args[0]}
			}
			if source != "" {
				m.Source = source
			}
			if revision != "" {
				m.Revision = revision
			}
			dest := reg.LocalPath(m)

			opts.log.Info().Str("model", m.ID).Str("source", m.Source).Str("dest", dest).Msg("pulling")
			progress := func(name string, done, total int64) {
				if done == total && total > 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s (%d bytes)\n", name, total)
				}
			}
			if err := hub.Pull(cmd.Context(), m, dest, token, progress); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pulled %s to %s\n", m.ID, dest)
			return nil
		},
	}
	cmd.Flags().StringVar(&modelsDir, "models-dir", envOr("LLMD_MODELS_DIR", "~/.llmd/models"), "Directory holding downloaded model weights")
	cmd.Flags().StringVar(&manifest, "manifest", "", "Model manifest file")
	cmd.Flags().StringVar(&revision, "revision", "", "Hub revision (default per entry, else master/main)")
	cmd.Flags().StringVar(&source, "source", "", "Override hub source, e.g. modelscope:Qwen/Qwen3-8B or hf:org/name")
	cmd.Flags().StringVar(&token, "token", envOr("LLMD_HUB_TOKEN", ""), "Auth token for gated repositories")
	return cmd
}

// refID flattens a raw hub reference into a single path segment so the
// download lands in one directory the registry scan can pick up as an id.
func refID(ref string) string {
	if i := strings.Index(ref, ":"); i >= 0 {
		ref = ref[i+1:]
	}
	return strings.ReplaceAll(ref, "/", "__")
}
