package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"llmd/internal/registry"
)

func newModelsCmd(opts *rootOptions) *cobra.Command {
	var (
		modelsDir string
		manifest  string
	)
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List registry entries and their download state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("models-dir") || cfg.Models.Dir == "" {
				cfg.Models.Dir = modelsDir
			}
			if cmd.Flags().Changed("manifest") {
				cfg.Models.Manifest = manifest
			}
			reg, err := registry.Load(cfg.Models.Dir, cfg.Models.Manifest)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSERVED NAME\tSOURCE\tDOWNLOADED")
			for _, m := range reg.Models() {
				downloaded := "no"
				if reg.Downloaded(m) {
					downloaded = "yes"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.ID, m.DisplayName(), m.Source, downloaded)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&modelsDir, "models-dir", envOr("LLMD_MODELS_DIR", "~/.llmd/models"), "Directory holding downloaded model weights")
	cmd.Flags().StringVar(&manifest, "manifest", "", "Model manifest file")
	return cmd
}
