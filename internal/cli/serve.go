package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"llmd/internal/config"
	"llmd/internal/engine"
	"llmd/internal/httpapi"
	"llmd/internal/manager"
	"llmd/internal/registry"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var (
		addr         string
		modelsDir    string
		manifest     string
		defaultModel string
		engineBin    string
		budgetMB     int
		marginMB     int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			// Flags override file values when set.
			if cmd.Flags().Changed("addr") || cfg.Server.Addr == "" {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("models-dir") || cfg.Models.Dir == "" {
				cfg.Models.Dir = modelsDir
			}
			if cmd.Flags().Changed("manifest") {
				cfg.Models.Manifest = manifest
			}
			if cmd.Flags().Changed("default-model") {
				cfg.Models.Default = defaultModel
			}
			if cmd.Flags().Changed("engine-bin") {
				cfg.Engine.Bin = engineBin
			}
			if cmd.Flags().Changed("vram-budget-mb") {
				cfg.Gateway.VRAMBudgetMB = budgetMB
			}
			if cmd.Flags().Changed("vram-margin-mb") {
				cfg.Gateway.VRAMMarginMB = marginMB
			}
			return runServe(cmd.Context(), opts, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envOr("LLMD_ADDR", ":8080"), "HTTP listen address")
	cmd.Flags().StringVar(&modelsDir, "models-dir", envOr("LLMD_MODELS_DIR", "~/.llmd/models"), "Directory holding downloaded model weights")
	cmd.Flags().StringVar(&manifest, "manifest", "", "Model manifest file (yaml/json/toml); presets when empty")
	cmd.Flags().StringVar(&defaultModel, "default-model", "", "Default model id when request omits model")
	cmd.Flags().StringVar(&engineBin, "engine-bin", envOr("LLMD_ENGINE_BIN", "vllm"), "Inference engine binary")
	cmd.Flags().IntVar(&budgetMB, "vram-budget-mb", 0, "VRAM budget in MB for all instances (0=unlimited)")
	cmd.Flags().IntVar(&marginMB, "vram-margin-mb", 0, "Reserved VRAM margin in MB to keep free")
	return cmd
}

func runServe(ctx context.Context, opts *rootOptions, cfg config.Config) error {
	log := opts.log

	reg, err := registry.Load(cfg.Models.Dir, cfg.Models.Manifest)
	if err != nil {
		return err
	}
	sup := engine.NewSupervisor(cfg.Engine, log)
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Models:        reg,
		Engines:       sup,
		BudgetMB:      cfg.Gateway.VRAMBudgetMB,
		MarginMB:      cfg.Gateway.VRAMMarginMB,
		DefaultModel:  cfg.Models.Default,
		MaxQueueDepth: cfg.Gateway.MaxQueueDepth,
		MaxWait:       cfg.Gateway.MaxWait(),
		MaxInflight:   cfg.Gateway.MaxInflight,
		DrainTimeout:  cfg.Gateway.DrainTimeout(),
		Logger:        log,
	})
	defer mgr.Close()

	baseCtx, cancelBase := context.WithCancel(ctx)
	defer cancelBase()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(log)
	httpapi.SetMaxBodyBytes(cfg.Server.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.Server.CORSEnabled, cfg.Server.CORSOrigins,
		[]string{"GET", "POST", "OPTIONS"}, []string{"Content-Type", "Authorization", "X-Log-Level"})

	if cfg.Models.Watch && cfg.Models.Manifest != "" {
		go func() {
			if err := reg.Watch(baseCtx, log); err != nil {
				log.Warn().Err(err).Str("manifest", cfg.Models.Manifest).Msg("manifest watch failed")
			}
		}()
	}

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: httpapi.NewMux(mgr)}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("models_dir", reg.ModelsDir()).Msg("llmd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown error")
	}
	return nil
}
