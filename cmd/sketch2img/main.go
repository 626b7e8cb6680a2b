package main

import (
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/sketch-api/internal/app"
	"github.com/Brownie44l1/sketch-api/internal/config"
	"github.com/Brownie44l1/sketch-api/internal/logging"
	"github.com/Brownie44l1/sketch-api/internal/pipeline"
)

type options struct {
	envFile      string
	sketchPath   string
	outputDir    string
	enhance      bool
	ensemble     bool
	generatorNum int
	samples      int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "sketch2img",
		Short:        "Generate an image from a sketch",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flags.StringVar(&opts.sketchPath, "sketch_path", "", "path to the input sketch image")
	flags.StringVar(&opts.outputDir, "output_dir", "generated_images", "directory to save the generated image and processed sketch")
	flags.BoolVar(&opts.enhance, "enhance", false, "apply edge enhancement to the sketch")
	flags.BoolVar(&opts.ensemble, "ensemble", false, "average several noised passes")
	flags.IntVar(&opts.generatorNum, "generator_num", 1, "generator model to use (1, 2 or 3)")
	flags.IntVar(&opts.samples, "samples", 0, "ensemble passes (default ENSEMBLE_SAMPLES)")
	_ = cmd.MarkFlagRequired("sketch_path")
	return cmd
}

func run(cmd *cobra.Command, opts options) error {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// warnings only, so the printed paths stay readable
	logger, err := logging.NewLogger(logging.Options{Development: true, Level: "warn"})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	a := app.New(cfg, logger)
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}()

	if ids := a.Registry.IDs(); !slices.Contains(ids, opts.generatorNum) {
		return fmt.Errorf("invalid --generator_num %d: choose from %v", opts.generatorNum, ids)
	}

	req := pipeline.DefaultRequest(opts.sketchPath, opts.outputDir)
	req.EnhanceSketch = opts.enhance
	req.Ensemble = opts.ensemble
	req.GeneratorID = opts.generatorNum
	req.EnsembleSamples = cfg.EnsembleSamples
	if opts.samples > 0 {
		req.EnsembleSamples = opts.samples
	}
	if req.EnsembleSamples > cfg.MaxEnsembleSamples {
		return fmt.Errorf("invalid --samples %d: at most %d (MAX_ENSEMBLE_SAMPLES)", req.EnsembleSamples, cfg.MaxEnsembleSamples)
	}

	res, err := a.Pipeline.Generate(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Generated image saved at: %s\n", res.GeneratedPath)
	fmt.Fprintf(out, "Input sketch saved at: %s\n", res.SketchPath)
	return nil
}
