package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/rs/zerolog/log"

	"github.com/swdee/go-wagonocr/config"
	"github.com/swdee/go-wagonocr/logging"
	"github.com/swdee/go-wagonocr/train"
)

func main() {

	parser := argparse.NewParser("train", "Train the wagon image restoration model")
	cfgFile := parser.String("c", "config", &argparse.Options{Help: "YAML configuration file", Default: ""})
	blurDir := parser.String("b", "blur", &argparse.Options{Help: "Directory of blurred images, overrides the configuration", Default: ""})
	sharpDir := parser.String("s", "sharp", &argparse.Options{Help: "Directory of sharp images, overrides the configuration", Default: ""})
	ckptDir := parser.String("o", "checkpoints", &argparse.Options{Help: "Checkpoint directory, overrides the configuration", Default: ""})
	epochs := parser.Int("e", "epochs", &argparse.Options{Help: "Number of epochs, overrides the configuration", Default: 0})
	batch := parser.Int("", "batch", &argparse.Options{Help: "Batch size, overrides the configuration", Default: 0})
	modelSize := parser.Selector("m", "model", []string{"small", "medium"}, &argparse.Options{Help: "Model size, overrides the configuration"})
	plotPath := parser.String("p", "plot", &argparse.Options{Help: "PNG file for loss curves", Default: ""})
	fresh := parser.Flag("", "fresh", &argparse.Options{Help: "Start from scratch instead of resuming"})
	mixed := parser.Flag("", "amp", &argparse.Options{Help: "Train with half precision activations"})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgFile)

	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(cfg.Log.Level, cfg.Log.Console); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	tc := cfg.Train

	if *blurDir != "" {
		tc.BlurDir = *blurDir
	}

	if *sharpDir != "" {
		tc.SharpDir = *sharpDir
	}

	if *ckptDir != "" {
		tc.CheckpointDir = *ckptDir
	}

	if *epochs > 0 {
		tc.Epochs = *epochs
	}

	if *batch > 0 {
		tc.BatchSize = *batch
	}

	if *modelSize != "" {
		tc.ModelSize = *modelSize
	}

	if *plotPath != "" {
		tc.PlotPath = *plotPath
	}

	if *fresh {
		tc.Resume = false
	}

	if *mixed {
		tc.MixedPrecision = true
	}

	if tc.BlurDir == "" || tc.SharpDir == "" {
		log.Fatal().Msg("Blurred and sharp image directories are required")
	}

	logger := logging.Component("train")

	trainer, err := train.NewTrainer(tc.Options(&logger))

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create trainer")
	}

	logger.Info().Int("start_epoch", trainer.StartEpoch()).Int("epochs", tc.Epochs).
		Str("model", tc.ModelSize).Msg("Starting training")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	history, err := trainer.Run(ctx)

	if err != nil {
		if train.IsCancelled(err) {
			logger.Warn().Int("epochs", len(history)).Msg("Training interrupted, resume from the latest checkpoint")
			return
		}

		logger.Fatal().Err(err).Msg("Training failed")
	}

	best := 0.0

	for _, rec := range history {
		best = max(best, rec.ValPSNR)
	}

	logger.Info().Int("epochs", len(history)).Float64("best_psnr", best).Msg("Training complete")
}
