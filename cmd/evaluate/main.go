package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/swdee/go-wagonocr/config"
	"github.com/swdee/go-wagonocr/logging"
	"github.com/swdee/go-wagonocr/metrics"
	"github.com/swdee/go-wagonocr/restore"
	"github.com/swdee/go-wagonocr/train"
)

// logSummary writes one distribution to the log
func logSummary(l zerolog.Logger, name string, s metrics.Summary) {
	l.Info().Str("metric", name).Int("n", s.Count).Float64("mean", s.Mean).
		Float64("std", s.Std).Float64("min", s.Min).Float64("p50", s.P50).
		Float64("p95", s.P95).Float64("max", s.Max).Msg("Summary")
}

// writeResults writes the per pair scores as CSV
func writeResults(path string, results []restore.EvalResult) error {

	f, err := os.Create(path)

	if err != nil {
		return fmt.Errorf("error creating %s: %w", path, err)
	}

	defer f.Close()

	w := csv.NewWriter(f)

	if err := w.Write([]string{"name", "input_psnr", "psnr", "ssim", "latency_ms"}); err != nil {
		return err
	}

	for _, r := range results {
		err := w.Write([]string{
			r.Name,
			strconv.FormatFloat(r.InputPSNR, 'f', 3, 64),
			strconv.FormatFloat(r.PSNR, 'f', 3, 64),
			strconv.FormatFloat(r.SSIM, 'f', 4, 64),
			strconv.FormatFloat(float64(r.Latency.Microseconds())/1000, 'f', 2, 64),
		})

		if err != nil {
			return err
		}
	}

	w.Flush()

	return w.Error()
}

func main() {

	parser := argparse.NewParser("evaluate", "Score the restoration model on blurred/sharp pairs")
	blurDir := parser.String("b", "blur", &argparse.Options{Help: "Directory of blurred images", Required: true})
	sharpDir := parser.String("s", "sharp", &argparse.Options{Help: "Directory of sharp images", Required: true})
	cfgFile := parser.String("c", "config", &argparse.Options{Help: "YAML configuration file", Default: ""})
	ckpt := parser.String("k", "checkpoint", &argparse.Options{Help: "Checkpoint file, overrides the configuration", Default: ""})
	limit := parser.Int("n", "max", &argparse.Options{Help: "Maximum number of pairs, zero for all", Default: 0})
	out := parser.String("o", "output", &argparse.Options{Help: "CSV file for per pair scores", Default: ""})

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

	if *ckpt != "" {
		cfg.Restore.Checkpoint = *ckpt
	}

	logger := logging.Component("evaluate")

	ds, err := train.NewPairedDataset(*blurDir, *sharpDir, train.DatasetOptions{
		MaxSamples: *limit,
		Logger:     &logger,
	})

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load pairs")
	}

	agent, err := restore.NewAgent(cfg.Restore.Agent(&logger))

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create restoration agent")
	}

	if !agent.CheckpointLoaded() {
		logger.Warn().Msg("Evaluating untrained weights")
	}

	pairs := make([]restore.EvalPair, 0, ds.Len())

	for _, p := range ds.Pairs() {
		pairs = append(pairs, restore.EvalPair{Name: p.Name, Blur: p.Blur, Sharp: p.Sharp})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := agent.Evaluate(ctx, pairs)

	if err != nil {
		log.Fatal().Err(err).Msg("Evaluation stopped")
	}

	logger.Info().Int("pairs", len(rep.Results)).Int("skipped", rep.Skipped).Msg("Evaluation complete")
	logSummary(logger, "input_psnr", rep.InputPSNR)
	logSummary(logger, "psnr", rep.PSNR)
	logSummary(logger, "ssim", rep.SSIM)
	logSummary(logger, "latency_ms", rep.LatencyMs)

	if *out != "" {
		if err := writeResults(*out, rep.Results); err != nil {
			log.Fatal().Err(err).Msg("Failed to write results")
		}
	}
}
