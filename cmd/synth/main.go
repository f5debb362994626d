package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/rs/zerolog/log"

	"github.com/swdee/go-wagonocr/logging"
	"github.com/swdee/go-wagonocr/train"
)

func main() {

	parser := argparse.NewParser("synth", "Create blurred/sharp training pairs from sharp wagon images")
	input := parser.String("i", "input", &argparse.Options{Help: "Directory of sharp images", Required: true})
	output := parser.String("o", "output", &argparse.Options{Help: "Dataset root receiving sharp/ and blurred/", Required: true})
	seed := parser.Int("s", "seed", &argparse.Options{Help: "Random seed", Default: 42})
	minKernel := parser.Int("", "min-kernel", &argparse.Options{Help: "Smallest motion kernel", Default: train.DefaultMinKernel})
	maxKernel := parser.Int("", "max-kernel", &argparse.Options{Help: "Largest motion kernel", Default: train.DefaultMaxKernel})
	noise := parser.Float("n", "noise", &argparse.Options{Help: "Standard deviation of added sensor noise", Default: float64(train.DefaultNoiseSigma)})
	logLevel := parser.String("l", "log-level", &argparse.Options{Help: "Log level", Default: "info"})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		os.Exit(1)
	}

	if err := logging.Init(*logLevel, true); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if *minKernel < 1 || *maxKernel < *minKernel {
		log.Fatal().Int("min", *minKernel).Int("max", *maxKernel).Msg("Invalid kernel range")
	}

	s := train.NewSynthesizer(uint64(*seed))
	s.MinKernel = *minKernel
	s.MaxKernel = *maxKernel
	s.NoiseSigma = *noise

	logger := logging.Component("synth")

	n, err := train.CreateSyntheticPairs(*input, *output, s, &logger)

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create pairs")
	}

	logger.Info().Int("pairs", n).Str("output", *output).Msg("Created synthetic pairs")
}
