package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/config"
	"github.com/swdee/go-wagonocr/logging"
	"github.com/swdee/go-wagonocr/restore"
)

// imageExts are the file types restored from an input directory
var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".bmp": true,
	".tif": true, ".tiff": true, ".webp": true,
}

// Deblurrer restores images to an output directory
type Deblurrer struct {
	agent *restore.Agent
	// outDir receives restored images under their input name
	outDir string
	// blurMap also writes a _blurmap heat map of each input
	blurMap bool
	log     zerolog.Logger
}

// File restores the image at path
func (d *Deblurrer) File(path string) error {

	img := gocv.IMRead(path, gocv.IMReadColor)
	defer img.Close()

	if img.Empty() {
		return fmt.Errorf("error reading image %s", path)
	}

	rep, err := d.agent.Analyze(img)

	if err != nil {
		return err
	}

	out, err := d.agent.Restore(img)

	if err != nil {
		return fmt.Errorf("error restoring %s: %w", path, err)
	}

	defer out.Close()

	after, err := d.agent.Analyze(out)

	if err != nil {
		return err
	}

	name := filepath.Base(path)
	dst := filepath.Join(d.outDir, name)

	if !gocv.IMWrite(dst, out) {
		return fmt.Errorf("error writing %s", dst)
	}

	d.log.Info().Str("file", name).Float64("sharpness", rep.Score).
		Bool("blurry", rep.IsBlurry).Float64("restored_sharpness", after.Score).
		Msg("Restored image")

	if !d.blurMap {
		return nil
	}

	_, heat, err := d.agent.BlurMap(img)

	if err != nil {
		return fmt.Errorf("error computing blur map: %w", err)
	}

	defer heat.Close()

	ext := filepath.Ext(name)
	mapPath := filepath.Join(d.outDir, strings.TrimSuffix(name, ext)+"_blurmap"+ext)

	if !gocv.IMWrite(mapPath, heat) {
		return fmt.Errorf("error writing %s", mapPath)
	}

	return nil
}

// inputs returns path itself or the images directly under it
func inputs(path string) ([]string, error) {

	fi, err := os.Stat(path)

	if err != nil {
		return nil, err
	}

	if !fi.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)

	if err != nil {
		return nil, err
	}

	var files []string

	for _, e := range entries {
		if !e.IsDir() && imageExts[strings.ToLower(filepath.Ext(e.Name()))] {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}

	return files, nil
}

func main() {

	parser := argparse.NewParser("deblur", "Restore motion blurred wagon images")
	input := parser.String("i", "input", &argparse.Options{Help: "Image file or directory of images", Required: true})
	outDir := parser.String("o", "output", &argparse.Options{Help: "Output directory", Default: "restored"})
	cfgFile := parser.String("c", "config", &argparse.Options{Help: "YAML configuration file", Default: ""})
	ckpt := parser.String("k", "checkpoint", &argparse.Options{Help: "Checkpoint file, overrides the configuration", Default: ""})
	tile := parser.Int("t", "tile", &argparse.Options{Help: "Tile size for large images, overrides the configuration", Default: 0})
	blurMap := parser.Flag("m", "blurmap", &argparse.Options{Help: "Also write a blur heat map of each input"})

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

	if *tile > 0 {
		cfg.Restore.TileSize = *tile
	}

	logger := logging.Component("deblur")

	agent, err := restore.NewAgent(cfg.Restore.Agent(&logger))

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create restoration agent")
	}

	files, err := inputs(*input)

	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read input")
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("Failed to create output directory")
	}

	d := &Deblurrer{agent: agent, outDir: *outDir, blurMap: *blurMap, log: logger}
	failed := 0

	for _, f := range files {
		if err := d.File(f); err != nil {
			logger.Error().Err(err).Str("file", f).Msg("Failed to restore image")
			failed++
		}
	}

	logger.Info().Int("images", len(files)).Int("failed", failed).Str("output", *outDir).Msg("Done")

	if failed > 0 {
		os.Exit(1)
	}
}
