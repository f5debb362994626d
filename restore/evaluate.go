package restore

import (
	"context"
	"fmt"
	"time"

	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/metrics"
)

// EvalPair is a blurred image file and its sharp ground truth
type EvalPair struct {
	Name  string
	Blur  string
	Sharp string
}

// EvalResult holds the scores of one restored pair
type EvalResult struct {
	Name string
	// InputPSNR compares the blurred input with the ground truth
	InputPSNR float64
	PSNR      float64
	SSIM      float64
	Latency   time.Duration
}

// EvalReport summarises an evaluation run
type EvalReport struct {
	Results   []EvalResult
	Skipped   int
	InputPSNR metrics.Summary
	PSNR      metrics.Summary
	SSIM      metrics.Summary
	// LatencyMs summarises restoration time in milliseconds
	LatencyMs metrics.Summary
}

// Evaluate restores the blurred image of every pair and scores it against
// the sharp image.  Pairs that cannot be read or differ in size are logged
// and skipped.
func (a *Agent) Evaluate(ctx context.Context, pairs []EvalPair) (EvalReport, error) {

	var report EvalReport
	var inPSNR, psnr, ssim, latency []float64

	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		res, err := a.evaluatePair(p)

		if err != nil {
			a.log.Warn().Err(err).Str("pair", p.Name).Msg("Skipping evaluation pair")
			report.Skipped++
			continue
		}

		a.log.Debug().Str("pair", p.Name).Float64("psnr", res.PSNR).
			Float64("ssim", res.SSIM).Dur("latency", res.Latency).Msg("Evaluated pair")

		report.Results = append(report.Results, res)
		inPSNR = append(inPSNR, res.InputPSNR)
		psnr = append(psnr, res.PSNR)
		ssim = append(ssim, res.SSIM)
		latency = append(latency, float64(res.Latency.Microseconds())/1000)
	}

	report.InputPSNR = metrics.Summarize(inPSNR)
	report.PSNR = metrics.Summarize(psnr)
	report.SSIM = metrics.Summarize(ssim)
	report.LatencyMs = metrics.Summarize(latency)

	return report, nil
}

// evaluatePair restores and scores a single pair
func (a *Agent) evaluatePair(p EvalPair) (EvalResult, error) {

	blur := gocv.IMRead(p.Blur, gocv.IMReadColor)
	defer blur.Close()

	sharp := gocv.IMRead(p.Sharp, gocv.IMReadColor)
	defer sharp.Close()

	if blur.Empty() || sharp.Empty() {
		return EvalResult{}, fmt.Errorf("unreadable image")
	}

	if blur.Rows() != sharp.Rows() || blur.Cols() != sharp.Cols() {
		return EvalResult{}, fmt.Errorf("image sizes differ: %dx%d vs %dx%d",
			blur.Cols(), blur.Rows(), sharp.Cols(), sharp.Rows())
	}

	start := time.Now()
	restored, err := a.Restore(blur)
	took := time.Since(start)

	if err != nil {
		return EvalResult{}, err
	}

	defer restored.Close()

	res := EvalResult{Name: p.Name, Latency: took}

	sharpImg, err := sharp.ToImage()

	if err != nil {
		return EvalResult{}, fmt.Errorf("error converting image: %w", err)
	}

	blurImg, err := blur.ToImage()

	if err != nil {
		return EvalResult{}, fmt.Errorf("error converting image: %w", err)
	}

	restoredImg, err := restored.ToImage()

	if err != nil {
		return EvalResult{}, fmt.Errorf("error converting image: %w", err)
	}

	if res.InputPSNR, err = metrics.PSNR(blurImg, sharpImg); err != nil {
		return EvalResult{}, err
	}

	if res.PSNR, err = metrics.PSNR(restoredImg, sharpImg); err != nil {
		return EvalResult{}, err
	}

	if res.SSIM, err = metrics.SSIM(restored, sharp); err != nil {
		return EvalResult{}, err
	}

	return res, nil
}
