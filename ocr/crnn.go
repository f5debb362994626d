package ocr

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	"gocv.io/x/gocv"

	"github.com/swdee/go-wagonocr/detect"
)

var colorBlack = color.RGBA{A: 255}

// CRNNParams defines the recogniser input geometry and character set
type CRNNParams struct {
	// InputWidth and InputHeight are the model input dimensions
	InputWidth  int
	InputHeight int
	// Charset lists the model characters, index 0 is the CTC blank
	Charset []string
}

// DefaultCRNNParams returns parameters for a PP-OCR style recogniser with a
// 48x320 input
func DefaultCRNNParams(charset []string) CRNNParams {
	return CRNNParams{
		InputWidth:  320,
		InputHeight: 48,
		Charset:     charset,
	}
}

// CRNN recognises a single line of text with an ONNX recogniser run through
// the OpenCV DNN module.  The model output must be softmax probabilities
// shaped [1, steps, classes].  Calls are serialised as the network is not
// safe for concurrent use.
type CRNN struct {
	Params  CRNNParams
	net     gocv.Net
	decoder *CTCDecoder
	mu      sync.Mutex
}

// NewCRNN loads the ONNX recogniser at path
func NewCRNN(path string, p CRNNParams) (*CRNN, error) {

	if len(p.Charset) < 2 {
		return nil, fmt.Errorf("recogniser charset needs a blank and at least one character")
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("error opening recogniser model: %w", err)
	}

	net := gocv.ReadNet(path, "")

	if net.Empty() {
		return nil, fmt.Errorf("error loading recogniser model %s", path)
	}

	net.SetPreferableBackend(gocv.NetBackendDefault)
	net.SetPreferableTarget(gocv.NetTargetCPU)

	return &CRNN{
		Params:  p,
		net:     net,
		decoder: NewCTCDecoder(p.Charset),
	}, nil
}

// Close releases the network
func (c *CRNN) Close() error {

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.net.Close()
}

// Read implements TextReader.  The whole image is treated as one text line.
func (c *CRNN) Read(img gocv.Mat, allow string) ([]TextResult, error) {

	if img.Empty() {
		return nil, fmt.Errorf("empty image")
	}

	input := gocv.NewMat()
	defer input.Close()

	if err := c.prepare(img, &input); err != nil {
		return nil, err
	}

	blob := gocv.BlobFromImage(input, 1.0/127.5,
		image.Pt(c.Params.InputWidth, c.Params.InputHeight),
		gocv.NewScalar(127.5, 127.5, 127.5, 0), true, false)
	defer blob.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.net.SetInput(blob, "")

	out := c.net.Forward("")
	defer out.Close()

	dims := out.Size()

	if len(dims) != 3 || dims[0] != 1 {
		return nil, fmt.Errorf("unexpected recogniser output shape %v", dims)
	}

	data, err := out.DataPtrFloat32()

	if err != nil {
		return nil, fmt.Errorf("error reading recogniser output: %w", err)
	}

	c.decoder.Allow(allow)

	text, score, err := c.decoder.Decode(data, dims[1], dims[2])

	if err != nil {
		return nil, err
	}

	if text == "" {
		return nil, nil
	}

	return []TextResult{{
		Box:        detect.BBox{X2: float64(img.Cols()), Y2: float64(img.Rows())},
		Text:       text,
		Confidence: score,
	}}, nil
}

// prepare converts img to BGR and resizes it to the input height keeping the
// aspect ratio, left aligned on a black canvas of the input width
func (c *CRNN) prepare(img gocv.Mat, dst *gocv.Mat) error {

	bgr := gocv.NewMat()
	defer bgr.Close()

	switch img.Channels() {
	case 1:
		gocv.CvtColor(img, &bgr, gocv.ColorGrayToBGR)
	case 3:
		img.CopyTo(&bgr)
	case 4:
		gocv.CvtColor(img, &bgr, gocv.ColorBGRAToBGR)
	default:
		return fmt.Errorf("unsupported channel count %d", img.Channels())
	}

	w, h := c.Params.InputWidth, c.Params.InputHeight
	ratio := float64(bgr.Cols()) / float64(bgr.Rows())
	newW := int(float64(h)*ratio + 0.999)

	if newW > w {
		newW = w
	}

	if newW < 1 {
		newW = 1
	}

	resized := gocv.NewMat()
	defer resized.Close()

	gocv.Resize(bgr, &resized, image.Pt(newW, h), 0, 0, gocv.InterpolationLinear)

	gocv.CopyMakeBorder(resized, dst, 0, 0, 0, w-newW, gocv.BorderConstant,
		colorBlack)

	return nil
}
