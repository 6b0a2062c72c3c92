// Package ocr connects image sources to the recognition client.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"time"

	"gemini-ocr-capture/src/logutil"
	"gemini-ocr-capture/src/screenshot"
)

// DebugSaveEnvVar, when "true", saves every captured image as a PNG in the
// working directory before it is sent.
const DebugSaveEnvVar = "OCR_DEBUG_SAVE_IMAGES"

// ErrSelectionCancelled is returned by a Source when the user backed out
// before an image was produced.
var ErrSelectionCancelled = errors.New("selection cancelled")

// Analyzer turns an image into text. *llm.Client implements it.
type Analyzer interface {
	AnalyzeImage(ctx context.Context, img image.Image) (string, error)
}

// Source produces the image to recognize.
type Source func(ctx context.Context) (image.Image, error)

// FullScreen captures the primary display.
func FullScreen(c screenshot.Capturer) Source {
	return func(ctx context.Context) (image.Image, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return c.CaptureFullScreen()
	}
}

// Region captures r.
func Region(c screenshot.Capturer, r screenshot.Region) Source {
	return func(ctx context.Context) (image.Image, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return c.CaptureRegion(r)
	}
}

// Reader decodes a PNG, JPEG or GIF image from r.
func Reader(r io.Reader) Source {
	return func(ctx context.Context) (image.Image, error) {
		img, _, err := image.Decode(r)
		if err != nil {
			return nil, fmt.Errorf("decode image: %w", err)
		}
		return img, nil
	}
}

// File decodes the image at path.
func File(path string) Source {
	return func(ctx context.Context) (image.Image, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return Reader(f)(ctx)
	}
}

// Recognize takes an image from src and sends it to a.
func Recognize(ctx context.Context, a Analyzer, src Source, logger logutil.Logger) (string, error) {
	logger = logutil.OrNop(logger)
	img, err := src(ctx)
	if err != nil {
		return "", err
	}
	b := img.Bounds()
	logger.Printf("OCR: captured %dx%d image", b.Dx(), b.Dy())

	if os.Getenv(DebugSaveEnvVar) == "true" {
		if path, err := saveDebugImage(debugDir(), img); err != nil {
			logger.Printf("OCR: could not save debug image: %v", err)
		} else {
			logger.Printf("OCR: saved captured image to %s", path)
		}
	}

	return a.AnalyzeImage(ctx, img)
}

// debugDir is where debug captures are written.
var debugDir = os.TempDir

func saveDebugImage(dir string, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	b := img.Bounds()
	name := fmt.Sprintf("debug_capture_%dx%d_%s.png", b.Dx(), b.Dy(), time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	return path, os.WriteFile(path, buf.Bytes(), 0o600)
}
