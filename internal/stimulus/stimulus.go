// Package stimulus loads gesture images and prepares them for presentation.
package stimulus

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"github.com/NeuroEngLabTAU/Fingures-Gestures-Recognition/internal/models"
)

// Presentation frame size every stimulus is fitted to.
const (
	FrameWidth  = 800
	FrameHeight = 600
)

// ErrNoStimuli is returned when a gesture directory holds no usable images.
var ErrNoStimuli = errors.New("no gesture images found")

// Stimulus is a gesture with its prepared image.
type Stimulus struct {
	Gesture models.Gesture
	Image   image.Image
}

// IsStimulusFile reports whether name has a supported image extension (case-insensitive).
func IsStimulusFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".png") || strings.HasSuffix(lower, ".jpg")
}

// GestureID derives the gesture ID from a file name: lower-cased, up to the first dot.
func GestureID(name string) string {
	lower := strings.ToLower(filepath.Base(name))
	if i := strings.Index(lower, "."); i >= 0 {
		return lower[:i]
	}
	return lower
}

// Load reads every .png and .jpg in dir, fitted to the presentation frame.
// Files are returned in directory order.
func Load(dir string) ([]Stimulus, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read gesture directory %s: %w", dir, err)
	}

	var out []Stimulus
	for _, e := range entries {
		if e.IsDir() || !IsStimulusFile(e.Name()) {
			continue
		}
		path := filepath.Join(dir, e.Name())
		img, err := decode(path)
		if err != nil {
			return nil, err
		}
		out = append(out, Stimulus{
			Gesture: models.Gesture{ID: GestureID(e.Name()), Stimulus: path},
			Image:   ResizeAndCrop(img, FrameWidth, FrameHeight),
		})
		slog.Debug("Stimulus loaded", "gesture", GestureID(e.Name()), "path", path)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoStimuli, dir)
	}
	return out, nil
}

// Gestures returns the gestures of the loaded stimuli in order.
func Gestures(stimuli []Stimulus) []models.Gesture {
	out := make([]models.Gesture, len(stimuli))
	for i, s := range stimuli {
		out[i] = s.Gesture
	}
	return out
}

func decode(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open stimulus %s: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode stimulus %s: %w", path, err)
	}
	return img, nil
}

// ResizeAndCrop scales img to cover a width×height frame, preserving aspect ratio,
// and crops the overflow equally from both sides.
func ResizeAndCrop(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return image.NewRGBA(image.Rect(0, 0, width, height))
	}
	imageAspect := float64(b.Dx()) / float64(b.Dy())
	frameAspect := float64(width) / float64(height)

	scaledW, scaledH := width, height
	if imageAspect > frameAspect {
		scaledW = int(imageAspect * float64(height))
	} else {
		scaledH = int(float64(width) / imageAspect)
	}

	scaled := image.NewRGBA(image.Rect(0, 0, scaledW, scaledH))
	draw.CatmullRom.Scale(scaled, scaled.Bounds(), img, b, draw.Src, nil)

	x0 := (scaledW - width) / 2
	y0 := (scaledH - height) / 2
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(out, out.Bounds(), scaled, image.Pt(x0, y0), draw.Src)
	return out
}

// Thumbnail scales img to exactly width×height for cell rendering.
func Thumbnail(img image.Image, width, height int) image.Image {
	out := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(out, out.Bounds(), img, img.Bounds(), draw.Src, nil)
	return out
}
