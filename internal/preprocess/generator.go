// Package preprocess derives the image variants fed to the OCR sweep.
//
// Original and Gray are built in pure Go and are always present. Everything
// else goes through OpenCV on a single-channel 8-bit matrix whose size is
// bounded by Upscale. A transform that panics in Go or produces an empty
// matrix is skipped and reported as a TransformError. gocv does not surface
// OpenCV exceptions, which abort the process, so matrices are checked before
// they are handed to it.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
	"golang.org/x/image/draw"

	"github.com/foxxcyber/solvcaptcha/internal/models"
)

const (
	minWidth     = 150
	minHeight    = 50
	minUpscale   = 3
	darkMean     = 128
	adaptiveSize = 11
	adaptiveC    = 2
	lineLength   = 15
	inpaintSize  = 3
	claheClip    = 2.0
	claheTiles   = 8
)

// FixedThresholds are the manual binarization levels
var FixedThresholds = []int{120, 140, 160, 180}

// TransformError reports one skipped variant
type TransformError struct {
	Variant string
	Err     error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s failed: %v", e.Variant, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

var (
	errEmptyOutput   = errors.New("empty output")
	errUnexpectedMat = errors.New("gray matrix is not single-channel 8-bit")
)

// Result is the ordered variant list plus the transforms that were skipped
type Result struct {
	Variants []models.Variant
	Failures []error
}

// Generator builds variants. The zero value is ready to use.
type Generator struct {
	// failing forces named transforms to fail
	failing func(name string) bool
}

// New returns a Generator
func New() *Generator {
	return &Generator{}
}

// Generate returns the variants of img in a fixed order. It never fails for
// a non-empty image: at least Original and Gray are always returned.
func (g *Generator) Generate(img image.Image) *Result {
	res := &Result{}
	if img == nil || img.Bounds().Empty() {
		res.Failures = append(res.Failures, &TransformError{Variant: "Original", Err: errEmptyOutput})
		return res
	}

	original := Upscale(img)
	gray := Grayscale(original)
	res.Variants = append(res.Variants,
		models.Variant{Name: "Original", Image: original},
		models.Variant{Name: "Gray", Image: gray},
	)

	src, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		res.Failures = append(res.Failures, &TransformError{Variant: "Gray", Err: err})
		return res
	}
	defer src.Close()
	if src.Empty() || src.Type() != gocv.MatTypeCV8UC1 {
		res.Failures = append(res.Failures, &TransformError{Variant: "Gray", Err: errUnexpectedMat})
		return res
	}

	g.opencv(res, src, Mean(gray))
	return res
}

func (g *Generator) opencv(res *Result, gray gocv.Mat, mean float64) {
	small := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(1, 1))
	defer small.Close()
	medium := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(2, 2))
	defer medium.Close()

	if mean < darkMean {
		g.emit(res, "Inverted", func(dst *gocv.Mat) { gocv.BitwiseNot(gray, dst) })
	}

	// binarizations
	g.emit(res, "Otsu", func(dst *gocv.Mat) {
		gocv.Threshold(gray, dst, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	})
	g.emit(res, "AdaptiveGauss", func(dst *gocv.Mat) {
		gocv.AdaptiveThreshold(gray, dst, 255, gocv.AdaptiveThresholdGaussian, gocv.ThresholdBinary, adaptiveSize, adaptiveC)
	})
	g.emit(res, "AdaptiveMean", func(dst *gocv.Mat) {
		gocv.AdaptiveThreshold(gray, dst, 255, gocv.AdaptiveThresholdMean, gocv.ThresholdBinary, adaptiveSize, adaptiveC)
	})
	for _, level := range FixedThresholds {
		g.emit(res, fmt.Sprintf("Thresh%d", level), func(dst *gocv.Mat) {
			gocv.Threshold(gray, dst, float32(level), 255, gocv.ThresholdBinary)
		})
	}

	// denoising
	g.emit(res, "Denoised3", func(dst *gocv.Mat) { gocv.MedianBlur(gray, dst, 3) })
	g.emit(res, "Denoised5", func(dst *gocv.Mat) { gocv.MedianBlur(gray, dst, 5) })
	g.emit(res, "Bilateral", func(dst *gocv.Mat) { gocv.BilateralFilter(gray, dst, 9, 75, 75) })

	// morphology
	g.emit(res, "Morph_Small", func(dst *gocv.Mat) { erodeDilate(gray, dst, small, 1) })
	g.emit(res, "Morph_Medium", func(dst *gocv.Mat) { erodeDilate(gray, dst, medium, 1) })
	g.emit(res, "Opened", func(dst *gocv.Mat) { gocv.MorphologyEx(gray, dst, gocv.MorphOpen, small) })
	g.emit(res, "Closed", func(dst *gocv.Mat) { gocv.MorphologyEx(gray, dst, gocv.MorphClose, small) })

	// distractor lines
	lines, linesErr := g.stage("NoLines", func(dst *gocv.Mat) { lineMask(gray, dst) })
	if linesErr == nil {
		defer lines.Close()
	}
	noLines, noLinesErr := g.derive(linesErr, "NoLines", func(dst *gocv.Mat) { gocv.Subtract(gray, lines, dst) })
	if noLinesErr == nil {
		defer noLines.Close()
		g.keep(res, "NoLines", noLines)
	} else {
		g.fail(res, "NoLines", noLinesErr)
	}

	if linesErr == nil {
		g.emit(res, "Inpainted", func(dst *gocv.Mat) {
			thick := gocv.NewMat()
			defer thick.Close()
			gocv.Dilate(lines, &thick, small)
			gocv.Inpaint(gray, thick, dst, inpaintSize, gocv.Telea)
		})
	} else {
		g.fail(res, "Inpainted", linesErr)
	}

	g.emit(res, "MedianStrong", func(dst *gocv.Mat) { gocv.MedianBlur(gray, dst, 7) })
	g.emit(res, "OpeningAggressive", func(dst *gocv.Mat) { erodeDilate(gray, dst, medium, 2) })

	if noLinesErr == nil {
		g.emit(res, "NoLinesOtsu", func(dst *gocv.Mat) {
			gocv.Threshold(noLines, dst, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
		})
	} else {
		g.fail(res, "NoLinesOtsu", noLinesErr)
	}

	g.emit(res, "Gradient", func(dst *gocv.Mat) { gocv.MorphologyEx(gray, dst, gocv.MorphGradient, small) })
	g.emit(res, "TopHat", func(dst *gocv.Mat) { gocv.MorphologyEx(gray, dst, gocv.MorphTophat, medium) })

	// enhancement
	g.emit(res, "Sharpened", func(dst *gocv.Mat) { sharpen(gray, dst) })
	enhanced, enhancedErr := g.stage("Enhanced", func(dst *gocv.Mat) {
		clahe := gocv.NewCLAHEWithParams(claheClip, image.Pt(claheTiles, claheTiles))
		defer clahe.Close()
		clahe.Apply(gray, dst)
	})
	if enhancedErr == nil {
		defer enhanced.Close()
		g.keep(res, "Enhanced", enhanced)
	} else {
		g.fail(res, "Enhanced", enhancedErr)
	}

	switch {
	case enhancedErr != nil:
		g.fail(res, "EnhancedNoLines", enhancedErr)
	case linesErr != nil:
		g.fail(res, "EnhancedNoLines", linesErr)
	default:
		g.emit(res, "EnhancedNoLines", func(dst *gocv.Mat) { gocv.Subtract(enhanced, lines, dst) })
	}
}

// stage runs one OpenCV step into a fresh matrix owned by the caller. Only Go
// panics are recovered here.
func (g *Generator) stage(name string, fn func(dst *gocv.Mat)) (mat gocv.Mat, err error) {
	mat = gocv.NewMat()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			mat.Close()
		}
	}()

	if g.failing != nil && g.failing(name) {
		return mat, errors.New("forced failure")
	}
	fn(&mat)
	if mat.Empty() {
		return mat, errEmptyOutput
	}
	return mat, nil
}

// derive runs a stage that depends on an earlier one
func (g *Generator) derive(parent error, name string, fn func(dst *gocv.Mat)) (gocv.Mat, error) {
	if parent != nil {
		return gocv.Mat{}, parent
	}
	return g.stage(name, fn)
}

// emit runs a stage and appends its output as a variant
func (g *Generator) emit(res *Result, name string, fn func(dst *gocv.Mat)) {
	mat, err := g.stage(name, fn)
	if err != nil {
		g.fail(res, name, err)
		return
	}
	defer mat.Close()
	g.keep(res, name, mat)
}

// keep converts mat to a Go image and appends it
func (g *Generator) keep(res *Result, name string, mat gocv.Mat) {
	img, err := mat.ToImage()
	if err != nil {
		g.fail(res, name, err)
		return
	}
	res.Variants = append(res.Variants, models.Variant{Name: name, Image: img})
}

func (g *Generator) fail(res *Result, name string, err error) {
	res.Failures = append(res.Failures, &TransformError{Variant: name, Err: err})
}

// lineMask detects long horizontal and vertical strokes
func lineMask(gray gocv.Mat, dst *gocv.Mat) {
	hKernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(lineLength, 1))
	defer hKernel.Close()
	vKernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(1, lineLength))
	defer vKernel.Close()

	horizontal := gocv.NewMat()
	defer horizontal.Close()
	vertical := gocv.NewMat()
	defer vertical.Close()

	gocv.MorphologyEx(gray, &horizontal, gocv.MorphOpen, hKernel)
	gocv.MorphologyEx(gray, &vertical, gocv.MorphOpen, vKernel)
	gocv.Add(horizontal, vertical, dst)
}

// erodeDilate erodes then dilates, iterations times each
func erodeDilate(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat, iterations int) {
	tmp := src.Clone()
	defer tmp.Close()
	for i := 0; i < iterations; i++ {
		gocv.Erode(tmp, &tmp, kernel)
	}
	for i := 0; i < iterations; i++ {
		gocv.Dilate(tmp, &tmp, kernel)
	}
	tmp.CopyTo(dst)
}

func sharpen(src gocv.Mat, dst *gocv.Mat) {
	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	defer kernel.Close()
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			kernel.SetFloatAt(row, col, -1)
		}
	}
	kernel.SetFloatAt(1, 1, 9)
	gocv.Filter2D(src, dst, gocv.MatTypeCV8U, kernel, image.Pt(-1, -1), 0, gocv.BorderDefault)
}

// maxUpscaledPixels bounds the area of the upscaled image
const maxUpscaledPixels = 4 << 20

// UpscaleFactor returns the integer factor that brings a small image up to
// at least 150x50, never less than 3. Large images get 1. The factor is
// lowered, down to 1, until the result fits in maxUpscaledPixels.
func UpscaleFactor(width, height int) int {
	if width <= 0 || height <= 0 {
		return 1
	}
	if height >= minHeight && width >= minWidth {
		return 1
	}
	factor := minUpscale
	if f := int(math.Ceil(float64(minWidth) / float64(width))); f > factor {
		factor = f
	}
	if f := int(math.Ceil(float64(minHeight) / float64(height))); f > factor {
		factor = f
	}
	area := int64(width) * int64(height)
	for factor > 1 && area*int64(factor)*int64(factor) > maxUpscaledPixels {
		factor--
	}
	return factor
}

// Upscale enlarges small images with Catmull-Rom interpolation. The input is
// never modified.
func Upscale(img image.Image) image.Image {
	b := img.Bounds()
	factor := UpscaleFactor(b.Dx(), b.Dy())
	if factor == 1 {
		return imaging.Clone(img)
	}
	return imaging.Resize(img, b.Dx()*factor, b.Dy()*factor, imaging.CatmullRom)
}

// Grayscale converts img to 8-bit luma
func Grayscale(img image.Image) *image.Gray {
	b := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(gray, gray.Bounds(), img, b.Min, draw.Src)
	return gray
}

// Mean is the average intensity of gray
func Mean(gray *image.Gray) float64 {
	b := gray.Bounds()
	if b.Empty() {
		return 0
	}
	var sum uint64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := gray.Pix[gray.PixOffset(b.Min.X, y) : gray.PixOffset(b.Min.X, y)+b.Dx()]
		for _, p := range row {
			sum += uint64(p)
		}
	}
	return float64(sum) / float64(b.Dx()*b.Dy())
}

// Variants is Generate flattened to the variant list and its soft failures
func (g *Generator) Variants(img image.Image) ([]models.Variant, []error) {
	res := g.Generate(img)
	return res.Variants, res.Failures
}
