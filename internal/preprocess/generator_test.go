package preprocess

import (
	"errors"
	"image"
	"image/color"
	"reflect"
	"testing"
)

// captcha draws dark glyph blocks crossed by a horizontal distractor line
func captcha(w, h int, bg, fg uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{bg, bg, bg, 255})
		}
	}
	for i := 0; i < 4; i++ {
		x0 := 4 + i*(w/5)
		for y := h / 4; y < 3*h/4; y++ {
			for x := x0; x < x0+w/10 && x < w; x++ {
				img.Set(x, y, color.RGBA{fg, fg, fg, 255})
			}
		}
	}
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{fg, fg, fg, 255})
	}
	return img
}

func variantNames(res *Result) []string {
	out := make([]string, len(res.Variants))
	for i, v := range res.Variants {
		out[i] = v.Name
	}
	return out
}

func TestUpscaleFactor(t *testing.T) {
	tests := []struct {
		w, h int
		want int
	}{
		{200, 60, 1},
		{150, 50, 1},
		{100, 60, 3},
		{149, 50, 3},
		{40, 20, 4},
		{30, 10, 5},
		{20, 20, 8},
		{200, 7, 8},
		{0, 10, 1},
		{1, 4096, 32},
		{1, 3000000, 1},
		{4096, 1, 32},
	}
	for _, tt := range tests {
		if got := UpscaleFactor(tt.w, tt.h); got != tt.want {
			t.Errorf("UpscaleFactor(%d, %d) = %d, want %d", tt.w, tt.h, got, tt.want)
		}
	}
}

func TestUpscaleThinImage(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 1, 4096))
	b := Upscale(src).Bounds()
	if area := b.Dx() * b.Dy(); area > maxUpscaledPixels {
		t.Fatalf("upscaled 1x4096 to %dx%d", b.Dx(), b.Dy())
	}
	if b.Dx() != 32 || b.Dy() != 4096*32 {
		t.Fatalf("upscaled to %dx%d, want 32x131072", b.Dx(), b.Dy())
	}
}

func TestUpscaleMeetsMinimum(t *testing.T) {
	src := captcha(40, 12, 255, 0)
	before := append([]uint8(nil), src.Pix...)

	up := Upscale(src)
	b := up.Bounds()
	if b.Dx() < minWidth || b.Dy() < minHeight {
		t.Fatalf("upscaled to %dx%d", b.Dx(), b.Dy())
	}
	if b.Dx()%40 != 0 || b.Dx()/40 != b.Dy()/12 {
		t.Fatalf("factor not integral: %dx%d", b.Dx(), b.Dy())
	}
	if !reflect.DeepEqual(before, src.Pix) {
		t.Fatal("input was modified")
	}
}

func TestMean(t *testing.T) {
	gray := Grayscale(captcha(10, 10, 200, 200))
	if m := Mean(gray); m != 200 {
		t.Fatalf("Mean = %v, want 200", m)
	}
}

func TestGenerateOrder(t *testing.T) {
	res := New().Generate(captcha(60, 20, 240, 20))
	want := []string{
		"Original", "Gray", "Otsu", "AdaptiveGauss", "AdaptiveMean",
		"Thresh120", "Thresh140", "Thresh160", "Thresh180",
		"Denoised3", "Denoised5", "Bilateral",
		"Morph_Small", "Morph_Medium", "Opened", "Closed",
		"NoLines", "Inpainted", "MedianStrong", "OpeningAggressive", "NoLinesOtsu",
		"Gradient", "TopHat", "Sharpened", "Enhanced", "EnhancedNoLines",
	}
	if got := variantNames(res); !reflect.DeepEqual(got, want) {
		t.Fatalf("variants = %v\nwant %v\nfailures %v", got, want, res.Failures)
	}

	orig := res.Variants[0].Image.Bounds()
	for _, v := range res.Variants {
		if v.Image.Bounds().Dx() != orig.Dx() || v.Image.Bounds().Dy() != orig.Dy() {
			t.Errorf("%s: size %v, want %v", v.Name, v.Image.Bounds(), orig)
		}
	}
}

func TestGenerateInvertsDarkImages(t *testing.T) {
	res := New().Generate(captcha(200, 60, 10, 230))
	got := variantNames(res)
	if len(got) < 3 || got[2] != "Inverted" {
		t.Fatalf("variants = %v, want Inverted third", got)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	src := captcha(60, 20, 240, 20)
	a := New().Generate(src)
	b := New().Generate(src)
	if !reflect.DeepEqual(variantNames(a), variantNames(b)) {
		t.Fatalf("order differs: %v vs %v", variantNames(a), variantNames(b))
	}
	for i := range a.Variants {
		if !reflect.DeepEqual(a.Variants[i].Image, b.Variants[i].Image) {
			t.Fatalf("%s differs between runs", a.Variants[i].Name)
		}
	}
}

func TestGenerateSurvivesEveryTransformFailing(t *testing.T) {
	g := &Generator{failing: func(string) bool { return true }}
	res := g.Generate(captcha(60, 20, 240, 20))

	if got := variantNames(res); !reflect.DeepEqual(got, []string{"Original", "Gray"}) {
		t.Fatalf("variants = %v, want Original and Gray", got)
	}
	if len(res.Failures) == 0 {
		t.Fatal("expected failures to be reported")
	}
	for _, err := range res.Failures {
		var te *TransformError
		if !errors.As(err, &te) {
			t.Fatalf("failure %v is not a TransformError", err)
		}
	}
}

func TestGenerateThinImage(t *testing.T) {
	g := &Generator{failing: func(string) bool { return true }}
	res := g.Generate(image.NewGray(image.Rect(0, 0, 1, 3000)))

	if len(res.Variants) != 2 {
		t.Fatalf("variants = %v, want Original and Gray", variantNames(res))
	}
	for _, v := range res.Variants {
		b := v.Image.Bounds()
		if b.Dx()*b.Dy() > maxUpscaledPixels {
			t.Fatalf("%s is %dx%d", v.Name, b.Dx(), b.Dy())
		}
	}
}

func TestGenerateSkipsDependents(t *testing.T) {
	g := &Generator{failing: func(name string) bool { return name == "NoLines" }}
	res := g.Generate(captcha(60, 20, 240, 20))

	skipped := map[string]bool{}
	for _, err := range res.Failures {
		var te *TransformError
		if errors.As(err, &te) {
			skipped[te.Variant] = true
		}
	}
	for _, name := range []string{"NoLines", "Inpainted", "NoLinesOtsu", "EnhancedNoLines"} {
		if !skipped[name] {
			t.Errorf("%s should be skipped, failures: %v", name, res.Failures)
		}
	}
	for _, name := range variantNames(res) {
		if skipped[name] {
			t.Errorf("%s emitted despite failing", name)
		}
	}
}

func TestGenerateEmptyImage(t *testing.T) {
	res := New().Generate(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	if len(res.Variants) != 0 || len(res.Failures) != 1 {
		t.Fatalf("got %d variants, %d failures", len(res.Variants), len(res.Failures))
	}
}
