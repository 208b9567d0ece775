package cv

import (
	"errors"
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"
)

func TestMatchTemplateExactCopy(t *testing.T) {
	haystack := solid(120, 90, gray)
	needle := textured(16, 12)
	paste(haystack, needle, image.Pt(33, 41))

	sm, err := MatchTemplate(haystack, needle, nil)
	if err != nil {
		t.Fatalf("MatchTemplate failed: %v", err)
	}

	if sm.Width != 120-16+1 || sm.Height != 90-12+1 {
		t.Fatalf("Expected %dx%d placements, got %dx%d", 105, 79, sm.Width, sm.Height)
	}

	loc, best := sm.Max()
	if loc != image.Pt(33, 41) {
		t.Errorf("Expected best match at (33,41), got %v", loc)
	}
	if best != 1 {
		t.Errorf("Expected exact copy to score 1, got %v", best)
	}

	cands := sm.Candidates(1.0)
	if len(cands) != 1 || cands[0].Point != image.Pt(33, 41) {
		t.Errorf("Expected a single candidate at threshold 1.0, got %v", cands)
	}
}

func TestMatchTemplateScoresInRange(t *testing.T) {
	haystack := textured(60, 50)
	needle := textured(9, 7)

	sm, err := MatchTemplate(haystack, needle, nil)
	if err != nil {
		t.Fatalf("MatchTemplate failed: %v", err)
	}

	for i, s := range sm.Scores {
		if s < 0 || s > 1 || math.IsNaN(s) {
			t.Fatalf("Score %d out of range: %v", i, s)
		}
	}
}

func TestMatchTemplateBrightnessInvariant(t *testing.T) {
	needle := textured(12, 12)

	// v/2 + 60 is an exact affine transform of every sample
	adjusted := image.NewRGBA(needle.Bounds())
	for i := range needle.Pix {
		if i%4 == 3 {
			adjusted.Pix[i] = 255
			continue
		}
		adjusted.Pix[i] = needle.Pix[i]/2 + 60
	}

	haystack := solid(80, 80, gray)
	paste(haystack, adjusted, image.Pt(20, 30))

	sm, err := MatchTemplate(haystack, needle, nil)
	if err != nil {
		t.Fatalf("MatchTemplate failed: %v", err)
	}

	if got := sm.At(20, 30); got < 0.999999 {
		t.Errorf("Expected brightness-adjusted copy to score ~1, got %v", got)
	}
}

func TestMatchTemplateTransparentMask(t *testing.T) {
	magenta := color.RGBA{255, 0, 255, 255}

	inner := textured(10, 10)
	needle := solid(14, 14, magenta)
	paste(needle, inner, image.Pt(2, 2))

	// On screen the border is something else entirely
	onScreen := solid(14, 14, color.RGBA{0, 200, 0, 255})
	paste(onScreen, inner, image.Pt(2, 2))

	haystack := solid(100, 60, gray)
	paste(haystack, onScreen, image.Pt(50, 20))

	masked, err := MatchTemplate(haystack, needle, &magenta)
	if err != nil {
		t.Fatalf("MatchTemplate failed: %v", err)
	}
	if got := masked.At(50, 20); got != 1 {
		t.Errorf("Expected masked needle to score 1, got %v", got)
	}

	unmasked, err := MatchTemplate(haystack, needle, nil)
	if err != nil {
		t.Fatalf("MatchTemplate failed: %v", err)
	}
	if got := unmasked.At(50, 20); got >= 1 {
		t.Errorf("Expected unmasked needle to score below 1, got %v", got)
	}
}

func TestMatchTemplateFlatWindows(t *testing.T) {
	tests := []struct {
		name     string
		haystack color.RGBA
		needle   color.RGBA
		want     float64
	}{
		{"same level", color.RGBA{100, 100, 100, 255}, color.RGBA{100, 100, 100, 255}, 1},
		{"different level", color.RGBA{100, 100, 100, 255}, color.RGBA{151, 151, 151, 255}, 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm, err := MatchTemplate(solid(10, 10, tt.haystack), solid(4, 4, tt.needle), nil)
			if err != nil {
				t.Fatalf("MatchTemplate failed: %v", err)
			}
			if got := sm.At(0, 0); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestMatchTemplateFlatHaystackTexturedNeedle(t *testing.T) {
	sm, err := MatchTemplate(solid(30, 30, gray), textured(5, 5), nil)
	if err != nil {
		t.Fatalf("MatchTemplate failed: %v", err)
	}
	if _, best := sm.Max(); best != 0 {
		t.Errorf("Expected 0 against a flat haystack, got %v", best)
	}
}

func TestMatchTemplateNeedleLargerThanHaystack(t *testing.T) {
	sm, err := MatchTemplate(solid(10, 10, gray), textured(20, 5), nil)
	if err != nil {
		t.Fatalf("MatchTemplate failed: %v", err)
	}
	if len(sm.Candidates(0)) != 0 {
		t.Error("Expected no candidates when the needle cannot be placed")
	}
}

func TestMatchTemplateInvalid(t *testing.T) {
	magenta := color.RGBA{255, 0, 255, 255}

	if _, err := MatchTemplate(nil, textured(3, 3), nil); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for nil haystack, got %v", err)
	}
	if _, err := MatchTemplate(solid(10, 10, gray), solid(3, 3, magenta), &magenta); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for fully transparent needle, got %v", err)
	}
}

func TestMatchTemplateParallelMatchesSerial(t *testing.T) {
	// Tall enough to be split into bands
	haystack := textured(40, 200)
	needle := CropRegion(haystack, image.Rect(5, 150, 15, 160))

	sm, err := MatchTemplate(haystack, needle, nil)
	if err != nil {
		t.Fatalf("MatchTemplate failed: %v", err)
	}

	model := buildNeedleModel(needle, nil, haystack.Stride)
	for _, p := range []image.Point{{0, 0}, {5, 150}, {30, 190}, {17, 64}} {
		want := model.score(haystack.Pix, p.Y*haystack.Stride+p.X*4)
		if got := sm.At(p.X, p.Y); got != want {
			t.Errorf("Score at %v: expected %v, got %v", p, want, got)
		}
	}
	if got := sm.At(5, 150); got != 1 {
		t.Errorf("Expected exact crop to score 1, got %v", got)
	}
}

// noisy returns an image of uniformly random pixels
func noisy(w, h int, seed int64) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		if i%4 == 3 {
			img.Pix[i] = 255
			continue
		}
		img.Pix[i] = uint8(rng.Intn(256))
	}
	return img
}

func TestSpectralMatchesDirect(t *testing.T) {
	magenta := color.RGBA{255, 0, 255, 255}

	// Odd size so the transform pads past the haystack edge
	haystack := noisy(151, 121, 1)
	paste(haystack, solid(30, 30, gray), image.Pt(100, 80))

	plain := CropRegion(haystack, image.Rect(37, 55, 53, 67))
	bordered := CropRegion(haystack, image.Rect(10, 20, 24, 34))
	for i := 0; i < 14; i++ {
		bordered.SetRGBA(i, 0, magenta)
		bordered.SetRGBA(i, 13, magenta)
		bordered.SetRGBA(0, i, magenta)
		bordered.SetRGBA(13, i, magenta)
	}

	tests := []struct {
		name        string
		needle      *image.RGBA
		transparent *color.RGBA
	}{
		{"textured", plain, nil},
		{"masked", bordered, &magenta},
		{"flat", solid(8, 8, color.RGBA{90, 90, 90, 255}), nil},
		{"tall", textured(5, 121), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hb, nb := haystack.Bounds(), tt.needle.Bounds()
			model := buildNeedleModel(tt.needle, tt.transparent, haystack.Stride)

			direct := newSimilarityMap(hb, nb)
			matchDirect(haystack, model, direct)
			spectral := newSimilarityMap(hb, nb)
			matchSpectral(haystack, tt.needle, tt.transparent, model, spectral)

			for i := range direct.Scores {
				if direct.Scores[i] != spectral.Scores[i] {
					t.Fatalf("Placement (%d,%d): direct %v, spectral %v",
						i%direct.Width, i/direct.Width, direct.Scores[i], spectral.Scores[i])
				}
			}
		})
	}
}

func TestMatchTemplateLargeSearch(t *testing.T) {
	haystack := noisy(640, 360, 7)
	needle := CropRegion(haystack, image.Rect(500, 300, 532, 332))

	sm, err := MatchTemplate(haystack, needle, nil)
	if err != nil {
		t.Fatalf("MatchTemplate failed: %v", err)
	}

	loc, best := sm.Max()
	if loc != image.Pt(500, 300) || best != 1 {
		t.Errorf("Expected exact copy at (500,300) scoring 1, got %v %v", loc, best)
	}
	if cands := sm.Candidates(1.0); len(cands) != 1 {
		t.Errorf("Expected a single exact candidate, got %d", len(cands))
	}
	if got := sm.At(10, 10); got > 0.5 {
		t.Errorf("Expected noise to score low, got %v", got)
	}
}

func TestFFTSize(t *testing.T) {
	tests := []struct{ in, want int }{
		{1, 1}, {7, 8}, {120, 120}, {121, 125}, {1080, 1080}, {1081, 1125}, {1921, 1944},
	}
	for _, tt := range tests {
		if got := fftSize(tt.in); got != tt.want {
			t.Errorf("fftSize(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestCandidatesThresholdMonotonic(t *testing.T) {
	haystack := textured(50, 50)
	paste(haystack, solid(10, 10, red), image.Pt(20, 20))
	needle := CropRegion(haystack, image.Rect(18, 18, 30, 30))

	sm, err := MatchTemplate(haystack, needle, nil)
	if err != nil {
		t.Fatalf("MatchTemplate failed: %v", err)
	}

	prev := -1
	for variation := 0; variation <= 100; variation += 10 {
		threshold := float64(100-variation) / 100
		n := len(sm.Candidates(threshold))
		if n < prev {
			t.Errorf("Candidates shrank from %d to %d at variation %d", prev, n, variation)
		}
		prev = n
	}

	// Every placement scores at least 0
	if prev != sm.Width*sm.Height {
		t.Errorf("Expected all %d placements at variation 100, got %d", sm.Width*sm.Height, prev)
	}
}

func TestParseColorKey(t *testing.T) {
	tests := []struct {
		input   string
		want    *color.RGBA
		wantErr bool
	}{
		{"", nil, false},
		{"#FF00FF", &color.RGBA{255, 0, 255, 255}, false},
		{"0x102030", &color.RGBA{16, 32, 48, 255}, false},
		{"abcdef", &color.RGBA{171, 205, 239, 255}, false},
		{"#FFF", nil, true},
		{"zzzzzz", nil, true},
	}

	for _, tt := range tests {
		got, err := ParseColorKey(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseColorKey(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if tt.want == nil {
			if got != nil {
				t.Errorf("ParseColorKey(%q) = %v, want nil", tt.input, got)
			}
			continue
		}
		if got == nil || *got != *tt.want {
			t.Errorf("ParseColorKey(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestCropRegionClips(t *testing.T) {
	img := textured(20, 20)
	cropped := CropRegion(img, image.Rect(15, 15, 40, 40))

	if cropped.Bounds() != image.Rect(0, 0, 5, 5) {
		t.Errorf("Expected 5x5 crop anchored at origin, got %v", cropped.Bounds())
	}
	if cropped.RGBAAt(0, 0) != img.RGBAAt(15, 15) {
		t.Error("Cropped pixel does not match source")
	}
}
