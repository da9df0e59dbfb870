package consensus

import (
	"reflect"
	"testing"

	"github.com/foxxcyber/solvcaptcha/internal/models"
)

func cand(source, text string) models.Candidate {
	return models.Candidate{Source: source, Text: text}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		candidates []models.Candidate
		wantText   string
		wantConf   int
		wantSrc    []string
	}{
		{
			name: "two services agree",
			candidates: []models.Candidate{
				cand("SvcA", "AB12"), cand("SvcB", "AB12"), cand("OCR_Gray", "ab12"),
			},
			wantText: "AB12",
			wantConf: 90,
			wantSrc:  []string{"SvcA", "SvcB"},
		},
		{
			name:       "single service",
			candidates: []models.Candidate{cand("SvcA", "XY9Z")},
			wantText:   "XY9Z",
			wantConf:   75,
			wantSrc:    []string{"SvcA"},
		},
		{
			name: "ocr only",
			candidates: []models.Candidate{
				cand("OCR_Otsu", "k3mN"), cand("OCR_Gray", "k3mN"), cand("OCR_Bin", "q9pL"),
			},
			wantText: "k3mN",
			wantConf: 60,
			wantSrc:  []string{"OCR_Otsu", "OCR_Gray"},
		},
		{
			name: "three services agree is capped",
			candidates: []models.Candidate{
				cand("2captcha", "h7Kp"), cand("anticaptcha", "h7Kp"), cand("capmonster", "h7Kp"),
			},
			wantText: "h7Kp",
			wantConf: 95,
			wantSrc:  []string{"2captcha", "anticaptcha", "capmonster"},
		},
		{
			name: "services disagree, first one wins and ocr corroborates",
			candidates: []models.Candidate{
				cand("OCR_Gray", "w4tR"), cand("OCR_Otsu", "w4tR"), cand("OCR_TopHat", "w4tR"),
				cand("2captcha", "w4tR"), cand("capmonster", "W4TR"),
			},
			wantText: "w4tR",
			wantConf: 85,
			wantSrc:  []string{"2captcha", "OCR_Gray", "OCR_Otsu"},
		},
		{
			name: "first service answer kept when ocr disagrees",
			candidates: []models.Candidate{
				cand("OCR_Gray", "zzz1"), cand("anticaptcha", "m2Qe"),
			},
			wantText: "m2Qe",
			wantConf: 75,
			wantSrc:  []string{"anticaptcha"},
		},
		{
			name: "ocr frequency tie goes to first seen",
			candidates: []models.Candidate{
				cand("OCR_A", "abc1"), cand("OCR_B", "xyz2"), cand("OCR_C", "xyz2"), cand("OCR_D", "abc1"),
			},
			wantText: "abc1",
			wantConf: 60,
			wantSrc:  []string{"OCR_A", "OCR_D"},
		},
		{
			name: "ocr confidence and sources are capped",
			candidates: []models.Candidate{
				cand("OCR_A", "p0o9"), cand("OCR_B", "p0o9"), cand("OCR_C", "p0o9"),
				cand("OCR_D", "p0o9"), cand("OCR_E", "p0o9"),
			},
			wantText: "p0o9",
			wantConf: 70,
			wantSrc:  []string{"OCR_A", "OCR_B", "OCR_C"},
		},
	}

	engine := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Decide(tt.candidates)
			if !got.Solved() {
				t.Fatalf("expected an answer, got none")
			}
			if got.Text() != tt.wantText {
				t.Errorf("BestText = %q, want %q", got.Text(), tt.wantText)
			}
			if got.Confidence != tt.wantConf {
				t.Errorf("Confidence = %d, want %d", got.Confidence, tt.wantConf)
			}
			if !reflect.DeepEqual(got.Sources, tt.wantSrc) {
				t.Errorf("Sources = %v, want %v", got.Sources, tt.wantSrc)
			}
			if len(got.Candidates) != len(tt.candidates) {
				t.Errorf("Candidates len = %d, want %d", len(got.Candidates), len(tt.candidates))
			}
		})
	}
}

func TestDecideEmpty(t *testing.T) {
	got := New().Decide(nil)
	if got.Solved() {
		t.Fatalf("expected no answer, got %q", got.Text())
	}
	if got.Confidence != 0 {
		t.Fatalf("Confidence = %d, want 0", got.Confidence)
	}
	if got.Sources == nil || len(got.Sources) != 0 {
		t.Fatalf("Sources = %#v, want empty slice", got.Sources)
	}
}

func TestDecideIsDeterministic(t *testing.T) {
	input := []models.Candidate{
		cand("OCR_Gray", "r5tY"), cand("OCR_Otsu", "r5tY"), cand("2captcha", "R5TY"),
		cand("anticaptcha", "r5tY"), cand("OCR_Enhanced", "q1w2"),
	}
	snapshot := append([]models.Candidate(nil), input...)

	engine := New()
	first := engine.Decide(input)
	for i := 0; i < 20; i++ {
		if again := engine.Decide(input); !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs: %+v vs %+v", i, first, again)
		}
	}
	if !reflect.DeepEqual(input, snapshot) {
		t.Fatalf("input modified: %v", input)
	}
}

func TestDecideConfidenceBounds(t *testing.T) {
	sources := []string{"2captcha", "anticaptcha", "capmonster", "OCR_Gray", "OCR_Otsu", "OCR_Enhanced"}
	texts := []string{"aaa1", "bbb2"}

	engine := New()
	// every assignment of two texts to a subset of six sources
	for mask := 0; mask < 1<<len(sources); mask++ {
		for pick := 0; pick < 1<<len(sources); pick++ {
			var cands []models.Candidate
			for i, src := range sources {
				if mask&(1<<i) == 0 {
					continue
				}
				cands = append(cands, cand(src, texts[(pick>>i)&1]))
			}
			res := engine.Decide(cands)
			if !res.Solved() {
				if res.Confidence != 0 {
					t.Fatalf("no answer with confidence %d for %v", res.Confidence, cands)
				}
				continue
			}
			if res.Confidence <= 0 || res.Confidence > 95 {
				t.Fatalf("confidence %d out of range for %v", res.Confidence, cands)
			}
		}
	}
}

func TestTally(t *testing.T) {
	res := New().Decide([]models.Candidate{
		cand("OCR_Gray", "k3mN"), cand("2captcha", "K3MN"), cand("OCR_Otsu", "k3mN"), cand("capmonster", "k3mN"),
	})
	want := []models.TextCount{
		{Text: "k3mN", Count: 3, External: 1, Local: 2},
		{Text: "K3MN", Count: 1, External: 1, Local: 0},
	}
	if !reflect.DeepEqual(res.Tally, want) {
		t.Fatalf("Tally = %+v, want %+v", res.Tally, want)
	}
}

func TestCustomClassifier(t *testing.T) {
	engine := &Engine{IsExternal: func(source string) bool { return source == "trusted" }}
	res := engine.Decide([]models.Candidate{cand("SvcA", "abc9"), cand("SvcB", "abc9"), cand("trusted", "zz9x")})
	if res.Text() != "zz9x" || res.Confidence != 75 {
		t.Fatalf("got %q/%d, want zz9x/75", res.Text(), res.Confidence)
	}
}
