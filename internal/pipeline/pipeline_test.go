package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"server/internal/checkpoint"
	"server/internal/domain"
	"server/internal/providers/genai"
	"server/internal/retry"
)

type fakeText struct {
	calls   int
	replies map[string]string // matched by substring of the prompt
	err     error
}

func (f *fakeText) GenerateText(_ context.Context, prompt string, _ []byte) (*genai.TextResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	for needle, reply := range f.replies {
		if strings.Contains(prompt, needle) {
			return &genai.TextResult{Text: reply, Usage: &genai.Usage{PromptTokens: 10, OutputTokens: 5, TotalTokens: 15}}, nil
		}
	}
	return &genai.TextResult{Text: "generic reply", Usage: &genai.Usage{TotalTokens: 1}}, nil
}

type fakeImages struct {
	calls int
	fail  func(call int) bool
}

func (f *fakeImages) GenerateImage(context.Context, string, []byte) (*genai.ImageResult, error) {
	f.calls++
	if f.fail != nil && f.fail(f.calls) {
		return nil, fmt.Errorf("capability unavailable")
	}
	return &genai.ImageResult{
		Data:     []byte("png-bytes"),
		MimeType: "image/png",
		Usage:    &genai.Usage{PromptTokens: 100, OutputTokens: 200, TotalTokens: 300},
	}, nil
}

type fakeFetcher struct {
	calls int
	err   error
}

func (f *fakeFetcher) Fetch(context.Context, string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []byte("selfie-bytes"), nil
}

func newTestPipeline(t *testing.T, text TextGenerator, images ImageGenerator, fetcher Fetcher) (*Pipeline, *checkpoint.Cache, *[]time.Duration) {
	t.Helper()
	cache, err := checkpoint.New(checkpoint.Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("checkpoint.New: %v", err)
	}
	var slept []time.Duration
	p := New(Options{
		Text:    text,
		Images:  images,
		Cache:   cache,
		Fetcher: fetcher,
		Retry:   retry.New(retry.Options{Sleep: func(context.Context, time.Duration) {}}),
		Sleep:   func(_ context.Context, d time.Duration) { slept = append(slept, d) },
	})
	return p, cache, &slept
}

func TestGenerateGlassesImagesFullBatch(t *testing.T) {
	text := &fakeText{replies: map[string]string{
		"SELECT THE 2 BEST FRAME STYLES": "3, 7",
		"design the perfect":             "thin gold rims",
	}}
	images := &fakeImages{}
	p, cache, slept := newTestPipeline(t, text, images, &fakeFetcher{})

	selfieURL := "http://localhost:8080/static/selfies/selfie_test.png"
	var delivered []domain.GeneratedImage
	res := p.GenerateGlassesImages(context.Background(), selfieURL, func(img domain.GeneratedImage, index int) {
		if index != len(delivered) {
			t.Fatalf("callback index %d, want %d", index, len(delivered))
		}
		delivered = append(delivered, img)
	})

	if !res.Success {
		t.Fatalf("result not successful: %+v", res)
	}
	if res.Count != 4 || res.OnFaceCount != 2 || res.ProductCount != 2 {
		t.Fatalf("counts = %d/%d/%d, want 4/2/2", res.Count, res.OnFaceCount, res.ProductCount)
	}
	if len(delivered) != 4 {
		t.Fatalf("callback saw %d images, want 4", len(delivered))
	}

	// "3, 7" selects aviator and browline, each rendered on-face then product.
	wantOrder := []struct {
		style string
		kind  domain.ImageKind
	}{
		{"aviator_metal", domain.ImageOnFace},
		{"aviator_metal", domain.ImageProduct},
		{"browline_combo", domain.ImageOnFace},
		{"browline_combo", domain.ImageProduct},
	}
	for i, want := range wantOrder {
		if delivered[i].StyleID != want.style || delivered[i].Kind != want.kind {
			t.Fatalf("image %d = (%s, %s), want (%s, %s)", i, delivered[i].StyleID, delivered[i].Kind, want.style, want.kind)
		}
	}

	for _, img := range delivered {
		if !strings.HasPrefix(img.Data, "data:image/png;base64,") {
			t.Fatalf("image data is not a data URI: %.40s", img.Data)
		}
		if img.Specs != "thin gold rims" {
			t.Fatalf("image specs = %q", img.Specs)
		}
	}

	if res.Usage.ImageGenerations != 4 || res.Usage.TotalTokens != 4*300 {
		t.Fatalf("usage = %+v", res.Usage)
	}

	// No wait after the final call of the batch.
	if len(*slept) != 3 {
		t.Fatalf("throttled %d times, want 3", len(*slept))
	}

	// 4/4 clears the session's checkpoints.
	session := checkpoint.SessionID(selfieURL)
	for key, done := range cache.Status(session) {
		if done {
			t.Fatalf("checkpoint %q survived a full batch", key)
		}
	}
}

func TestGenerateGlassesImagesResumesFromCheckpoints(t *testing.T) {
	text := &fakeText{}
	images := &fakeImages{}
	p, cache, slept := newTestPipeline(t, text, images, &fakeFetcher{})

	selfieURL := "http://localhost:8080/static/selfies/selfie_resume.png"
	session := checkpoint.SessionID(selfieURL)

	styles := []domain.FrameStyle{domain.FrameCatalog()[0], domain.FrameCatalog()[1]}
	cache.Put(session, "styles", styles)
	for idx, frame := range styles {
		cache.Put(session, fmt.Sprintf("specs_%d", idx), "cached specs")
		for _, kind := range []domain.ImageKind{domain.ImageOnFace, domain.ImageProduct} {
			cache.Put(session, fmt.Sprintf("img_%s_%d", kind, idx), domain.GeneratedImage{
				Data:     "data:image/png;base64,cGl4ZWxz",
				MimeType: "image/png",
				StyleID:  frame.ID,
				Kind:     kind,
			})
		}
	}

	res := p.GenerateGlassesImages(context.Background(), selfieURL, nil)

	if !res.Success || res.Count != 4 {
		t.Fatalf("resume produced %d images, success=%v", res.Count, res.Success)
	}
	if text.calls != 0 || images.calls != 0 {
		t.Fatalf("capabilities were invoked on a fully checkpointed session: text=%d images=%d", text.calls, images.calls)
	}
	if len(*slept) != 0 {
		t.Fatalf("cache hits were throttled %d times", len(*slept))
	}
}

func TestGenerateGlassesImagesPartialBatch(t *testing.T) {
	text := &fakeText{replies: map[string]string{
		"SELECT THE 2 BEST FRAME STYLES": "1, 2",
		"design the perfect":             "black acetate",
	}}
	// Fourth image fails on every attempt: calls 4, 5, 6 are its retries.
	images := &fakeImages{fail: func(call int) bool { return call >= 4 }}
	p, cache, _ := newTestPipeline(t, text, images, &fakeFetcher{})

	selfieURL := "http://localhost:8080/static/selfies/selfie_partial.png"
	res := p.GenerateGlassesImages(context.Background(), selfieURL, nil)

	if res.Success {
		t.Fatal("partial batch reported success")
	}
	if res.Count != 3 || res.OnFaceCount != 2 || res.ProductCount != 1 {
		t.Fatalf("counts = %d/%d/%d, want 3/2/1", res.Count, res.OnFaceCount, res.ProductCount)
	}
	if res.Error != "only 3/4 images were generated (2 on-face, 1 product)" {
		t.Fatalf("error = %q", res.Error)
	}
	if images.calls != 6 {
		t.Fatalf("image calls = %d, want 3 successes + 3 retries", images.calls)
	}

	// Checkpoints are retained so a later run resumes at the missing image.
	session := checkpoint.SessionID(selfieURL)
	status := cache.Status(session)
	for _, key := range []string{"styles", "specs_0", "specs_1", "img_on_face_0", "img_product_0", "img_on_face_1"} {
		if !status[key] {
			t.Fatalf("checkpoint %q missing after partial batch: %v", key, status)
		}
	}
	if status["img_product_1"] {
		t.Fatal("failed image has a checkpoint")
	}
}

func TestGenerateGlassesImagesAllFailed(t *testing.T) {
	text := &fakeText{}
	images := &fakeImages{fail: func(int) bool { return true }}
	p, _, _ := newTestPipeline(t, text, images, &fakeFetcher{})

	res := p.GenerateGlassesImages(context.Background(), "ref", nil)
	if res.Success || res.Count != 0 {
		t.Fatalf("result = %+v", res)
	}
	if res.Error != "no images could be generated" {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestGenerateGlassesImagesFetchFailure(t *testing.T) {
	p, _, _ := newTestPipeline(t, &fakeText{}, &fakeImages{}, &fakeFetcher{err: fmt.Errorf("connection refused")})

	res := p.GenerateGlassesImages(context.Background(), "http://example.com/gone.png", nil)
	if res.Success || res.Count != 0 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Error, "download selfie") {
		t.Fatalf("error = %q", res.Error)
	}
}

func TestSelectStylesFallsBackOnUnparsableReply(t *testing.T) {
	text := &fakeText{replies: map[string]string{
		"SELECT THE 2 BEST FRAME STYLES": "I would suggest the aviator and perhaps something round.",
		"design the perfect":             "specs",
	}}
	p, _, _ := newTestPipeline(t, text, &fakeImages{}, &fakeFetcher{})

	res := p.GenerateGlassesImages(context.Background(), "ref-fallback", nil)
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if res.Images[0].StyleID != "classic_rectangular" || res.Images[2].StyleID != "modern_round" {
		t.Fatalf("fallback styles = %s, %s", res.Images[0].StyleID, res.Images[2].StyleID)
	}
}

func TestGenerateTextAnalysis(t *testing.T) {
	text := &fakeText{replies: map[string]string{"optical stylist": "### Your Profile\nOval face."}}
	p, _, _ := newTestPipeline(t, text, &fakeImages{}, &fakeFetcher{})

	res := p.GenerateTextAnalysis(context.Background(), "ref")
	if !res.Success {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(res.Analysis, "Oval face") {
		t.Fatalf("analysis = %q", res.Analysis)
	}
	if res.Usage == nil || res.Usage.TotalTokens != 15 {
		t.Fatalf("usage = %+v", res.Usage)
	}

	text.err = fmt.Errorf("quota exceeded")
	res = p.GenerateTextAnalysis(context.Background(), "ref")
	if res.Success || !strings.Contains(res.Error, "quota exceeded") {
		t.Fatalf("result = %+v", res)
	}
}

func TestParseStyleSelection(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		first  int
		second int
		ok     bool
	}{
		{"plain", "3, 7", 2, 6, true},
		{"verbose", "My picks are 1 and 10.", 0, 9, true},
		{"newline separated", "2\n5", 1, 4, true},
		{"single number", "4", 0, 0, false},
		{"no numbers", "the aviator, definitely", 0, 0, false},
		{"out of range", "0, 11", 0, 0, false},
		{"duplicate", "6, 6", 0, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first, second, ok := parseStyleSelection(tt.text, 10)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && (first != tt.first || second != tt.second) {
				t.Fatalf("parsed (%d, %d), want (%d, %d)", first, second, tt.first, tt.second)
			}
		})
	}
}

func TestFallbackSpecs(t *testing.T) {
	got := fallbackSpecs(domain.FrameStyle{Style: "round minimalist"})
	if got != "Round Minimalist eyeglasses with a professional finish" {
		t.Fatalf("fallbackSpecs = %q", got)
	}
}

func TestFormatUserData(t *testing.T) {
	if got := FormatUserData(nil); got != "" {
		t.Fatalf("empty input produced %q", got)
	}
	got := FormatUserData(map[string]string{"age": "34", "style": "casual", "notes": "  "})
	want := "- age: 34\n- style: casual"
	if got != want {
		t.Fatalf("FormatUserData = %q, want %q", got, want)
	}
}
