package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"server/internal/checkpoint"
	"server/internal/domain"
	"server/internal/infra"
	"server/internal/providers/genai"
	"server/internal/retry"
)

// defaultDelay is the pause inserted after each real image-generation call to
// respect external rate limits. Cache hits are not throttled.
const defaultDelay = 4 * time.Second

// TextGenerator produces text from a prompt plus an optional reference image.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string, reference []byte) (*genai.TextResult, error)
}

// ImageGenerator produces an image from a prompt plus an optional reference image.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string, reference []byte) (*genai.ImageResult, error)
}

// Fetcher resolves an image reference (URL or data URI) to raw bytes.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Options configures a Pipeline.
type Options struct {
	Text    TextGenerator
	Images  ImageGenerator
	Cache   *checkpoint.Cache
	Fetcher Fetcher
	Retry   *retry.Controller
	Delay   time.Duration
	Sleep   func(context.Context, time.Duration)
	Logger  *infra.Logger
	Now     func() time.Time
}

// Pipeline sequences one analysis session: style selection, per-style spec
// design, and per-style image generation, strictly in order. Each step reads
// and writes the checkpoint cache so a failed or retried run resumes where it
// left off, and every produced image is surfaced through a callback before
// the pipeline continues.
type Pipeline struct {
	text    TextGenerator
	images  ImageGenerator
	cache   *checkpoint.Cache
	fetcher Fetcher
	retry   *retry.Controller
	delay   time.Duration
	sleep   func(context.Context, time.Duration)
	logger  *infra.Logger
	now     func() time.Time
}

// New constructs a Pipeline, filling in defaults for optional fields.
func New(opts Options) *Pipeline {
	delay := opts.Delay
	if delay <= 0 {
		delay = defaultDelay
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		}
	}
	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	controller := opts.Retry
	if controller == nil {
		controller = retry.New(retry.Options{Logger: logger})
	}

	return &Pipeline{
		text:    opts.Text,
		images:  opts.Images,
		cache:   opts.Cache,
		fetcher: opts.Fetcher,
		retry:   controller,
		delay:   delay,
		sleep:   sleep,
		logger:  logger,
		now:     now,
	}
}

// OnImage receives each generated image the moment it is available, together
// with its 0-based ordinal among the images produced so far in this run.
type OnImage func(image domain.GeneratedImage, index int)

// GenerateGlassesImages runs the image half of a session: two frame styles,
// two image kinds each. Capability failures never abort the run; the result
// reports how many of the four images were produced. Success requires 4/4,
// in which case the session's checkpoints are cleared; otherwise they are
// retained so a later run can resume.
func (p *Pipeline) GenerateGlassesImages(ctx context.Context, selfieURL string, onImage OnImage) domain.ImagesResult {
	selfie, err := p.fetcher.Fetch(ctx, selfieURL)
	if err != nil {
		p.logger.Error().Err(err).Msg("pipeline: selfie download failed")
		return domain.ImagesResult{Success: false, Error: fmt.Sprintf("download selfie: %v", err)}
	}

	session := checkpoint.SessionID(selfieURL)
	logger := p.logger.With().Str("session", session).Logger()

	status := p.cache.Status(session)
	cached := 0
	for _, ok := range status {
		if ok {
			cached++
		}
	}
	if cached > 0 {
		logger.Info().Int("checkpoints", cached).Msg("pipeline: resuming from previous checkpoints")
	}

	styles := p.selectStyles(ctx, session, selfie, &logger)

	var (
		images []domain.GeneratedImage
		usage  domain.Usage
	)

	deliver := func(img domain.GeneratedImage) {
		images = append(images, img)
		if onImage != nil {
			onImage(img, len(images)-1)
		}
		usage.AddTokens(img.Usage)
		usage.ImageGenerations++
	}

	for idx, frame := range styles {
		logger.Info().Int("style", idx+1).Str("frame", frame.Name).Msg("pipeline: processing frame")

		specs := p.designSpecs(ctx, session, idx, selfie, frame, &logger)

		img, fromCache := p.generateImage(ctx, session, idx, frame, specs, domain.ImageOnFace, selfie, &logger)
		if img != nil {
			deliver(*img)
		}
		// Throttle only real external calls; cache hits proceed immediately.
		if !fromCache {
			p.sleep(ctx, p.delay)
		}

		img, fromCache = p.generateImage(ctx, session, idx, frame, specs, domain.ImageProduct, nil, &logger)
		if img != nil {
			deliver(*img)
		}
		if !fromCache && idx < len(styles)-1 {
			p.sleep(ctx, p.delay)
		}
	}

	onFace, product := 0, 0
	for _, img := range images {
		switch img.Kind {
		case domain.ImageOnFace:
			onFace++
		case domain.ImageProduct:
			product++
		}
	}

	result := domain.ImagesResult{
		Success:      len(images) == 4,
		Images:       images,
		Count:        len(images),
		OnFaceCount:  onFace,
		ProductCount: product,
		Usage:        usage,
	}

	switch {
	case result.Success:
		logger.Info().Msg("pipeline: all 4 images generated, clearing checkpoints")
		p.cache.Clear(session)
	case result.Count > 0:
		result.Error = fmt.Sprintf("only %d/4 images were generated (%d on-face, %d product)", result.Count, onFace, product)
		logger.Warn().Str("detail", result.Error).Msg("pipeline: partial image batch, checkpoints retained")
	default:
		result.Error = "no images could be generated"
		logger.Error().Msg("pipeline: image batch produced nothing")
	}

	return result
}

// GenerateTextAnalysis runs the stylist text analysis over the selfie.
func (p *Pipeline) GenerateTextAnalysis(ctx context.Context, selfieURL string) domain.TextResult {
	selfie, err := p.fetcher.Fetch(ctx, selfieURL)
	if err != nil {
		p.logger.Error().Err(err).Msg("pipeline: selfie download failed")
		return domain.TextResult{Success: false, Error: fmt.Sprintf("download selfie: %v", err)}
	}

	res, err := p.text.GenerateText(ctx, textAnalysisPrompt, selfie)
	if err != nil {
		p.logger.Error().Err(err).Msg("pipeline: text analysis failed")
		return domain.TextResult{Success: false, Error: err.Error()}
	}

	p.logger.Debug().Int("chars", len(res.Text)).Msg("pipeline: text analysis complete")
	return domain.TextResult{Success: true, Analysis: res.Text, Usage: tokenUsage(res.Usage)}
}

// selectStyles resolves the two frame styles for this session, from cache
// when possible, falling back to the catalog's first two entries when the
// model's answer cannot be parsed into two valid, distinct positions.
func (p *Pipeline) selectStyles(ctx context.Context, session string, selfie []byte, logger *infra.Logger) []domain.FrameStyle {
	var styles []domain.FrameStyle
	if p.cache.Get(session, "styles", &styles) && len(styles) == 2 {
		logger.Info().Msg("pipeline: using cached style selection")
		return styles
	}

	catalog := domain.FrameCatalog()
	styles = p.askStyleSelection(ctx, selfie, catalog, logger)
	p.cache.Put(session, "styles", styles)
	return styles
}

func (p *Pipeline) askStyleSelection(ctx context.Context, selfie []byte, catalog []domain.FrameStyle, logger *infra.Logger) []domain.FrameStyle {
	res, err := p.text.GenerateText(ctx, selectionPrompt(catalog), selfie)
	if err != nil {
		logger.Warn().Err(err).Msg("pipeline: style selection failed, using default styles")
		return catalog[:2]
	}

	first, second, ok := parseStyleSelection(res.Text, len(catalog))
	if !ok {
		logger.Warn().Str("reply", truncate(res.Text, 120)).Msg("pipeline: unparsable style selection, using default styles")
		return catalog[:2]
	}

	logger.Info().
		Str("first", catalog[first].Name).
		Str("second", catalog[second].Name).
		Msg("pipeline: styles selected")
	return []domain.FrameStyle{catalog[first], catalog[second]}
}

// designSpecs resolves the detailed frame specification text for one style,
// from cache when possible, substituting a templated description on failure.
func (p *Pipeline) designSpecs(ctx context.Context, session string, idx int, selfie []byte, frame domain.FrameStyle, logger *infra.Logger) string {
	key := fmt.Sprintf("specs_%d", idx)

	var specs string
	if p.cache.Get(session, key, &specs) && specs != "" {
		logger.Info().Str("frame", frame.Name).Msg("pipeline: using cached specifications")
		return specs
	}

	res, err := p.text.GenerateText(ctx, designPrompt(frame), selfie)
	if err != nil {
		logger.Warn().Err(err).Str("frame", frame.Name).Msg("pipeline: spec design failed, using fallback description")
		return fallbackSpecs(frame)
	}

	specs = res.Text
	p.cache.Put(session, key, specs)
	logger.Debug().Str("frame", frame.Name).Str("specs", truncate(specs, 100)).Msg("pipeline: specifications designed")
	return specs
}

// generateImage resolves one (style, kind) image. The second return reports
// whether the image was served from cache, in which case the caller skips the
// rate-limit delay. A nil image after exhausted retries is a recorded, normal
// outcome; the pipeline proceeds regardless.
func (p *Pipeline) generateImage(ctx context.Context, session string, idx int, frame domain.FrameStyle, specs string, kind domain.ImageKind, reference []byte, logger *infra.Logger) (*domain.GeneratedImage, bool) {
	key := fmt.Sprintf("img_%s_%d", kind, idx)

	var cachedImg domain.GeneratedImage
	if p.cache.Get(session, key, &cachedImg) && cachedImg.Data != "" {
		logger.Info().Str("frame", frame.Name).Str("kind", string(kind)).Msg("pipeline: using cached image")
		return &cachedImg, true
	}

	prompt := onFacePrompt(specs)
	if kind == domain.ImageProduct {
		prompt = productPrompt(specs)
	}

	var img *domain.GeneratedImage
	op := fmt.Sprintf("%s %s", kind, frame.ID)
	p.retry.Do(ctx, op, func(ctx context.Context) bool {
		res, err := p.images.GenerateImage(ctx, prompt, reference)
		if err != nil {
			logger.Warn().Err(err).Str("frame", frame.Name).Str("kind", string(kind)).Msg("pipeline: image generation attempt failed")
			return false
		}
		img = &domain.GeneratedImage{
			Data:        fmt.Sprintf("data:%s;base64,%s", res.MimeType, base64.StdEncoding.EncodeToString(res.Data)),
			MimeType:    res.MimeType,
			StyleID:     frame.ID,
			Kind:        kind,
			Usage:       tokenUsage(res.Usage),
			FrameName:   frame.Name,
			Description: frame.Description,
			Specs:       specs,
		}
		return true
	})

	if img == nil {
		logger.Warn().Str("frame", frame.Name).Str("kind", string(kind)).Msg("pipeline: image generation exhausted retries")
		return nil, false
	}

	p.cache.Put(session, key, img)
	logger.Info().Str("frame", frame.Name).Str("kind", string(kind)).Msg("pipeline: image generated")
	return img, false
}

var digitsRe = regexp.MustCompile(`\d+`)

// parseStyleSelection extracts the first two catalog positions from the
// model's free-text answer. Positions are 1-based on the wire; the returned
// indices are 0-based. Reports false when fewer than two numbers are found,
// a number is out of range, or the two positions are equal.
func parseStyleSelection(text string, catalogSize int) (int, int, bool) {
	numbers := digitsRe.FindAllString(text, 2)
	if len(numbers) < 2 {
		return 0, 0, false
	}

	first := atoiSafe(numbers[0]) - 1
	second := atoiSafe(numbers[1]) - 1
	if first < 0 || first >= catalogSize || second < 0 || second >= catalogSize || first == second {
		return 0, 0, false
	}
	return first, second, true
}

func atoiSafe(s string) int {
	n := 0
	for _, r := range s {
		n = n*10 + int(r-'0')
		if n > 1<<20 {
			return -1
		}
	}
	return n
}

func tokenUsage(u *genai.Usage) *domain.TokenUsage {
	if u == nil {
		return nil
	}
	return &domain.TokenUsage{
		PromptTokens: u.PromptTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.TotalTokens,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
