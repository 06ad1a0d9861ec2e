package pipeline

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/infra"
	"server/internal/progress"
	"server/internal/storage"
)

// eventBuffer bounds the queue between the producing pipeline and the
// consuming stream writer.
const eventBuffer = 16

// Uploader stores an inbound selfie and returns its public reference.
type Uploader interface {
	UploadSelfie(ctx context.Context, imageData string) (*storage.UploadResult, error)
}

// Request is the upstream contract of one analysis run. Image is an image
// reference or inline data; UserData carries optional biometric/preference
// fields, currently informational only.
type Request struct {
	Image    string            `json:"image"`
	UserData map[string]string `json:"userData"`
}

// AnalyzerOptions configures an Analyzer.
type AnalyzerOptions struct {
	Pipeline *Pipeline
	Store    Uploader
	Logger   *infra.Logger
	Now      func() time.Time
}

// Analyzer runs the full selfie analysis: upload, stylist text analysis, then
// the image pipeline. It offers two delivery modes: Start streams typed
// events over a bounded channel while the run executes in the background, and
// Analyze runs synchronously while reporting milestones to a progress
// tracker.
type Analyzer struct {
	pipeline *Pipeline
	store    Uploader
	logger   *infra.Logger
	now      func() time.Time
}

// NewAnalyzer constructs an Analyzer.
func NewAnalyzer(opts AnalyzerOptions) *Analyzer {
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
	return &Analyzer{pipeline: opts.Pipeline, store: opts.Store, logger: logger, now: now}
}

// Run is the handle of one background analysis. Events yields the stream in
// production order and is closed when the run finishes; Wait blocks until the
// final result is available.
type Run struct {
	events chan Event
	result domain.AnalysisResult
	done   chan struct{}
}

// Events returns the run's event stream. The channel is closed once the
// producer has finished, so consumers can simply range over it.
func (r *Run) Events() <-chan Event {
	return r.events
}

// Wait blocks until the run has finished and returns the final result.
func (r *Run) Wait() domain.AnalysisResult {
	<-r.done
	return r.result
}

// Start launches the run on a background goroutine. Once started, the run
// executes to completion even if the consumer goes away; the checkpoint cache
// keeps a subsequent request for the same selfie cheap.
func (a *Analyzer) Start(ctx context.Context, req Request) *Run {
	run := &Run{events: make(chan Event, eventBuffer), done: make(chan struct{})}
	go func() {
		defer close(run.done)
		run.result = a.stream(ctx, req, run.events)
		close(run.events)
	}()
	return run
}

// stream executes the full run, emitting events as artifacts become
// available, and returns the combined result.
func (a *Analyzer) stream(ctx context.Context, req Request, out chan<- Event) domain.AnalysisResult {
	start := a.now()
	var usage domain.Usage

	if data := FormatUserData(req.UserData); data != "" {
		a.logger.Debug().Str("user_data", data).Msg("analyzer: client-provided details")
	}

	out <- ProgressEvent{Status: "Uploading selfie...", Progress: 5}

	uploaded, err := a.store.UploadSelfie(ctx, req.Image)
	if err != nil {
		a.logger.Error().Err(err).Msg("analyzer: selfie upload failed")
		out <- ErrorEvent{Error: fmt.Sprintf("upload selfie: %v", err)}
		return domain.AnalysisResult{Success: false, Error: fmt.Sprintf("upload selfie: %v", err)}
	}

	out <- SelfieEvent{SelfieURL: uploaded.URL}
	out <- ProgressEvent{Status: "Analyzing your face...", Progress: 15}

	text := a.pipeline.GenerateTextAnalysis(ctx, uploaded.URL)
	if text.Success {
		usage.AddTokens(text.Usage)
		usage.TextGenerations = 1
		out <- AnalysisEvent{Analysis: text.Analysis}
	} else {
		out <- AnalysisErrorEvent{Error: text.Error}
	}

	out <- ProgressEvent{Status: "Generating frames...", Progress: 50}

	sent := 0
	images := a.pipeline.GenerateGlassesImages(ctx, uploaded.URL, func(img domain.GeneratedImage, index int) {
		out <- ImageEvent{Image: img, Index: index}
		sent++
		out <- ProgressEvent{
			Status:   fmt.Sprintf("Image %d/4 delivered", sent),
			Progress: 50 + sent*12,
		}
	})

	usage.Merge(images.Usage)
	if !images.Success && images.Error != "" {
		out <- ImagesErrorEvent{Error: images.Error}
	}

	usage.ProcessingTime = roundSeconds(a.now().Sub(start))

	result := a.combine(text, images, usage)
	out <- UsageEvent{Usage: usage}
	out <- CompleteEvent{Success: result.Success, Progress: 100}

	a.logger.Info().
		Bool("success", result.Success).
		Int("images", images.Count).
		Float64("seconds", usage.ProcessingTime).
		Msg("analyzer: run finished")

	return result
}

// Analyze runs the full analysis synchronously, reporting milestones to the
// tracker. The tracker is always completed, even on internal failure, so a
// progress stream consumer can terminate.
func (a *Analyzer) Analyze(ctx context.Context, req Request, tracker *progress.Tracker) domain.AnalysisResult {
	start := a.now()
	var usage domain.Usage

	defer tracker.Complete()

	tracker.Update(5, "Starting AI analysis...")

	uploaded, err := a.store.UploadSelfie(ctx, req.Image)
	if err != nil {
		a.logger.Error().Err(err).Msg("analyzer: selfie upload failed")
		return domain.AnalysisResult{Success: false, Error: fmt.Sprintf("upload selfie: %v", err)}
	}

	tracker.Update(10, "Analyzing your face...")
	text := a.pipeline.GenerateTextAnalysis(ctx, uploaded.URL)
	if text.Success {
		usage.AddTokens(text.Usage)
		usage.TextGenerations = 1
	}

	tracker.Update(40, "Face analysis complete, generating frames...")
	images := a.pipeline.GenerateGlassesImages(ctx, uploaded.URL, nil)
	usage.Merge(images.Usage)

	tracker.Update(95, "Preparing results...")
	usage.ProcessingTime = roundSeconds(a.now().Sub(start))

	return a.combine(text, images, usage)
}

// combine applies the two-tier success rule: the image batch is successful
// only at 4/4, but the overall analysis succeeds whenever either stage
// produced something usable.
func (a *Analyzer) combine(text domain.TextResult, images domain.ImagesResult, usage domain.Usage) domain.AnalysisResult {
	if !text.Success && images.Count == 0 {
		return domain.AnalysisResult{
			Success: false,
			Error:   fmt.Sprintf("images: %s | text: %s", images.Error, text.Error),
			Usage:   usage,
		}
	}

	return domain.AnalysisResult{
		Success:     true,
		Images:      images.Images,
		Analysis:    text.Analysis,
		ImagesError: images.Error,
		TextError:   text.Error,
		Usage:       usage,
	}
}

func roundSeconds(d time.Duration) float64 {
	return math.Round(d.Seconds()*100) / 100
}
