package pipeline

import (
	"encoding/json"

	"server/internal/domain"
)

// Event is one item of the progressive result stream. Concrete variants map
// onto the wire payloads dispatched by the client on their "type" field.
type Event interface {
	eventType() string
}

// ProgressEvent reports a coarse progress milestone.
type ProgressEvent struct {
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// SelfieEvent announces the stored selfie's public URL.
type SelfieEvent struct {
	SelfieURL string `json:"selfie_url"`
}

// AnalysisEvent carries the stylist text analysis.
type AnalysisEvent struct {
	Analysis string `json:"analysis"`
}

// AnalysisErrorEvent reports a failed text-analysis stage. Non-fatal: image
// generation still follows.
type AnalysisErrorEvent struct {
	Error string `json:"error"`
}

// ImageEvent delivers one generated image. Index is the 0-based position
// among images successfully produced so far in this run.
type ImageEvent struct {
	Image domain.GeneratedImage `json:"image"`
	Index int                   `json:"index"`
}

// ImagesErrorEvent reports an incomplete or failed image batch.
type ImagesErrorEvent struct {
	Error string `json:"error"`
}

// UsageEvent carries the finalized usage accumulator.
type UsageEvent struct {
	Usage domain.Usage `json:"usage"`
}

// CompleteEvent terminates a successful stream.
type CompleteEvent struct {
	Success  bool `json:"success"`
	Progress int  `json:"progress"`
}

// ErrorEvent terminates the stream after an unrecoverable failure.
type ErrorEvent struct {
	Error string `json:"error"`
}

func (ProgressEvent) eventType() string      { return "progress" }
func (SelfieEvent) eventType() string        { return "selfie" }
func (AnalysisEvent) eventType() string      { return "analysis" }
func (AnalysisErrorEvent) eventType() string { return "analysis_error" }
func (ImageEvent) eventType() string         { return "image" }
func (ImagesErrorEvent) eventType() string   { return "images_error" }
func (UsageEvent) eventType() string         { return "usage" }
func (CompleteEvent) eventType() string      { return "complete" }
func (ErrorEvent) eventType() string         { return "error" }

// EventType exposes the wire discriminator of an event.
func EventType(ev Event) string {
	return ev.eventType()
}

// EncodeEvent serializes an event to its wire shape, injecting the "type"
// discriminator alongside the variant's own fields.
func EncodeEvent(ev Event) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	payload := make(map[string]any)
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	payload["type"] = ev.eventType()
	return json.Marshal(payload)
}
