package domain

// ImageKind distinguishes the two renders produced per frame style.
type ImageKind string

const (
	ImageOnFace  ImageKind = "on_face"
	ImageProduct ImageKind = "product"
)

// TokenUsage is the token accounting reported by a single model call.
type TokenUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// GeneratedImage is one rendered eyewear image together with the frame
// metadata it was generated for. Data carries the encoded payload as a data
// URI so it can travel inside a JSON event without a second fetch.
type GeneratedImage struct {
	Data        string      `json:"data"`
	MimeType    string      `json:"mime_type"`
	StyleID     string      `json:"style"`
	Kind        ImageKind   `json:"type"`
	Usage       *TokenUsage `json:"usage,omitempty"`
	FrameName   string      `json:"frame_name,omitempty"`
	Description string      `json:"description,omitempty"`
	Specs       string      `json:"detailed_specs,omitempty"`
}

// Usage accumulates external-capability consumption across a whole run.
// Totals only ever grow; they are finalized once at pipeline completion.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	ImageGenerations int     `json:"image_generations"`
	TextGenerations  int     `json:"text_generations"`
	ProcessingTime   float64 `json:"processing_time_seconds"`
}

// AddTokens folds a single call's token counts into the running totals.
func (u *Usage) AddTokens(t *TokenUsage) {
	if t == nil {
		return
	}
	u.PromptTokens += t.PromptTokens
	u.OutputTokens += t.OutputTokens
	u.TotalTokens += t.TotalTokens
}

// Merge folds another accumulator into this one. Generation counters are
// added, not replaced, so partial stage results still count.
func (u *Usage) Merge(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
	u.ImageGenerations += other.ImageGenerations
	u.TextGenerations += other.TextGenerations
}

// ImagesResult is the outcome of the image-generation stage. Success means
// all four images were produced; a partial batch keeps Success false but
// still carries whatever was generated.
type ImagesResult struct {
	Success      bool             `json:"success"`
	Images       []GeneratedImage `json:"images"`
	Count        int              `json:"count"`
	OnFaceCount  int              `json:"on_face_count"`
	ProductCount int              `json:"product_count"`
	Usage        Usage            `json:"usage"`
	Error        string           `json:"error,omitempty"`
}

// TextResult is the outcome of the stylist text-analysis stage.
type TextResult struct {
	Success  bool        `json:"success"`
	Analysis string      `json:"analysis"`
	Usage    *TokenUsage `json:"usage,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// AnalysisResult is the combined outcome of one full run. Success here is
// the outer, two-tier definition: true when either stage produced something
// usable, even if the image batch itself fell short of 4/4.
type AnalysisResult struct {
	Success     bool             `json:"success"`
	Images      []GeneratedImage `json:"images"`
	Analysis    string           `json:"analysis"`
	ImagesError string           `json:"images_error,omitempty"`
	TextError   string           `json:"text_error,omitempty"`
	Usage       Usage            `json:"usage"`
	Error       string           `json:"error,omitempty"`
}
