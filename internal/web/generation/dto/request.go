// Package dto defines the request/response shapes of the generation API.
package dto

import (
	"strings"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/pixmuse/pixmuse-api/internal/web/generation/model"
)

const (
	maxPromptLen = 2000

	defaultEdge   = 1024
	minEdge       = 256
	maxEdge       = 2048
	maxGuidance   = 30
	maxSteps      = 100
	defaultImages = 1
)

// CreateGenerationRequest is the request body for creating a generation.
//
// Older app releases send cfg_scale and steps; both are accepted here and
// normalized into the canonical parameter names before a record is built.
type CreateGenerationRequest struct {
	Prompt         string   `json:"prompt"`
	InputImageRef  string   `json:"input_image_ref"`
	Width          int      `json:"width"`
	Height         int      `json:"height"`
	GuidanceScale  *float64 `json:"guidance_scale"`
	CfgScale       *float64 `json:"cfg_scale"` // legacy alias of guidance_scale
	InferenceSteps *int     `json:"num_inference_steps"`
	Steps          *int     `json:"steps"` // legacy alias of num_inference_steps
	Seed           *int64   `json:"seed"`
	Style          string   `json:"style"`
	NegativePrompt string   `json:"negative_prompt"`
	NumImages      int      `json:"num_images"`
}

// Normalize validates the request and folds legacy aliases into the canonical
// parameter snapshot. The canonical field wins when both names are sent.
func (r *CreateGenerationRequest) Normalize() (prompt string, params model.RequestParameters, err error) {
	prompt = strings.TrimSpace(r.Prompt)
	if prompt == "" {
		return "", params, errors.New("prompt is required")
	}
	if len(prompt) > maxPromptLen {
		return "", params, errors.Errorf("prompt exceeds %d characters", maxPromptLen)
	}

	params = model.RequestParameters{
		Width:          r.Width,
		Height:         r.Height,
		Seed:           r.Seed,
		Style:          strings.TrimSpace(r.Style),
		NegativePrompt: strings.TrimSpace(r.NegativePrompt),
		NumImages:      r.NumImages,
	}

	if params.Width == 0 {
		params.Width = defaultEdge
	}
	if params.Height == 0 {
		params.Height = defaultEdge
	}
	if params.Width < minEdge || params.Width > maxEdge ||
		params.Height < minEdge || params.Height > maxEdge {
		return "", params, errors.Errorf("image size must be within [%d, %d]", minEdge, maxEdge)
	}

	guidance := r.GuidanceScale
	if guidance == nil {
		guidance = r.CfgScale
	}
	if guidance != nil {
		if *guidance < 0 || *guidance > maxGuidance {
			return "", params, errors.Errorf("guidance scale must be within [0, %d]", maxGuidance)
		}
		params.GuidanceScale = *guidance
	}

	steps := r.InferenceSteps
	if steps == nil {
		steps = r.Steps
	}
	if steps != nil {
		if *steps < 1 || *steps > maxSteps {
			return "", params, errors.Errorf("inference steps must be within [1, %d]", maxSteps)
		}
		params.NumInferenceSteps = *steps
	}

	if params.NumImages < 0 {
		return "", params, errors.New("num_images must not be negative")
	}
	if params.NumImages == 0 {
		params.NumImages = defaultImages
	}

	return prompt, params, nil
}

// GenerationResponse is the client-facing view of one record.
type GenerationResponse struct {
	ID              string                  `json:"id"`
	Status          model.Status            `json:"status"`
	Prompt          string                  `json:"prompt"`
	Params          model.RequestParameters `json:"params"`
	CreditsReserved int                     `json:"credits_reserved"`
	OutputImageRefs []string                `json:"output_image_refs,omitempty"`
	FailureReason   string                  `json:"failure_reason,omitempty"`
	CreatedAt       string                  `json:"created_at"`
	DurationMs      int64                   `json:"duration_ms,omitempty"`
}

// NewGenerationResponse converts a record into its client view.
func NewGenerationResponse(gen *model.Generation) *GenerationResponse {
	return &GenerationResponse{
		ID:              gen.ID.Hex(),
		Status:          gen.Status,
		Prompt:          gen.Prompt,
		Params:          gen.Params,
		CreditsReserved: gen.CreditsReserved,
		OutputImageRefs: gen.OutputImageRefs,
		FailureReason:   gen.FailureReason,
		CreatedAt:       gen.CreatedAt.UTC().Format(time.RFC3339),
		DurationMs:      gen.ProcessingDurationMs,
	}
}
