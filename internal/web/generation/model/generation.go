// Package model contains the persistent entities of the generation module.
package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Status generation record status
type Status string

const (
	// StatusPending created, waiting for a worker
	StatusPending Status = "pending"
	// StatusProcessing claimed by a worker, provider call in flight
	StatusProcessing Status = "processing"
	// StatusCompleted finished with at least one output image
	StatusCompleted Status = "completed"
	// StatusFailed failed or cancelled; revivable via retry
	StatusFailed Status = "failed"
)

const (
	// MinImagesPerRequest lower bound for reserved credits
	MinImagesPerRequest = 1
	// MaxImagesPerRequest upper bound for reserved credits
	MaxImagesPerRequest = 4
)

// RequestParameters is the canonical snapshot of generation settings.
//
// Legacy aliases are normalized away at the request-parsing boundary; once a
// record enters processing this snapshot never changes.
type RequestParameters struct {
	Width             int     `bson:"width" json:"width"`
	Height            int     `bson:"height" json:"height"`
	GuidanceScale     float64 `bson:"guidance_scale" json:"guidance_scale"`
	NumInferenceSteps int     `bson:"num_inference_steps" json:"num_inference_steps"`
	Seed              *int64  `bson:"seed,omitempty" json:"seed,omitempty"`
	Style             string  `bson:"style,omitempty" json:"style,omitempty"`
	NegativePrompt    string  `bson:"negative_prompt,omitempty" json:"negative_prompt,omitempty"`
	NumImages         int     `bson:"num_images" json:"num_images"`
}

// Generation is one user-initiated image generation request.
type Generation struct {
	ID primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	// OwnerID the requesting account
	OwnerID primitive.ObjectID `bson:"owner_id" json:"owner_id"`
	// InputImageRef optional source image for image-to-image generation
	InputImageRef string `bson:"input_image_ref,omitempty" json:"input_image_ref,omitempty"`
	// Prompt required non-empty text
	Prompt string            `bson:"prompt" json:"prompt"`
	Params RequestParameters `bson:"params" json:"params"`
	// CreditsReserved fixed at creation, never recomputed
	CreditsReserved int    `bson:"credits_reserved" json:"credits_reserved"`
	Status          Status `bson:"status" json:"status"`
	// OutputImageRefs non-empty iff status is completed
	OutputImageRefs []string `bson:"output_image_refs,omitempty" json:"output_image_refs,omitempty"`
	FailureReason   string   `bson:"failure_reason,omitempty" json:"failure_reason,omitempty"`

	CreatedAt            time.Time  `bson:"created_at" json:"created_at"`
	ProcessingStartedAt  *time.Time `bson:"processing_started_at,omitempty" json:"processing_started_at,omitempty"`
	CompletedAt          *time.Time `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	ProcessingDurationMs int64      `bson:"processing_duration_ms,omitempty" json:"processing_duration_ms,omitempty"`
}

// ReserveCredits computes the credits reserved for a request,
// clamping the requested image count into [1, 4].
func ReserveCredits(numImages int) int {
	if numImages < MinImagesPerRequest {
		return MinImagesPerRequest
	}
	if numImages > MaxImagesPerRequest {
		return MaxImagesPerRequest
	}
	return numImages
}

// NewGeneration creates a pending record with its credits reserved.
func NewGeneration(ownerID primitive.ObjectID,
	prompt, inputImageRef string, params RequestParameters) *Generation {
	return &Generation{
		OwnerID:         ownerID,
		InputImageRef:   inputImageRef,
		Prompt:          prompt,
		Params:          params,
		CreditsReserved: ReserveCredits(params.NumImages),
		Status:          StatusPending,
		CreatedAt:       time.Now(),
	}
}

// IsTerminal reports whether the record reached a terminal state.
func (g *Generation) IsTerminal() bool {
	return g.Status == StatusCompleted || g.Status == StatusFailed
}

// CanCancel reports whether the record may still be cancelled.
func (g *Generation) CanCancel() bool {
	return g.Status == StatusPending || g.Status == StatusProcessing
}

// CanRetry reports whether the record may be reset to pending.
func (g *Generation) CanRetry() bool {
	return g.Status == StatusFailed
}
