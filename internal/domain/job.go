package domain

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status ends the job lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransition reports whether a record may move from s to next.
// Self transitions are allowed so redelivered work can rewrite the same state.
func (s JobStatus) CanTransition(next JobStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case JobStatusQueued:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Upper returns the status in the upper-case form used by realtime payloads.
func (s JobStatus) Upper() string {
	return strings.ToUpper(string(s))
}

// MaxSeed bounds server generated seeds to 31 bits.
const MaxSeed = 2147483647

// RandomSeed returns a positive pseudo-random 31-bit seed.
func RandomSeed() int {
	return 1 + rand.Intn(MaxSeed-1)
}

// ResolveSeed returns the first positive candidate. Zero and negative values
// mean "not supplied"; when none is positive a random seed is generated.
func ResolveSeed(candidates ...int) int {
	for _, seed := range candidates {
		if seed > 0 {
			return seed
		}
	}
	return RandomSeed()
}

// GenerationParams carries the caller supplied generation options. They are
// opaque to the orchestrator and handed to the generator unchanged.
type GenerationParams struct {
	Model             string          `json:"model,omitempty"`
	StyleType         string          `json:"style_type,omitempty"`
	AspectRatio       string          `json:"aspect_ratio,omitempty"`
	MagicPromptOption string          `json:"magic_prompt_option,omitempty"`
	NegativePrompt    string          `json:"negative_prompt,omitempty"`
	Seed              *int            `json:"seed,omitempty"`
	ColorPalette      json.RawMessage `json:"color_palette,omitempty"`
	ImageWeight       *int            `json:"image_weight,omitempty"`
	ImageInputURL     string          `json:"image_input_url,omitempty"`
	ImageDescription  string          `json:"image_description,omitempty"`
	StyleBuilder      string          `json:"style_builder,omitempty"`
	IsRemix           bool            `json:"is_remix,omitempty"`
}

// RequestedSeed returns the caller's seed, or 0 when none was given.
func (p GenerationParams) RequestedSeed() int {
	if p.Seed == nil {
		return 0
	}
	return *p.Seed
}

// Remix reports whether the job should run through the remix path.
func (p GenerationParams) Remix() bool {
	return p.IsRemix && strings.TrimSpace(p.ImageInputURL) != ""
}

// EnhancePrompt reports whether the caller asked for the enhanced prompt to be kept.
func (p GenerationParams) EnhancePrompt() bool {
	return strings.EqualFold(strings.TrimSpace(p.MagicPromptOption), "on")
}

// Job is the durable record of one generation request and its result.
type Job struct {
	ID             string
	UserID         string
	Prompt         string
	Params         GenerationParams
	Status         JobStatus
	Seed           int
	Model          Model
	StyleType      StyleType
	AspectRatio    AspectRatio
	ResultURL      string
	PromptEnhanced string
	ErrorMessage   string
	Locale         string
	Published      bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobPayload is the unit of work carried by the queue. It holds everything
// needed to rebuild a placeholder record when the worker reaches the job
// before the intake path has written one.
type JobPayload struct {
	JobID  string           `json:"jobId"`
	UserID string           `json:"userId"`
	Prompt string           `json:"prompt"`
	Seed   int              `json:"seed"`
	Locale string           `json:"locale,omitempty"`
	Params GenerationParams `json:"params"`
}

// NewPlaceholderJob builds the record a worker writes on first touch.
func NewPlaceholderJob(p JobPayload, now time.Time) *Job {
	seed := ResolveSeed(p.Seed, p.Params.RequestedSeed())
	aspect := ParseAspectRatio(p.Params.AspectRatio)
	if aspect == AspectRatioUnspecified {
		aspect = DefaultAspectRatio
	}
	return &Job{
		ID:          p.JobID,
		UserID:      p.UserID,
		Prompt:      p.Prompt,
		Params:      p.Params,
		Status:      JobStatusProcessing,
		Seed:        seed,
		Model:       ParseModel(p.Params.Model),
		StyleType:   ParseStyleType(p.Params.StyleType),
		AspectRatio: aspect,
		Locale:      p.Locale,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Payload returns the queue payload describing j.
func (j *Job) Payload() JobPayload {
	return JobPayload{
		JobID:  j.ID,
		UserID: j.UserID,
		Prompt: j.Prompt,
		Seed:   j.Seed,
		Locale: j.Locale,
		Params: j.Params,
	}
}

func (j *Job) transition(next JobStatus) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("%w: job %s %s -> %s", ErrInvalidTransition, j.ID, j.Status, next)
	}
	return nil
}

// MarkProcessing moves a queued record into processing.
func (j *Job) MarkProcessing(now time.Time) error {
	if err := j.transition(JobStatusProcessing); err != nil {
		return err
	}
	j.Status = JobStatusProcessing
	j.Published = false
	j.UpdatedAt = now
	return nil
}

// Complete records a successful result. Only processing records complete.
func (j *Job) Complete(resultURL string, seed int, enhancedPrompt string, now time.Time) error {
	if err := j.transition(JobStatusCompleted); err != nil {
		return err
	}
	j.Status = JobStatusCompleted
	j.ResultURL = resultURL
	j.Seed = seed
	j.Model = ParseModel(j.Params.Model)
	j.StyleType = ParseStyleType(j.Params.StyleType)
	if aspect := ParseAspectRatio(j.Params.AspectRatio); aspect != AspectRatioUnspecified {
		j.AspectRatio = aspect
	} else if j.AspectRatio == AspectRatioUnspecified {
		j.AspectRatio = DefaultAspectRatio
	}
	j.PromptEnhanced = ""
	if j.Params.EnhancePrompt() {
		j.PromptEnhanced = enhancedPrompt
	}
	j.ErrorMessage = ""
	j.Published = false
	j.UpdatedAt = now
	return nil
}

// Fail clears the result and stores a user-safe message. Only processing
// records fail.
func (j *Job) Fail(message string, now time.Time) error {
	if err := j.transition(JobStatusFailed); err != nil {
		return err
	}
	j.Status = JobStatusFailed
	j.ResultURL = ""
	j.ErrorMessage = message
	j.Published = false
	j.UpdatedAt = now
	return nil
}

// GeneratedImage is what a generator returns for one request.
type GeneratedImage struct {
	URL    string
	Seed   int
	Prompt string
}
