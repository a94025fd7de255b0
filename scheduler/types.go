package scheduler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrQueueFull is returned by Submit once the queue holds MaxQueueSize jobs.
	ErrQueueFull = errors.New("the queue is currently full, please try again in a few minutes")
	// ErrDuplicateSubmission is returned by Submit when the client already has an active job.
	ErrDuplicateSubmission = errors.New("you already have a job in the queue, cancel it first")
	// ErrNotFound is returned by Cancel when the client has no active job.
	ErrNotFound = errors.New("no active job found for this client")
	// ErrEmptyQueue is returned when dequeuing from an empty queue.
	ErrEmptyQueue = errors.New("the queue is empty")
)

// PipelineError wraps a failure from one of the generation stages. The stage
// name is kept so client notifications and logs can say where the job died.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline stage %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// GenerationParams are the per-job tuning knobs for the diffusion pipeline.
type GenerationParams struct {
	GuidanceScale     float64 `json:"guidanceScale"`
	ConditioningScale float64 `json:"conditioningScale"`
	InferenceSteps    int     `json:"inferenceSteps"`
	IPAdapterScale    float64 `json:"ipAdapterScale"`
}

func (p GenerationParams) String() string {
	return fmt.Sprintf("guidance=%g conditioning=%g steps=%d ipadapter=%g",
		p.GuidanceScale, p.ConditioningScale, p.InferenceSteps, p.IPAdapterScale)
}

// Job is one queued or in-flight style transfer request for one client.
// Position is 1-based and recomputed whenever a job ahead of it is removed;
// seq is the immutable FIFO key assigned at admission.
type Job struct {
	ID          uuid.UUID
	ClientID    string
	StyleRef    string
	ContentRef  string
	Params      GenerationParams
	Position    int
	SubmittedAt time.Time

	seq uint64
}

// GenerateRequest carries everything the final diffusion stage needs.
type GenerateRequest struct {
	Prompt    string
	BaseImage image.Image
	// StyleImage conditions the IP adapter.
	StyleImage image.Image
	// EdgeImage conditions the controlnet.
	EdgeImage image.Image
	Params    GenerationParams
	Count     int
}

// Pipeline is the external generative collaborator. The scheduler invokes the
// stages as a single blocking unit of work per job and treats any error as
// opaque. Implementations do not need to be safe for concurrent use: the
// scheduler guarantees at most one job is in flight at a time.
type Pipeline interface {
	Preprocess(ctx context.Context, ref string) (image.Image, error)
	ExtractEdges(ctx context.Context, img image.Image, resolutionHint int) (image.Image, error)
	BuildPrompt(ctx context.Context, content, style image.Image) (string, error)
	Generate(ctx context.Context, req GenerateRequest) ([]image.Image, error)
	ReleaseResources(ctx context.Context) error
}

// Notifier delivers status text and finished images to a client. Delivery is
// best effort: errors are logged by the scheduler and never affect queue
// state. Send may be called while the scheduler lock is held, so
// implementations must buffer rather than block on the transport.
type Notifier interface {
	Send(clientID, text string) error
	SendImage(clientID, caption string, img image.Image) error
}

// ResourceStore releases image blobs owned by a job once the job reaches a
// terminal state. A nil ResourceStore disables release.
type ResourceStore interface {
	Delete(ref string) error
}

// Stats is a point-in-time snapshot of the scheduler for operator inspection.
type Stats struct {
	QueueLength     int
	ActiveClients   int
	InFlightClient  string
	InFlightElapsed time.Duration
}
