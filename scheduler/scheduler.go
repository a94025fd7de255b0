// Package scheduler serializes access to a single GPU-bound style transfer
// pipeline. Many clients submit jobs concurrently; one worker drains them in
// strict FIFO order, keeps every waiting client informed of its position and
// estimated wait, and supports cancellation of queued and in-flight jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"stylebird/logger"

	"github.com/google/uuid"
)

// Config tunes the scheduler. Zero values fall back to the defaults below.
type Config struct {
	// MaxQueueSize bounds the number of pending jobs; submissions beyond it
	// fail with ErrQueueFull. This is the only backpressure mechanism.
	MaxQueueSize int
	// AverageJobDuration feeds the wait estimator.
	AverageJobDuration time.Duration
	// PauseBetweenJobs bounds the notification burst rate between jobs.
	PauseBetweenJobs time.Duration
	// JobTimeout caps a single pipeline invocation.
	JobTimeout time.Duration
	// ImageCount is the number of images requested per generation.
	ImageCount int
}

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 5
	}
	if c.AverageJobDuration <= 0 {
		c.AverageJobDuration = 45 * time.Second
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = 4 * time.Minute
	}
	if c.ImageCount <= 0 {
		c.ImageCount = 1
	}
	return c
}

type inflight struct {
	job       *Job
	startedAt time.Time
	cancelled bool
}

// Scheduler owns all shared queue state behind one mutex. Critical sections
// are short in-memory edits; the long pipeline invocation always runs outside
// the lock so submissions, cancellations and stats queries are never blocked
// by an in-progress generation.
type Scheduler struct {
	cfg       Config
	pipeline  Pipeline
	notifier  Notifier
	resources ResourceStore

	mu      sync.Mutex
	store   *Store
	running bool
	nextSeq uint64
	current *inflight
}

func New(cfg Config, pipeline Pipeline, notifier Notifier, resources ResourceStore) *Scheduler {
	return &Scheduler{
		cfg:       cfg.withDefaults(),
		pipeline:  pipeline,
		notifier:  notifier,
		resources: resources,
		store:     NewStore(),
	}
}

// Submit admits a job for the client, assigns its queue position and wakes
// the worker if it is idle. The returned position is 1-based.
func (s *Scheduler) Submit(clientID, styleRef, contentRef string, params GenerationParams) (int, error) {
	s.mu.Lock()
	if s.store.Len() >= s.cfg.MaxQueueSize {
		s.mu.Unlock()
		return 0, ErrQueueFull
	}
	if _, ok := s.store.Get(clientID); ok {
		s.mu.Unlock()
		return 0, ErrDuplicateSubmission
	}
	if s.current != nil && s.current.job.ClientID == clientID && !s.current.cancelled {
		s.mu.Unlock()
		return 0, ErrDuplicateSubmission
	}

	s.nextSeq++
	job := &Job{
		ID:          uuid.New(),
		ClientID:    clientID,
		StyleRef:    styleRef,
		ContentRef:  contentRef,
		Params:      params,
		Position:    s.store.Len() + 1,
		SubmittedAt: time.Now(),
		seq:         s.nextSeq,
	}
	s.store.Enqueue(job)

	position := job.Position
	queueLen := s.store.Len()
	wait := Estimate(position, s.cfg.AverageJobDuration)

	start := !s.running
	if start {
		s.running = true
	}
	s.send(clientID, fmt.Sprintf("🎨 Job accepted! Position %d of %d in the queue, estimated wait %s.",
		position, queueLen, HumanDuration(wait)))
	s.mu.Unlock()

	if start {
		go s.drain()
	}
	logger.Job(clientID, job.ID.String()).Info("job admitted", "position", position, "queue_length", queueLen)
	return position, nil
}

// Cancel removes the client's job. A queued job is removed completely and the
// remaining positions are compacted. A job already being processed cannot be
// preempted: it is only flagged so that its completion notification is
// suppressed and the result discarded.
func (s *Scheduler) Cancel(clientID string) error {
	s.mu.Lock()
	if job, err := s.store.Remove(clientID); err == nil {
		s.renumberLocked(job.Position)
		s.send(clientID, "🗑️ Your queued job has been cancelled.")
		s.mu.Unlock()
		s.releaseJob(job)
		logger.Job(clientID, job.ID.String()).Info("queued job cancelled", "position", job.Position)
		return nil
	}
	if s.current != nil && s.current.job.ClientID == clientID && !s.current.cancelled {
		s.current.cancelled = true
		jobID := s.current.job.ID.String()
		s.send(clientID, "⚠️ Your job is already being processed; the result will be discarded.")
		s.mu.Unlock()
		logger.Job(clientID, jobID).Info("in-flight job flagged cancelled")
		return nil
	}
	s.mu.Unlock()
	return ErrNotFound
}

// Stats reports queue length, active clients and the elapsed time of the
// in-flight job, if any.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{QueueLength: s.store.Len()}
	st.ActiveClients = st.QueueLength
	if s.current != nil {
		st.ActiveClients++
		st.InFlightClient = s.current.job.ClientID
		st.InFlightElapsed = time.Since(s.current.startedAt)
	}
	return st
}

// Snapshot returns copies of the queued jobs in FIFO order.
func (s *Scheduler) Snapshot() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Snapshot()
}

// EstimateWait maps a queue position to an expected wait using the configured
// average job duration.
func (s *Scheduler) EstimateWait(position int) time.Duration {
	return Estimate(position, s.cfg.AverageJobDuration)
}

// drain is the single consumer. At most one drain runs at a time, guarded by
// the running flag: a start signal while draining is a no-op, which is what
// guarantees a single in-flight pipeline invocation.
func (s *Scheduler) drain() {
	logger.Debug("worker: draining queue")
	for {
		s.mu.Lock()
		job, err := s.store.DequeueFront()
		if err != nil {
			s.running = false
			s.mu.Unlock()
			logger.Debug("worker: queue empty, going idle")
			return
		}
		s.current = &inflight{job: job, startedAt: time.Now()}
		s.renumberLocked(job.Position)
		s.send(job.ClientID, "⏳ Processing your style transfer now, this may take a minute.")
		s.mu.Unlock()

		s.process(job)

		if s.cfg.PauseBetweenJobs > 0 {
			time.Sleep(s.cfg.PauseBetweenJobs)
		}
	}
}

// process runs the pipeline for one job outside the lock and handles the
// success, failure and cancellation outcomes. A job failure never reaches the
// drain loop's control flow.
func (s *Scheduler) process(job *Job) {
	log := logger.Job(job.ClientID, job.ID.String())
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()
	started := time.Now()

	images, err := s.runStages(ctx, job)

	s.mu.Lock()
	cancelled := s.current != nil && s.current.cancelled
	s.current = nil
	s.mu.Unlock()

	switch {
	case err != nil:
		log.Error("job failed", "error", err, "elapsed", time.Since(started).Round(time.Millisecond))
		if !cancelled {
			s.send(job.ClientID, fmt.Sprintf("❌ Style transfer failed: %v. Please try again.", err))
		}
	case cancelled:
		log.Info("job was cancelled mid-flight, result discarded")
	default:
		caption := fmt.Sprintf("✨ Here's your styled image! (%s, took %s)",
			job.Params, HumanDuration(time.Since(started)))
		if sendErr := s.notifier.SendImage(job.ClientID, caption, images[0]); sendErr != nil {
			log.Error("result delivery failed", "error", sendErr)
		} else {
			log.Info("job completed", "elapsed", time.Since(started).Round(time.Millisecond))
		}
	}

	s.releaseJob(job)
	if relErr := s.pipeline.ReleaseResources(context.Background()); relErr != nil {
		log.Error("pipeline resource release failed", "error", relErr)
	}
}

func (s *Scheduler) runStages(ctx context.Context, job *Job) ([]image.Image, error) {
	style, err := s.pipeline.Preprocess(ctx, job.StyleRef)
	if err != nil {
		return nil, &PipelineError{Stage: "preprocess style", Err: err}
	}
	content, err := s.pipeline.Preprocess(ctx, job.ContentRef)
	if err != nil {
		return nil, &PipelineError{Stage: "preprocess content", Err: err}
	}
	edges, err := s.pipeline.ExtractEdges(ctx, content, content.Bounds().Dy())
	if err != nil {
		return nil, &PipelineError{Stage: "edge detection", Err: err}
	}
	prompt, err := s.pipeline.BuildPrompt(ctx, content, style)
	if err != nil {
		return nil, &PipelineError{Stage: "prompt", Err: err}
	}
	s.send(job.ClientID, "🖌️ Transferring style with prompt: "+prompt)

	out, err := s.pipeline.Generate(ctx, GenerateRequest{
		Prompt:     prompt,
		BaseImage:  content,
		StyleImage: style,
		EdgeImage:  edges,
		Params:     job.Params,
		Count:      s.cfg.ImageCount,
	})
	if err != nil {
		return nil, &PipelineError{Stage: "generate", Err: err}
	}
	if len(out) == 0 {
		return nil, &PipelineError{Stage: "generate", Err: errors.New("no images returned")}
	}
	return out, nil
}

// renumberLocked compacts positions after a removal at the given position and
// tells every shifted client where it now stands. Must run inside the same
// critical section as the removal so two removals can never double-decrement.
// A position beyond the current maximum is a no-op.
func (s *Scheduler) renumberLocked(removedPosition int) {
	for _, job := range s.store.jobs {
		if job.Position > removedPosition {
			job.Position--
			wait := Estimate(job.Position, s.cfg.AverageJobDuration)
			s.send(job.ClientID, fmt.Sprintf("📍 Queue update: you are now position %d, estimated wait %s.",
				job.Position, HumanDuration(wait)))
		}
	}
}

// releaseJob frees the image blobs a job owns. Failures are logged only.
func (s *Scheduler) releaseJob(job *Job) {
	if s.resources == nil {
		return
	}
	for _, ref := range []string{job.StyleRef, job.ContentRef} {
		if ref == "" {
			continue
		}
		if err := s.resources.Delete(ref); err != nil {
			logger.Job(job.ClientID, job.ID.String()).Error("failed to release image", "ref", ref, "error", err)
		}
	}
}

// send delivers a notification, logging and swallowing any transport error.
// Queue correctness never depends on delivery success.
func (s *Scheduler) send(clientID, text string) {
	if err := s.notifier.Send(clientID, text); err != nil {
		logger.Client(clientID).Error("notification delivery failed", "error", err)
	}
}
