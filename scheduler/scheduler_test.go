package scheduler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakePipeline is a controllable stand-in for the GPU pipeline. If gate is
// non-nil, Generate blocks until the gate is released, which lets tests pin
// the worker mid-job. Preprocess fails for any ref present in failRefs.
type fakePipeline struct {
	gate     chan struct{}
	failRefs map[string]error

	mu        sync.Mutex
	active    int
	maxActive int
	generated int
	releases  int
}

func (p *fakePipeline) testImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 8, 8))
}

func (p *fakePipeline) Preprocess(_ context.Context, ref string) (image.Image, error) {
	if p.failRefs != nil {
		if err, ok := p.failRefs[ref]; ok {
			return nil, err
		}
	}
	return p.testImage(), nil
}

func (p *fakePipeline) ExtractEdges(_ context.Context, img image.Image, _ int) (image.Image, error) {
	return img, nil
}

func (p *fakePipeline) BuildPrompt(_ context.Context, _, _ image.Image) (string, error) {
	return "a test prompt", nil
}

func (p *fakePipeline) Generate(_ context.Context, req GenerateRequest) ([]image.Image, error) {
	p.mu.Lock()
	p.active++
	if p.active > p.maxActive {
		p.maxActive = p.active
	}
	p.mu.Unlock()

	if p.gate != nil {
		<-p.gate
	}

	p.mu.Lock()
	p.active--
	p.generated++
	p.mu.Unlock()
	return []image.Image{p.testImage()}, nil
}

func (p *fakePipeline) ReleaseResources(_ context.Context) error {
	p.mu.Lock()
	p.releases++
	p.mu.Unlock()
	return nil
}

func (p *fakePipeline) maxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxActive
}

func (p *fakePipeline) releaseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.releases
}

// fakeNotifier records every notification per client. With fail set, all
// deliveries error to prove that queue correctness never depends on them.
type fakeNotifier struct {
	fail bool

	mu     sync.Mutex
	texts  map[string][]string
	images map[string][]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		texts:  make(map[string][]string),
		images: make(map[string][]string),
	}
}

func (n *fakeNotifier) Send(clientID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts[clientID] = append(n.texts[clientID], text)
	if n.fail {
		return errors.New("transport down")
	}
	return nil
}

func (n *fakeNotifier) SendImage(clientID, caption string, _ image.Image) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("transport down")
	}
	n.images[clientID] = append(n.images[clientID], caption)
	return nil
}

func (n *fakeNotifier) imageCount(clientID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.images[clientID])
}

func (n *fakeNotifier) textsContaining(clientID, substr string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, text := range n.texts[clientID] {
		if strings.Contains(text, substr) {
			count++
		}
	}
	return count
}

type fakeResources struct {
	mu      sync.Mutex
	deleted []string
}

func (r *fakeResources) Delete(ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, ref)
	return nil
}

func (r *fakeResources) deletedRefs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deleted...)
}

var testParams = GenerationParams{
	GuidanceScale:     6.0,
	ConditioningScale: 0.7,
	InferenceSteps:    20,
	IPAdapterScale:    0.5,
}

func newTestScheduler(p *fakePipeline, n *fakeNotifier, r ResourceStore) *Scheduler {
	return New(Config{
		MaxQueueSize:       5,
		AverageJobDuration: time.Minute,
		PauseBetweenJobs:   0,
	}, p, n, r)
}

func submitOK(t *testing.T, s *Scheduler, clientID string) int {
	t.Helper()
	pos, err := s.Submit(clientID, "style-"+clientID, "content-"+clientID, testParams)
	if err != nil {
		t.Fatalf("Submit(%s) failed: %v", clientID, err)
	}
	return pos
}

func waitInFlight(t *testing.T, s *Scheduler, clientID string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Stats().InFlightClient == clientID {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("client %s never went in flight", clientID)
}

func waitIdle(t *testing.T, s *Scheduler) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		stats := s.Stats()
		if stats.QueueLength == 0 && stats.ActiveClients == 0 {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("scheduler never went idle, stats: %+v", s.Stats())
}

func TestSubmitAssignsContiguousPositions(t *testing.T) {
	pipe := &fakePipeline{gate: make(chan struct{})}
	sched := newTestScheduler(pipe, newFakeNotifier(), nil)

	submitOK(t, sched, "plug")
	waitInFlight(t, sched, "plug")

	for i, client := range []string{"alice", "bob", "carol"} {
		pos := submitOK(t, sched, client)
		if pos != i+1 {
			t.Errorf("client %s got position %d, want %d", client, pos, i+1)
		}
	}

	snapshot := sched.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("snapshot length = %d, want 3", len(snapshot))
	}
	for i, job := range snapshot {
		if job.Position != i+1 {
			t.Errorf("snapshot[%d] position = %d, want %d", i, job.Position, i+1)
		}
	}

	close(pipe.gate)
	waitIdle(t, sched)
}

func TestSubmitQueueFull(t *testing.T) {
	pipe := &fakePipeline{gate: make(chan struct{})}
	sched := newTestScheduler(pipe, newFakeNotifier(), nil)

	submitOK(t, sched, "plug")
	waitInFlight(t, sched, "plug")
	for i := 0; i < 5; i++ {
		submitOK(t, sched, fmt.Sprintf("client%d", i))
	}

	if _, err := sched.Submit("late", "s", "c", testParams); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Submit over capacity = %v, want ErrQueueFull", err)
	}

	// The rejected submission must not have mutated state.
	snapshot := sched.Snapshot()
	if len(snapshot) != 5 {
		t.Fatalf("snapshot length = %d after rejection, want 5", len(snapshot))
	}
	for i, job := range snapshot {
		if job.Position != i+1 {
			t.Errorf("snapshot[%d] position = %d, want %d", i, job.Position, i+1)
		}
	}

	close(pipe.gate)
	waitIdle(t, sched)
}

func TestSubmitDuplicateClient(t *testing.T) {
	pipe := &fakePipeline{gate: make(chan struct{})}
	sched := newTestScheduler(pipe, newFakeNotifier(), nil)

	submitOK(t, sched, "plug")
	waitInFlight(t, sched, "plug")
	submitOK(t, sched, "alice")

	if _, err := sched.Submit("alice", "s", "c", testParams); !errors.Is(err, ErrDuplicateSubmission) {
		t.Errorf("second Submit(alice) = %v, want ErrDuplicateSubmission", err)
	}
	// The in-flight client counts as active too.
	if _, err := sched.Submit("plug", "s", "c", testParams); !errors.Is(err, ErrDuplicateSubmission) {
		t.Errorf("Submit(plug) while in flight = %v, want ErrDuplicateSubmission", err)
	}

	close(pipe.gate)
	waitIdle(t, sched)
}

func TestCancelQueuedRenumbers(t *testing.T) {
	pipe := &fakePipeline{gate: make(chan struct{})}
	notifier := newFakeNotifier()
	resources := &fakeResources{}
	sched := newTestScheduler(pipe, notifier, resources)

	submitOK(t, sched, "plug")
	waitInFlight(t, sched, "plug")
	submitOK(t, sched, "alice")
	submitOK(t, sched, "bob")
	submitOK(t, sched, "carol")

	if err := sched.Cancel("bob"); err != nil {
		t.Fatalf("Cancel(bob) failed: %v", err)
	}

	snapshot := sched.Snapshot()
	if len(snapshot) != 2 {
		t.Fatalf("snapshot length = %d, want 2", len(snapshot))
	}
	if snapshot[0].ClientID != "alice" || snapshot[0].Position != 1 {
		t.Errorf("front job = %s at %d, want alice at 1", snapshot[0].ClientID, snapshot[0].Position)
	}
	if snapshot[1].ClientID != "carol" || snapshot[1].Position != 2 {
		t.Errorf("second job = %s at %d, want carol at 2", snapshot[1].ClientID, snapshot[1].Position)
	}
	if sched.Stats().QueueLength != 2 {
		t.Errorf("queue length = %d after cancel, want 2", sched.Stats().QueueLength)
	}

	// Only carol sat behind bob, so only carol gets a position update.
	if got := notifier.textsContaining("carol", "position 2"); got != 1 {
		t.Errorf("carol position updates = %d, want 1", got)
	}
	if got := notifier.textsContaining("alice", "Queue update"); got != 0 {
		t.Errorf("alice got %d queue updates, want 0", got)
	}

	// Bob's uploads are released right away.
	deleted := resources.deletedRefs()
	if len(deleted) != 2 {
		t.Fatalf("deleted refs = %v, want bob's style and content refs", deleted)
	}

	if err := sched.Cancel("bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Cancel(bob) = %v, want ErrNotFound", err)
	}

	close(pipe.gate)
	waitIdle(t, sched)
}

func TestCancelUnknownClient(t *testing.T) {
	sched := newTestScheduler(&fakePipeline{}, newFakeNotifier(), nil)
	if err := sched.Cancel("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Cancel(ghost) = %v, want ErrNotFound", err)
	}
}

func TestConcurrentSubmitsRespectCapacity(t *testing.T) {
	pipe := &fakePipeline{gate: make(chan struct{})}
	notifier := newFakeNotifier()
	sched := newTestScheduler(pipe, notifier, nil)

	submitOK(t, sched, "plug")
	waitInFlight(t, sched, "plug")

	var wg sync.WaitGroup
	var mu sync.Mutex
	var accepted []string
	rejected := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			client := fmt.Sprintf("client%d", i)
			_, err := sched.Submit(client, "s"+client, "c"+client, testParams)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted = append(accepted, client)
			case errors.Is(err, ErrQueueFull):
				rejected++
			default:
				t.Errorf("Submit(%s) unexpected error: %v", client, err)
			}
		}(i)
	}
	wg.Wait()

	if len(accepted) != 5 || rejected != 15 {
		t.Fatalf("accepted=%d rejected=%d, want 5 and 15", len(accepted), rejected)
	}

	close(pipe.gate)
	waitIdle(t, sched)

	if got := pipe.maxConcurrent(); got != 1 {
		t.Errorf("max concurrent pipeline invocations = %d, want 1", got)
	}
	for _, client := range accepted {
		if notifier.imageCount(client) != 1 {
			t.Errorf("client %s received %d results, want 1", client, notifier.imageCount(client))
		}
	}
}

func TestPipelineFailureDoesNotStopWorker(t *testing.T) {
	pipe := &fakePipeline{
		gate:     make(chan struct{}),
		failRefs: map[string]error{"style-broken": errors.New("cuda out of memory")},
	}
	notifier := newFakeNotifier()
	sched := newTestScheduler(pipe, notifier, nil)

	submitOK(t, sched, "plug")
	waitInFlight(t, sched, "plug")
	submitOK(t, sched, "broken")
	submitOK(t, sched, "alice")

	close(pipe.gate)
	waitIdle(t, sched)

	if got := notifier.textsContaining("broken", "failed"); got != 1 {
		t.Errorf("broken got %d failure notices, want 1", got)
	}
	if notifier.imageCount("broken") != 0 {
		t.Errorf("broken received %d images, want 0", notifier.imageCount("broken"))
	}
	if notifier.imageCount("alice") != 1 {
		t.Errorf("alice received %d images, want 1", notifier.imageCount("alice"))
	}
	// Cleanup runs for the failed job too.
	if pipe.releaseCount() != 3 {
		t.Errorf("pipeline releases = %d, want 3", pipe.releaseCount())
	}
}

func TestInFlightCancelSuppressesResult(t *testing.T) {
	pipe := &fakePipeline{gate: make(chan struct{})}
	notifier := newFakeNotifier()
	resources := &fakeResources{}
	sched := newTestScheduler(pipe, notifier, resources)

	submitOK(t, sched, "alice")
	waitInFlight(t, sched, "alice")

	if err := sched.Cancel("alice"); err != nil {
		t.Fatalf("Cancel(alice) in flight failed: %v", err)
	}
	if err := sched.Cancel("alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second in-flight Cancel = %v, want ErrNotFound", err)
	}

	close(pipe.gate)
	waitIdle(t, sched)

	if notifier.imageCount("alice") != 0 {
		t.Errorf("alice received %d images after cancel, want 0", notifier.imageCount("alice"))
	}
	if got := notifier.textsContaining("alice", "failed"); got != 0 {
		t.Errorf("alice got %d failure notices, want 0", got)
	}
	if got := notifier.textsContaining("alice", "discarded"); got != 1 {
		t.Errorf("alice got %d cancel acks, want 1", got)
	}
	// Resources are still released by the normal per-job protocol.
	if pipe.releaseCount() != 1 {
		t.Errorf("pipeline releases = %d, want 1", pipe.releaseCount())
	}
	if len(resources.deletedRefs()) != 2 {
		t.Errorf("deleted refs = %v, want alice's two refs", resources.deletedRefs())
	}
}

func TestCancelMidQueueScenario(t *testing.T) {
	pipe := &fakePipeline{gate: make(chan struct{})}
	notifier := newFakeNotifier()
	sched := newTestScheduler(pipe, notifier, nil)

	submitOK(t, sched, "plug")
	waitInFlight(t, sched, "plug")
	submitOK(t, sched, "alice")
	submitOK(t, sched, "bob")
	submitOK(t, sched, "carol")

	if err := sched.Cancel("bob"); err != nil {
		t.Fatalf("Cancel(bob) failed: %v", err)
	}

	pipe.gate <- struct{}{} // plug finishes
	waitInFlight(t, sched, "alice")
	if snapshot := sched.Snapshot(); len(snapshot) != 1 || snapshot[0].ClientID != "carol" || snapshot[0].Position != 1 {
		t.Fatalf("snapshot after alice dequeued = %+v, want carol at position 1", snapshot)
	}

	pipe.gate <- struct{}{} // alice finishes
	pipe.gate <- struct{}{} // carol finishes
	waitIdle(t, sched)

	if notifier.imageCount("alice") != 1 || notifier.imageCount("carol") != 1 {
		t.Errorf("alice/carol results = %d/%d, want 1/1",
			notifier.imageCount("alice"), notifier.imageCount("carol"))
	}
	if notifier.imageCount("bob") != 0 {
		t.Errorf("bob received %d results after cancel, want 0", notifier.imageCount("bob"))
	}
	// Carol slid from 3 to 2 on bob's cancel, then 2 to 1 as the queue drained.
	if got := notifier.textsContaining("carol", "position 2"); got != 1 {
		t.Errorf("carol 'position 2' updates = %d, want 1", got)
	}
	if got := notifier.textsContaining("carol", "position 1"); got != 1 {
		t.Errorf("carol 'position 1' updates = %d, want 1", got)
	}
}

func TestWorkerRestartsAfterIdle(t *testing.T) {
	pipe := &fakePipeline{}
	notifier := newFakeNotifier()
	sched := newTestScheduler(pipe, notifier, nil)

	submitOK(t, sched, "alice")
	waitIdle(t, sched)
	submitOK(t, sched, "bob")
	waitIdle(t, sched)

	if notifier.imageCount("alice") != 1 || notifier.imageCount("bob") != 1 {
		t.Errorf("alice/bob results = %d/%d, want 1/1",
			notifier.imageCount("alice"), notifier.imageCount("bob"))
	}
}

func TestNotificationFailuresAreSwallowed(t *testing.T) {
	pipe := &fakePipeline{}
	notifier := newFakeNotifier()
	notifier.fail = true
	sched := newTestScheduler(pipe, notifier, nil)

	submitOK(t, sched, "alice")
	submitOK(t, sched, "bob")
	waitIdle(t, sched)

	if pipe.releaseCount() != 2 {
		t.Errorf("pipeline releases = %d, want 2 despite notifier failures", pipe.releaseCount())
	}
}

func TestStatsTracksInFlight(t *testing.T) {
	pipe := &fakePipeline{gate: make(chan struct{})}
	sched := newTestScheduler(pipe, newFakeNotifier(), nil)

	submitOK(t, sched, "alice")
	waitInFlight(t, sched, "alice")
	submitOK(t, sched, "bob")

	stats := sched.Stats()
	if stats.QueueLength != 1 {
		t.Errorf("queue length = %d, want 1", stats.QueueLength)
	}
	if stats.ActiveClients != 2 {
		t.Errorf("active clients = %d, want 2", stats.ActiveClients)
	}
	if stats.InFlightClient != "alice" {
		t.Errorf("in-flight client = %q, want alice", stats.InFlightClient)
	}
	if stats.InFlightElapsed <= 0 {
		t.Errorf("in-flight elapsed = %v, want > 0", stats.InFlightElapsed)
	}

	close(pipe.gate)
	waitIdle(t, sched)
}
