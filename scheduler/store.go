package scheduler

// Store holds the pending jobs in FIFO order together with a clientID index.
// It is a plain data structure: every method must be called with the owning
// scheduler's lock held, so that the ordered slice and the index can never be
// observed out of sync.
type Store struct {
	jobs     []*Job
	byClient map[string]*Job
}

func NewStore() *Store {
	return &Store{
		byClient: make(map[string]*Job),
	}
}

// Enqueue appends the job and indexes it by client in one step.
func (s *Store) Enqueue(job *Job) {
	s.jobs = append(s.jobs, job)
	s.byClient[job.ClientID] = job
}

// DequeueFront removes and returns the oldest job.
func (s *Store) DequeueFront() (*Job, error) {
	if len(s.jobs) == 0 {
		return nil, ErrEmptyQueue
	}
	job := s.jobs[0]
	s.jobs = s.jobs[1:]
	delete(s.byClient, job.ClientID)
	return job, nil
}

// Remove takes the client's job out of the queue wherever it sits.
func (s *Store) Remove(clientID string) (*Job, error) {
	job, ok := s.byClient[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	for i, queued := range s.jobs {
		if queued.seq == job.seq {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			break
		}
	}
	delete(s.byClient, clientID)
	return job, nil
}

// Get looks up a queued job by client without removing it.
func (s *Store) Get(clientID string) (*Job, bool) {
	job, ok := s.byClient[clientID]
	return job, ok
}

func (s *Store) Len() int {
	return len(s.jobs)
}

// Snapshot returns copies of the queued jobs in FIFO order, for stats and
// status rendering.
func (s *Store) Snapshot() []Job {
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}
