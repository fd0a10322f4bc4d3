package worker

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/ai-table-enricher/internal/domain"
)

// In-memory port implementations used across the worker tests. Hooks let a
// test mutate a job while the runner is mid-loop, which is how external
// pause/stop and race scenarios are driven.

type memJobs struct {
	mu           sync.Mutex
	seq          int
	jobs         map[string]domain.Job
	logs         map[string][]domain.JobLog
	onGet        func(j *domain.Job)
	onProgress   func(j *domain.Job)
	onTransition func(j *domain.Job, to domain.JobStatus)
}

func newMemJobs() *memJobs {
	return &memJobs{jobs: make(map[string]domain.Job), logs: make(map[string][]domain.JobLog)}
}

func (m *memJobs) add(j domain.Job) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if j.ID == "" {
		j.ID = fmt.Sprintf("job-%d", m.seq)
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC().Add(time.Duration(m.seq) * time.Millisecond)
	}
	m.jobs[j.ID] = j
	return j.ID
}

func (m *memJobs) setStatus(id string, s domain.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.jobs[id]
	j.Status = s
	m.jobs[id] = j
}

func (m *memJobs) snapshot(id string) domain.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

func (m *memJobs) Create(_ domain.Context, j domain.Job) (string, error) {
	return m.add(j), nil
}

func (m *memJobs) Get(_ domain.Context, id string) (domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	if m.onGet != nil {
		m.onGet(&j)
		m.jobs[id] = j
	}
	return j, nil
}

func (m *memJobs) ClaimNext(_ domain.Context, lease time.Duration) (domain.Job, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	pick := func(match func(domain.Job) bool) (domain.Job, bool) {
		var best *domain.Job
		for _, j := range m.jobs {
			j := j
			if !match(j) {
				continue
			}
			if best == nil || j.CreatedAt.Before(best.CreatedAt) {
				best = &j
			}
		}
		if best == nil {
			return domain.Job{}, false
		}
		exp := now.Add(lease)
		best.Status = domain.JobProcessing
		best.LeaseExpiresAt = &exp
		m.jobs[best.ID] = *best
		return *best, true
	}
	if j, ok := pick(func(j domain.Job) bool { return j.Status == domain.JobQueued }); ok {
		return j, true, nil
	}
	if j, ok := pick(func(j domain.Job) bool {
		return j.Status == domain.JobProcessing && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now)
	}); ok {
		return j, true, nil
	}
	return domain.Job{}, false, nil
}

func (m *memJobs) Heartbeat(_ domain.Context, id string, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status == domain.JobProcessing {
		exp := time.Now().UTC().Add(lease)
		j.LeaseExpiresAt = &exp
		m.jobs[id] = j
	}
	return nil
}

func (m *memJobs) UpdateProgress(_ domain.Context, id string, upd domain.ProgressUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if upd.RowsProcessed != nil {
		j.RowsProcessed = *upd.RowsProcessed
	}
	if upd.CurrentRow != nil {
		v := *upd.CurrentRow
		j.CurrentRow = &v
	}
	if upd.ClearCurrentRow {
		j.CurrentRow = nil
	}
	if upd.TotalRows != nil {
		j.TotalRows = *upd.TotalRows
	}
	if upd.LeaseExpiresAt != nil {
		t := *upd.LeaseExpiresAt
		j.LeaseExpiresAt = &t
	}
	if m.onProgress != nil {
		m.onProgress(&j)
	}
	m.jobs[id] = j
	return nil
}

func (m *memJobs) TransitionStatus(_ domain.Context, id string, from []domain.JobStatus, to domain.JobStatus, extra domain.TransitionExtra) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if m.onTransition != nil {
		m.onTransition(&j, to)
		m.jobs[id] = j
	}
	matched := false
	for _, f := range from {
		if j.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	j.Status = to
	if extra.EnrichedFilePath != nil {
		j.EnrichedFilePath = *extra.EnrichedFilePath
	}
	if extra.ErrorMessage != nil {
		j.ErrorMessage = *extra.ErrorMessage
	}
	if extra.ErrorDetails != nil {
		d := *extra.ErrorDetails
		j.ErrorDetails = &d
	}
	if extra.ClearErrorDetails {
		j.ErrorDetails = nil
	}
	if extra.FinishedAt != nil {
		t := *extra.FinishedAt
		j.FinishedAt = &t
	}
	if extra.RowsProcessed != nil {
		j.RowsProcessed = *extra.RowsProcessed
	}
	if extra.ClearCurrentRow {
		j.CurrentRow = nil
	}
	if extra.ClearLease {
		j.LeaseExpiresAt = nil
	}
	m.jobs[id] = j
	return true, nil
}

func (m *memJobs) AppendLog(_ domain.Context, id string, level domain.LogLevel, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs[id] = append(m.logs[id], domain.JobLog{
		ID:        fmt.Sprintf("log-%d", len(m.logs[id])+1),
		JobID:     id,
		Level:     level,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
	return nil
}

func (m *memJobs) ListLogs(_ domain.Context, id string) ([]domain.JobLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.JobLog, len(m.logs[id]))
	copy(out, m.logs[id])
	return out, nil
}

func (m *memJobs) hasLog(id, substr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.logs[id] {
		if strings.Contains(l.Message, substr) {
			return true
		}
	}
	return false
}

type memBlobs struct {
	mu       sync.Mutex
	data     map[string][]byte
	ctype    map[string]string
	rejectCT map[string]bool
	getCalls map[string]int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{
		data:     make(map[string][]byte),
		ctype:    make(map[string]string),
		rejectCT: make(map[string]bool),
		getCalls: make(map[string]int),
	}
}

func (m *memBlobs) Put(_ domain.Context, path string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rejectCT[contentType] {
		return errors.New("unsupported content type")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	m.data[path] = cp
	m.ctype[path] = contentType
	return nil
}

func (m *memBlobs) Get(_ domain.Context, path string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls[path]++
	d, ok := m.data[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := make([]byte, len(d))
	copy(cp, d)
	return cp, nil
}

func (m *memBlobs) Delete(_ domain.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, path)
	delete(m.ctype, path)
	return nil
}

func (m *memBlobs) List(_ domain.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for p := range m.data {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memBlobs) has(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[path]
	return ok
}

type memFiles struct {
	mu    sync.Mutex
	files map[string]domain.InputFile
}

func newMemFiles() *memFiles {
	return &memFiles{files: make(map[string]domain.InputFile)}
}

func (m *memFiles) Create(_ domain.Context, f domain.InputFile) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f.ID == "" {
		f.ID = fmt.Sprintf("file-%d", len(m.files)+1)
	}
	m.files[f.ID] = f
	return f.ID, nil
}

func (m *memFiles) Get(_ domain.Context, id string) (domain.InputFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[id]
	if !ok {
		return domain.InputFile{}, domain.ErrNotFound
	}
	return f, nil
}

type memCreds struct {
	keys map[string]map[string]string
}

func (m *memCreds) GetProviderKeys(_ domain.Context, userID string) (map[string]string, error) {
	return m.keys[userID], nil
}

type fakeProvider struct {
	mu      sync.Mutex
	calls   []domain.GenerateRequest
	respond func(req domain.GenerateRequest) (string, error)
}

func (p *fakeProvider) Generate(_ domain.Context, req domain.GenerateRequest) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	fn := p.respond
	p.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return "ok:" + req.UserText, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

func (p *fakeProvider) call(i int) domain.GenerateRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[i]
}
