//go:build !integration

package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"autodoc-pipeline/internal/domain"
	"autodoc-pipeline/internal/domain/model"
	"autodoc-pipeline/internal/domain/ports/adapter"
	"autodoc-pipeline/internal/domain/ports/repository"
	"autodoc-pipeline/internal/infra/logging"
)

// ---- JobStore ----

type memStore struct {
	mu sync.Mutex

	jobs    map[string]repository.NewJob
	batches map[string]*model.BatchRecord // by batch id
	docs    map[string]*model.Documentation
	stale   map[string]bool // jobs with results newer than their document

	createBatchCalls int
	consolidateCalls int
	submitted        []int // batch indices in submission order

	submitErr      func(index int) error
	consolidateErr error
	seq            int
}

var _ repository.JobStore = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		jobs:    map[string]repository.NewJob{},
		batches: map[string]*model.BatchRecord{},
		docs:    map[string]*model.Documentation{},
		stale:   map[string]bool{},
	}
}

func (m *memStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *memStore) CreateJob(ctx context.Context, in repository.NewJob) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID("job")
	m.jobs[id] = in
	return id, nil
}

func (m *memStore) CreateBatch(ctx context.Context, jobID string, index int, totalBytes int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createBatchCalls++
	for _, b := range m.batches {
		if b.JobID == jobID && b.Index == index {
			return b.ID, nil
		}
	}
	id := m.nextID("batch")
	m.batches[id] = &model.BatchRecord{ID: id, JobID: jobID, Index: index, TotalBytes: totalBytes}
	return id, nil
}

func (m *memStore) SubmitResult(ctx context.Context, batchID, text, rawTrace string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[batchID]
	if !ok {
		return "", domain.ErrNotFound
	}
	if m.submitErr != nil {
		if err := m.submitErr(b.Index); err != nil {
			return "", err
		}
	}
	b.Completed = true
	b.Result = text
	m.stale[b.JobID] = true
	m.submitted = append(m.submitted, b.Index)
	return m.nextID("result"), nil
}

func (m *memStore) ListBatches(ctx context.Context, jobID string) ([]model.BatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BatchRecord
	for _, b := range m.batches {
		if b.JobID == jobID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (m *memStore) Consolidate(ctx context.Context, jobID string) (*model.Documentation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consolidateCalls++
	if m.consolidateErr != nil {
		return nil, m.consolidateErr
	}
	if d, ok := m.docs[jobID]; ok && !m.stale[jobID] {
		return d, nil
	}
	var recs []*model.BatchRecord
	for _, b := range m.batches {
		if b.JobID == jobID {
			recs = append(recs, b)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].Index < recs[j].Index })
	parts := make([]string, 0, len(recs))
	for _, b := range recs {
		parts = append(parts, b.Result)
	}
	content := strings.Join(parts, "\n---\n")
	m.stale[jobID] = false
	if d, ok := m.docs[jobID]; ok {
		d.Content, d.UpdatedAt = content, time.Now()
		return d, nil
	}
	d := &model.Documentation{ID: m.nextID("doc"), JobID: jobID, Content: content, CreatedAt: time.Now()}
	m.docs[jobID] = d
	return d, nil
}

func (m *memStore) GetDocumentation(ctx context.Context, jobID string) (*model.Documentation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.docs[jobID]; ok {
		cp := *d
		return &cp, nil
	}
	return nil, domain.ErrNotFound
}

func (m *memStore) UpdateDocumentation(ctx context.Context, jobID, content string) (*model.Documentation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	d.Content = content
	d.UpdatedAt = time.Now()
	cp := *d
	return &cp, nil
}

// ---- AI ----

type fakeAI struct {
	mu    sync.Mutex
	calls []adapter.GenerateRequest

	GenerateFunc func(ctx context.Context, req adapter.GenerateRequest) (adapter.GenerateResult, error)
}

var _ adapter.AIServiceAdapter = (*fakeAI)(nil)

func (f *fakeAI) ListModels(ctx context.Context) ([]string, error) {
	return []string{"gemini-2.5-flash"}, nil
}

func (f *fakeAI) GetModelInfo(_ context.Context, m string) (adapter.ModelInfo, error) {
	return adapter.ModelInfo{Name: m}, nil
}

func (f *fakeAI) Generate(ctx context.Context, req adapter.GenerateRequest) (adapter.GenerateResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.GenerateFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}
	return adapter.GenerateResult{Text: "docs for " + firstPath(req), Usage: adapter.Usage{TotalTokens: 42}}, nil
}

// firstPaths lists the first file path of every call, which identifies the
// batch in these tests.
func (f *fakeAI) firstPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = firstPath(c)
	}
	return out
}

func (f *fakeAI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func firstPath(req adapter.GenerateRequest) string {
	if len(req.Files) == 0 {
		return ""
	}
	return req.Files[0].Path
}

// ---- Governor ----

type fakeGovernor struct {
	mu      sync.Mutex
	waits   int
	records []int
	waitErr error
}

func (g *fakeGovernor) Wait(ctx context.Context, model string, estimate int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.waits++
	return g.waitErr
}

func (g *fakeGovernor) Record(ctx context.Context, model string, tokens int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.records = append(g.records, tokens)
	return nil
}

// ---- helpers ----

type recordedSleeps struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func newTestExecutor(s *recordedSleeps) *CallExecutor {
	if s == nil {
		s = &recordedSleeps{}
	}
	return NewCallExecutor(DefaultRetryPolicy(), logging.Nop()).WithSleeper(s.sleep)
}

// filesOneEach returns n one-byte files named f0..f(n-1).
func filesOneEach(n int) []model.FileRecord {
	out := make([]model.FileRecord, n)
	for i := range out {
		out[i] = model.FileRecord{ID: fmt.Sprintf("id%d", i), Path: fmt.Sprintf("f%d", i), Size: 1, Content: "x"}
	}
	return out
}

// newTestJob builds a job with one single-file batch per status given.
func newTestJob(statuses ...model.BatchStatus) *model.Job {
	files := filesOneEach(len(statuses))
	batches := make([]model.Batch, len(statuses))
	for i, st := range statuses {
		batches[i] = model.Batch{Index: i, Files: files[i : i+1], TotalBytes: 1, Status: st}
		if st == model.BatchStatusCompleted {
			batches[i].Result = "earlier result"
		}
	}
	return &model.Job{
		ID:             "job-1",
		RepositoryName: "repo",
		Template:       model.Template{ID: "tpl", Content: "Describe the code"},
		Model:          "gemini-2.5-flash",
		Batches:        batches,
	}
}
