package pregen

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"readecho/core/align"
	"readecho/core/audiocache"
	"readecho/core/textsegment"
	"readecho/core/tts"
	"readecho/model"
)

// fakeJobs is an in-memory JobRepository with the same claim semantics as
// the GORM implementation.
type fakeJobs struct {
	mu    sync.Mutex
	seq   int
	jobs  map[string]*model.PreGenerationJob
	books map[string]*model.BookPreGenerationStatus
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		jobs:  make(map[string]*model.PreGenerationJob),
		books: make(map[string]*model.BookPreGenerationStatus),
	}
}

func (f *fakeJobs) findTarget(j *model.PreGenerationJob) *model.PreGenerationJob {
	for _, existing := range f.jobs {
		if existing.BookID == j.BookID && existing.ReadingLevel == j.ReadingLevel &&
			existing.ChunkIndex == j.ChunkIndex && existing.Provider == j.Provider &&
			existing.VoiceID == j.VoiceID {
			return existing
		}
	}
	return nil
}

func (f *fakeJobs) Enqueue(ctx context.Context, job *model.PreGenerationJob) (*model.PreGenerationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing := f.findTarget(job); existing != nil {
		if existing.Status == model.JobStatusFailed {
			existing.Status = model.JobStatusPending
			existing.RetryCount = 0
			existing.ErrorMessage = ""
			existing.Priority = job.Priority
			existing.StartedAt = nil
			existing.CompletedAt = nil
		}
		return existing, nil
	}
	f.seq++
	stored := *job
	stored.ID = fmt.Sprintf("job-%d", f.seq)
	stored.Status = model.JobStatusPending
	stored.CreatedAt = time.Unix(int64(f.seq), 0)
	f.jobs[stored.ID] = &stored
	return &stored, nil
}

func (f *fakeJobs) ClaimNext(ctx context.Context) (*model.PreGenerationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []*model.PreGenerationJob
	for _, j := range f.jobs {
		if j.Status == model.JobStatusPending {
			pending = append(pending, j)
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}
	sort.Slice(pending, func(a, b int) bool {
		if pending[a].Priority != pending[b].Priority {
			return pending[a].Priority < pending[b].Priority
		}
		return pending[a].CreatedAt.Before(pending[b].CreatedAt)
	})
	job := pending[0]
	now := time.Now()
	job.Status = model.JobStatusProcessing
	job.StartedAt = &now
	copied := *job
	return &copied, nil
}

func (f *fakeJobs) Release(ctx context.Context, job *model.PreGenerationJob, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.jobs[job.ID]
	if !ok {
		return nil
	}
	if stored.RetryCount >= stored.MaxRetries {
		stored.Status = model.JobStatusFailed
		return nil
	}
	stored.Status = model.JobStatusPending
	stored.RetryCount++
	stored.StartedAt = nil
	if cause != nil {
		stored.ErrorMessage = cause.Error()
	}
	return nil
}

func (f *fakeJobs) MarkCompleted(ctx context.Context, jobID string, actualCost float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[jobID]; ok && j.Status == model.JobStatusProcessing {
		now := time.Now()
		j.Status = model.JobStatusCompleted
		j.CompletedAt = &now
		j.ActualCost = actualCost
	}
	return nil
}

func (f *fakeJobs) MarkFailed(ctx context.Context, jobID string, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[jobID]; ok {
		now := time.Now()
		j.Status = model.JobStatusFailed
		j.CompletedAt = &now
		j.ErrorMessage = message
	}
	return nil
}

func (f *fakeJobs) ReapStuck(ctx context.Context, maxAge time.Duration) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-maxAge)
	var n int64
	for _, j := range f.jobs {
		if j.Status == model.JobStatusProcessing && j.StartedAt != nil && j.StartedAt.Before(cutoff) {
			j.Status = model.JobStatusPending
			j.StartedAt = nil
			n++
		}
	}
	return n, nil
}

func (f *fakeJobs) GetByID(ctx context.Context, jobID string) (*model.PreGenerationJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[jobID]; ok {
		copied := *j
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeJobs) CountByBookAndStatus(ctx context.Context, bookID, status string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, j := range f.jobs {
		if j.BookID == bookID && j.Status == status {
			n++
		}
	}
	return n, nil
}

func (f *fakeJobs) CountActiveByBookAndMaxPriority(ctx context.Context, bookID string, maxPriority model.JobPriority) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, j := range f.jobs {
		if j.BookID == bookID && j.Priority <= maxPriority &&
			(j.Status == model.JobStatusPending || j.Status == model.JobStatusProcessing) {
			n++
		}
	}
	return n, nil
}

func (f *fakeJobs) TotalActualCost(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total float64
	for _, j := range f.jobs {
		total += j.ActualCost
	}
	return total, nil
}

func (f *fakeJobs) CreateBookStatus(ctx context.Context, status *model.BookPreGenerationStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *status
	f.books[status.BookID] = &copied
	return nil
}

func (f *fakeJobs) GetBookStatus(ctx context.Context, bookID string) (*model.BookPreGenerationStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.books[bookID]; ok {
		copied := *s
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeJobs) AddBookProgress(ctx context.Context, bookID string, completed, failed int64, cost float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.books[bookID]; ok {
		s.CompletedCount += completed
		s.FailedCount += failed
		s.TotalCostUSD += cost
	}
	return nil
}

func (f *fakeJobs) UpdateBookFlags(ctx context.Context, bookID string, popularDone, allDone bool, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.books[bookID]; ok {
		s.PopularDone = popularDone
		s.AllDone = allDone
		if status != "" {
			s.Status = status
		}
	}
	return nil
}

// fakeAssetRepo is an in-memory AudioAssetRepository.
type fakeAssetRepo struct {
	mu     sync.Mutex
	assets map[model.AssetKey]*model.AudioAsset
}

func newFakeAssetRepo() *fakeAssetRepo {
	return &fakeAssetRepo{assets: make(map[model.AssetKey]*model.AudioAsset)}
}

func (f *fakeAssetRepo) Upsert(ctx context.Context, asset *model.AudioAsset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *asset
	f.assets[asset.Key()] = &copied
	return nil
}

func (f *fakeAssetRepo) GetByKey(ctx context.Context, key model.AssetKey) (*model.AudioAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a, ok := f.assets[key]; ok && !a.Expired(time.Now()) {
		copied := *a
		return &copied, nil
	}
	return nil, nil
}

func (f *fakeAssetRepo) GetChunk(ctx context.Context, bookID, level string, chunkIndex int, provider, voiceID string) ([]*model.AudioAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.AudioAsset
	for _, a := range f.assets {
		if a.BookID == bookID && a.ReadingLevel == level && a.ChunkIndex == chunkIndex &&
			a.Provider == provider && a.VoiceID == voiceID {
			copied := *a
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SentenceIndex < out[j].SentenceIndex })
	return out, nil
}

func (f *fakeAssetRepo) Touch(ctx context.Context, key model.AssetKey) error { return nil }

func (f *fakeAssetRepo) ListExpired(ctx context.Context, now time.Time) ([]*model.AudioAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.AudioAsset
	for _, a := range f.assets {
		if a.Expired(now) {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeAssetRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for k, a := range f.assets {
		if a.Expired(now) {
			delete(f.assets, k)
			n++
		}
	}
	return n, nil
}

// fakeSource serves fixed chunk text.
type fakeSource struct {
	chunks map[string]string // "book/level/index" -> text
	err    error
}

func (f *fakeSource) ChunkText(ctx context.Context, bookID, level string, chunkIndex int) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.chunks[fmt.Sprintf("%s/%s/%d", bookID, level, chunkIndex)], nil
}

func (f *fakeSource) ChunkCount(ctx context.Context, bookID, level string) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	n := 0
	prefix := fmt.Sprintf("%s/%s/", bookID, level)
	for k := range f.chunks {
		if strings.HasPrefix(k, prefix) {
			n++
		}
	}
	return n, nil
}

// fakeAudioStore keeps payloads in memory.
type fakeAudioStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeAudioStore() *fakeAudioStore {
	return &fakeAudioStore{objects: make(map[string][]byte)}
}

func (f *fakeAudioStore) PutAudio(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectPath] = data
	return objectPath, nil
}

func (f *fakeAudioStore) GetAudio(ctx context.Context, objectPath string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data, ok := f.objects[objectPath]; ok {
		return data, nil
	}
	return nil, errors.New("object not found")
}

func (f *fakeAudioStore) DeleteAudio(ctx context.Context, objectPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectPath)
	return nil
}

// scriptedTTS fails on sentences containing failOn, succeeds otherwise.
type scriptedTTS struct {
	mu     sync.Mutex
	failOn string
	err    error
	calls  int
}

func (s *scriptedTTS) Name() string { return "mock" }

func (s *scriptedTTS) MaxCharacters() int { return 10000 }

func (s *scriptedTTS) Synthesize(ctx context.Context, text, voiceID string) (*tts.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.failOn != "" && strings.Contains(text, s.failOn) {
		return nil, s.err
	}
	return &tts.Result{
		Audio:           []byte("audio:" + text),
		Format:          "mp3",
		DurationSeconds: float64(len(text)) / 15.0,
		CostUSD:         0.001,
	}, nil
}

func (s *scriptedTTS) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

const threeSentences = "The cat sat quietly on the mat. The dog barked loudly at the gate. Birds sang in the tall green trees."

func newTestHarness(synth tts.Synthesizer, sourceErr error) (*WorkerPool, *fakeJobs, *fakeAssetRepo, *Service) {
	jobs := newFakeJobs()
	assets := newFakeAssetRepo()
	source := &fakeSource{
		chunks: map[string]string{"book1/B1/0": threeSentences},
		err:    sourceErr,
	}
	audioStore := newFakeAudioStore()
	pipeline := NewPipeline(
		source,
		textsegment.NewSegmenter(textsegment.Options{}),
		tts.NewRegistry(synth),
		align.NewAligner(nil),
		audiocache.NewStore(assets, audioStore, audiocache.Options{}),
		audioStore,
	)
	service := NewService(jobs, pipeline, ServiceConfig{
		Levels:        []string{"B1"},
		PopularLevels: []string{"B1"},
		Voices:        []string{"mock:ella"},
		MaxRetries:    2,
	})
	pool := NewWorkerPool(jobs, service, pipeline, WorkerConfig{
		Concurrency:    1,
		RetryBaseDelay: time.Millisecond,
	})
	return pool, jobs, assets, service
}

func enqueueTestJob(t *testing.T, jobs *fakeJobs, priority model.JobPriority) *model.PreGenerationJob {
	t.Helper()
	job, err := jobs.Enqueue(context.Background(), &model.PreGenerationJob{
		BookID:       "book1",
		ReadingLevel: "B1",
		ChunkIndex:   0,
		Provider:     "mock",
		VoiceID:      "ella",
		Priority:     priority,
		MaxRetries:   2,
	})
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	return job
}

func TestClaimOrderFollowsPriority(t *testing.T) {
	jobs := newFakeJobs()
	ctx := context.Background()
	for i, p := range []model.JobPriority{model.PriorityBackground, model.PriorityNormal, model.PriorityUrgent} {
		if _, err := jobs.Enqueue(ctx, &model.PreGenerationJob{
			BookID: "book1", ReadingLevel: "B1", ChunkIndex: i,
			Provider: "mock", VoiceID: "ella", Priority: p, MaxRetries: 2,
		}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	var order []model.JobPriority
	for {
		job, err := jobs.ClaimNext(ctx)
		if err != nil {
			t.Fatalf("claim failed: %v", err)
		}
		if job == nil {
			break
		}
		order = append(order, job.Priority)
	}

	want := []model.JobPriority{model.PriorityUrgent, model.PriorityNormal, model.PriorityBackground}
	if len(order) != len(want) {
		t.Fatalf("claimed %d jobs, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("claim %d: priority %s, want %s", i, order[i], want[i])
		}
	}
}

func TestConcurrentClaimsNeverHandOutSameJob(t *testing.T) {
	jobs := newFakeJobs()
	ctx := context.Background()
	const total = 24

	for i := 0; i < total; i++ {
		if _, err := jobs.Enqueue(ctx, &model.PreGenerationJob{
			BookID: "book1", ReadingLevel: "B1", ChunkIndex: i,
			Provider: "mock", VoiceID: "ella",
			Priority: model.PriorityNormal, MaxRetries: 2,
		}); err != nil {
			t.Fatalf("enqueue failed: %v", err)
		}
	}

	var (
		mu      sync.Mutex
		claimed []string
		wg      sync.WaitGroup
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := jobs.ClaimNext(ctx)
				if err != nil {
					t.Errorf("claim failed: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimed = append(claimed, job.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != total {
		t.Fatalf("claimed %d jobs, want %d", len(claimed), total)
	}
	seen := make(map[string]bool, total)
	for _, id := range claimed {
		if seen[id] {
			t.Errorf("job %s claimed twice", id)
		}
		seen[id] = true
	}
}

func TestEnqueueIsIdempotent(t *testing.T) {
	jobs := newFakeJobs()
	first := enqueueTestJob(t, jobs, model.PriorityNormal)
	second := enqueueTestJob(t, jobs, model.PriorityNormal)
	if first.ID != second.ID {
		t.Errorf("duplicate enqueue created a second job: %s vs %s", first.ID, second.ID)
	}
	if len(jobs.jobs) != 1 {
		t.Errorf("job count = %d, want 1", len(jobs.jobs))
	}
}

func TestEnqueueRevivesFailedJob(t *testing.T) {
	jobs := newFakeJobs()
	ctx := context.Background()
	job := enqueueTestJob(t, jobs, model.PriorityBackground)
	if _, err := jobs.ClaimNext(ctx); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := jobs.MarkFailed(ctx, job.ID, "provider down"); err != nil {
		t.Fatalf("mark failed errored: %v", err)
	}

	revived := enqueueTestJob(t, jobs, model.PriorityUrgent)
	if revived.ID != job.ID {
		t.Fatalf("revival created a new job")
	}
	if revived.Status != model.JobStatusPending {
		t.Errorf("status = %s, want pending", revived.Status)
	}
	if revived.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0 after revival", revived.RetryCount)
	}
	if revived.Priority != model.PriorityUrgent {
		t.Errorf("priority = %s, want urgent after revival", revived.Priority)
	}
}

func TestProcessJobRendersAndCompletes(t *testing.T) {
	synth := &scriptedTTS{}
	pool, jobs, assets, _ := newTestHarness(synth, nil)
	ctx := context.Background()

	if err := jobs.CreateBookStatus(ctx, &model.BookPreGenerationStatus{
		BookID: "book1", TotalCombinations: 1, Status: model.BookStatusInProgress,
	}); err != nil {
		t.Fatalf("create book status failed: %v", err)
	}
	enqueueTestJob(t, jobs, model.PriorityNormal)
	claimed, err := jobs.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claim failed: %v", err)
	}

	pool.processJob(ctx, claimed)

	final, _ := jobs.GetByID(ctx, claimed.ID)
	if final.Status != model.JobStatusCompleted {
		t.Fatalf("job status = %s, want completed (error: %s)", final.Status, final.ErrorMessage)
	}
	if final.ActualCost <= 0 {
		t.Errorf("actual cost = %f, want > 0", final.ActualCost)
	}
	if len(assets.assets) != 3 {
		t.Errorf("cached assets = %d, want 3", len(assets.assets))
	}

	status, _ := jobs.GetBookStatus(ctx, "book1")
	if status.CompletedCount != 1 {
		t.Errorf("completed count = %d, want 1", status.CompletedCount)
	}
	if !status.AllDone || status.Status != model.BookStatusCompleted {
		t.Errorf("book flags = allDone %v status %s, want done/completed", status.AllDone, status.Status)
	}
}

func TestProcessJobKeepsPartialSuccesses(t *testing.T) {
	synth := &scriptedTTS{
		failOn: "barked",
		err:    &tts.ProviderError{Provider: "mock", Status: 429, Message: "rate limited", Retryable: true},
	}
	pool, jobs, assets, _ := newTestHarness(synth, nil)
	ctx := context.Background()

	if err := jobs.CreateBookStatus(ctx, &model.BookPreGenerationStatus{
		BookID: "book1", TotalCombinations: 1, Status: model.BookStatusInProgress,
	}); err != nil {
		t.Fatalf("create book status failed: %v", err)
	}
	enqueueTestJob(t, jobs, model.PriorityNormal)
	claimed, err := jobs.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claim failed: %v", err)
	}

	pool.processJob(ctx, claimed)

	final, _ := jobs.GetByID(ctx, claimed.ID)
	if final.Status != model.JobStatusFailed {
		t.Fatalf("job status = %s, want failed", final.Status)
	}
	if !strings.Contains(final.ErrorMessage, "sentence 1") {
		t.Errorf("error message %q does not name the failed sentence", final.ErrorMessage)
	}

	// Sentences 0 and 2 stay cached; only the rate-limited one is missing.
	if len(assets.assets) != 2 {
		t.Fatalf("cached assets = %d, want 2", len(assets.assets))
	}
	for key := range assets.assets {
		if key.SentenceIndex == 1 {
			t.Errorf("failed sentence was cached anyway")
		}
	}

	status, _ := jobs.GetBookStatus(ctx, "book1")
	if status.FailedCount != 1 {
		t.Errorf("failed count = %d, want 1", status.FailedCount)
	}
	if status.Status != model.BookStatusPartial {
		t.Errorf("book status = %s, want %s", status.Status, model.BookStatusPartial)
	}
}

func TestProcessJobSkipsCachedSentences(t *testing.T) {
	synth := &scriptedTTS{}
	pool, jobs, assets, _ := newTestHarness(synth, nil)
	ctx := context.Background()

	// Sentence 0 rendered by an earlier attempt.
	if err := assets.Upsert(ctx, &model.AudioAsset{
		BookID: "book1", ReadingLevel: "B1", ChunkIndex: 0, SentenceIndex: 0,
		Provider: "mock", VoiceID: "ella",
		AudioURL:  "audio/book1/B1/0/0/mock-ella.mp3",
		Duration:  2.0,
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}

	enqueueTestJob(t, jobs, model.PriorityNormal)
	claimed, err := jobs.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claim failed: %v", err)
	}

	pool.processJob(ctx, claimed)

	if got := synth.callCount(); got != 2 {
		t.Errorf("synthesize calls = %d, want 2 (cached sentence skipped)", got)
	}
	final, _ := jobs.GetByID(ctx, claimed.ID)
	if final.Status != model.JobStatusCompleted {
		t.Errorf("job status = %s, want completed", final.Status)
	}
}

func TestProcessJobReleasesOnSourceFailure(t *testing.T) {
	synth := &scriptedTTS{}
	pool, jobs, _, _ := newTestHarness(synth, errors.New("content service unavailable"))
	ctx := context.Background()

	enqueueTestJob(t, jobs, model.PriorityNormal)
	claimed, err := jobs.ClaimNext(ctx)
	if err != nil || claimed == nil {
		t.Fatalf("claim failed: %v", err)
	}

	pool.processJob(ctx, claimed)

	final, _ := jobs.GetByID(ctx, claimed.ID)
	if final.Status != model.JobStatusPending {
		t.Errorf("job status = %s, want pending after release", final.Status)
	}
	if final.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", final.RetryCount)
	}
	if synth.callCount() != 0 {
		t.Errorf("synthesize was called despite source failure")
	}
}

func TestReapStuckReclaimsOldProcessingJobs(t *testing.T) {
	jobs := newFakeJobs()
	ctx := context.Background()
	job := enqueueTestJob(t, jobs, model.PriorityNormal)
	if _, err := jobs.ClaimNext(ctx); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// Backdate the claim to simulate a worker crash.
	jobs.mu.Lock()
	old := time.Now().Add(-time.Hour)
	jobs.jobs[job.ID].StartedAt = &old
	jobs.mu.Unlock()

	reclaimed, err := jobs.ReapStuck(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("reap failed: %v", err)
	}
	if reclaimed != 1 {
		t.Errorf("reclaimed = %d, want 1", reclaimed)
	}
	final, _ := jobs.GetByID(ctx, job.ID)
	if final.Status != model.JobStatusPending {
		t.Errorf("job status = %s, want pending", final.Status)
	}
}

func TestBudgetCeilingPausesClaims(t *testing.T) {
	jobs := newFakeJobs()
	ctx := context.Background()
	job := enqueueTestJob(t, jobs, model.PriorityNormal)
	if _, err := jobs.ClaimNext(ctx); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := jobs.MarkCompleted(ctx, job.ID, 5.0); err != nil {
		t.Fatalf("mark completed failed: %v", err)
	}

	pool := NewWorkerPool(jobs, nil, nil, WorkerConfig{BudgetCeilingUSD: 4.0})
	if !pool.overBudget(ctx) {
		t.Errorf("overBudget = false with cost above ceiling")
	}

	unlimited := NewWorkerPool(jobs, nil, nil, WorkerConfig{})
	if unlimited.overBudget(ctx) {
		t.Errorf("overBudget = true with ceiling disabled")
	}
}

func TestInitiateBookEnqueuesMatrix(t *testing.T) {
	synth := &scriptedTTS{}
	_, jobs, _, service := newTestHarness(synth, nil)
	ctx := context.Background()

	status, err := service.InitiateBook(ctx, "book1")
	if err != nil {
		t.Fatalf("initiate failed: %v", err)
	}
	// One level, one voice, one chunk in the fake source.
	if status.TotalCombinations != 1 {
		t.Errorf("total combinations = %d, want 1", status.TotalCombinations)
	}
	if len(jobs.jobs) != 1 {
		t.Fatalf("job count = %d, want 1", len(jobs.jobs))
	}
	for _, j := range jobs.jobs {
		// B1 is popular and mock:ella is the default voice.
		if j.Priority != model.PriorityHigh {
			t.Errorf("priority = %s, want high for popular level + default voice", j.Priority)
		}
	}
}
