package audiocache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"readecho/model"
)

// fakeAssetRepo is an in-memory stand-in for the persistent tier. Upsert
// keyed by the composite key mirrors the UNIQUE constraint.
type fakeAssetRepo struct {
	mu      sync.Mutex
	rows    map[model.AssetKey]*model.AudioAsset
	touches map[model.AssetKey]int
	down    bool
}

func newFakeAssetRepo() *fakeAssetRepo {
	return &fakeAssetRepo{
		rows:    make(map[model.AssetKey]*model.AudioAsset),
		touches: make(map[model.AssetKey]int),
	}
}

func (f *fakeAssetRepo) Upsert(ctx context.Context, asset *model.AudioAsset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return fmt.Errorf("database unavailable")
	}
	copied := *asset
	f.rows[asset.Key()] = &copied
	return nil
}

func (f *fakeAssetRepo) GetByKey(ctx context.Context, key model.AssetKey) (*model.AudioAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fmt.Errorf("database unavailable")
	}
	asset, ok := f.rows[key]
	if !ok || asset.Expired(time.Now()) {
		return nil, nil
	}
	return asset, nil
}

func (f *fakeAssetRepo) GetChunk(ctx context.Context, bookID, level string, chunkIndex int, provider, voiceID string) ([]*model.AudioAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return nil, fmt.Errorf("database unavailable")
	}
	var out []*model.AudioAsset
	for i := 0; ; i++ {
		key := model.AssetKey{BookID: bookID, ReadingLevel: level, ChunkIndex: chunkIndex, SentenceIndex: i, Provider: provider, VoiceID: voiceID}
		asset, ok := f.rows[key]
		if !ok {
			break
		}
		out = append(out, asset)
	}
	return out, nil
}

func (f *fakeAssetRepo) Touch(ctx context.Context, key model.AssetKey) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touches[key]++
	return nil
}

func (f *fakeAssetRepo) ListExpired(ctx context.Context, now time.Time) ([]*model.AudioAsset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.AudioAsset
	for _, asset := range f.rows {
		if asset.Expired(now) {
			copied := *asset
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (f *fakeAssetRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for key, asset := range f.rows {
		if asset.Expired(now) {
			delete(f.rows, key)
			removed++
		}
	}
	return removed, nil
}

// fakeBlobStore records stored object paths so eviction can be verified.
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (f *fakeBlobStore) PutAudio(ctx context.Context, objectPath string, data []byte, contentType string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[objectPath] = data
	return objectPath, nil
}

func (f *fakeBlobStore) GetAudio(ctx context.Context, objectPath string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if data, ok := f.objects[objectPath]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("object not found")
}

func (f *fakeBlobStore) DeleteAudio(ctx context.Context, objectPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, objectPath)
	return nil
}

func (f *fakeBlobStore) has(objectPath string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[objectPath]
	return ok
}

func testKey(sentence int) model.AssetKey {
	return model.AssetKey{
		BookID:        "emma",
		ReadingLevel:  "B1",
		ChunkIndex:    5,
		SentenceIndex: sentence,
		Provider:      "openai",
		VoiceID:       "nova",
	}
}

func testAsset(sentence int) *model.AudioAsset {
	key := testKey(sentence)
	return &model.AudioAsset{
		BookID:        key.BookID,
		ReadingLevel:  key.ReadingLevel,
		ChunkIndex:    key.ChunkIndex,
		SentenceIndex: key.SentenceIndex,
		Provider:      key.Provider,
		VoiceID:       key.VoiceID,
		AudioURL:      fmt.Sprintf("audio/emma/B1/5/%d.mp3", sentence),
		Duration:      2.5,
	}
}

func TestStoreMissThenHit(t *testing.T) {
	repo := newFakeAssetRepo()
	store := NewStore(repo, newFakeBlobStore(), Options{})
	ctx := context.Background()

	if got := store.Get(ctx, testKey(0)); got != nil {
		t.Fatalf("expected miss on empty store, got %v", got)
	}

	if err := store.Put(ctx, testAsset(0)); err != nil {
		t.Fatalf("put: %v", err)
	}

	got := store.Get(ctx, testKey(0))
	if got == nil {
		t.Fatal("expected hit after put")
	}
	if got.AudioURL != "audio/emma/B1/5/0.mp3" {
		t.Errorf("unexpected asset: %+v", got)
	}
}

func TestStorePromotesToMemoryTier(t *testing.T) {
	repo := newFakeAssetRepo()
	store := NewStore(repo, newFakeBlobStore(), Options{})
	ctx := context.Background()

	// Seed the persistent tier directly, bypassing the store.
	asset := testAsset(1)
	asset.ExpiresAt = time.Now().Add(time.Hour)
	if err := repo.Upsert(ctx, asset); err != nil {
		t.Fatal(err)
	}

	if got := store.Get(ctx, testKey(1)); got == nil {
		t.Fatal("expected hit from persistent tier")
	}

	// Persistent tier goes down; the promoted copy must still serve.
	repo.mu.Lock()
	repo.down = true
	repo.mu.Unlock()

	if got := store.Get(ctx, testKey(1)); got == nil {
		t.Fatal("expected hit from memory tier after promotion")
	}
}

func TestStoreDegradesToMissWhenAllTiersDown(t *testing.T) {
	repo := newFakeAssetRepo()
	repo.down = true
	store := NewStore(repo, newFakeBlobStore(), Options{})

	// Never an error, always a clean miss.
	if got := store.Get(context.Background(), testKey(2)); got != nil {
		t.Fatalf("expected clean miss, got %v", got)
	}
}

func TestStoreIdempotentPut(t *testing.T) {
	repo := newFakeAssetRepo()
	store := NewStore(repo, newFakeBlobStore(), Options{})
	ctx := context.Background()

	a1 := testAsset(3)
	a1.AudioURL = "audio/first.mp3"
	a2 := testAsset(3)
	a2.AudioURL = "audio/second.mp3"

	var wg sync.WaitGroup
	for _, a := range []*model.AudioAsset{a1, a2} {
		wg.Add(1)
		go func(asset *model.AudioAsset) {
			defer wg.Done()
			if err := store.Put(ctx, asset); err != nil {
				t.Errorf("put: %v", err)
			}
		}(a)
	}
	wg.Wait()

	repo.mu.Lock()
	count := len(repo.rows)
	stored := repo.rows[testKey(3)]
	repo.mu.Unlock()

	if count != 1 {
		t.Fatalf("expected exactly one row for the key, got %d", count)
	}
	if stored.AudioURL != "audio/first.mp3" && stored.AudioURL != "audio/second.mp3" {
		t.Errorf("stored row is corrupt: %+v", stored)
	}
}

func TestStoreEvictExpired(t *testing.T) {
	repo := newFakeAssetRepo()
	blobs := newFakeBlobStore()
	store := NewStore(repo, blobs, Options{})
	ctx := context.Background()

	expired := testAsset(4)
	expired.ExpiresAt = time.Now().Add(-time.Hour)
	if err := repo.Upsert(ctx, expired); err != nil {
		t.Fatal(err)
	}
	live := testAsset(5)
	live.ExpiresAt = time.Now().Add(time.Hour)
	if err := repo.Upsert(ctx, live); err != nil {
		t.Fatal(err)
	}
	for _, a := range []*model.AudioAsset{expired, live} {
		if _, err := blobs.PutAudio(ctx, a.AudioURL, []byte("audio"), "audio/mpeg"); err != nil {
			t.Fatal(err)
		}
	}

	removed, err := store.EvictExpired(ctx)
	if err != nil {
		t.Fatalf("evict: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if got := store.Get(ctx, testKey(4)); got != nil {
		t.Error("expired asset still served")
	}
	if got := store.Get(ctx, testKey(5)); got == nil {
		t.Error("live asset evicted")
	}

	// The expired row's audio object goes with it; the live one stays.
	if blobs.has(expired.AudioURL) {
		t.Error("expired audio object not deleted")
	}
	if !blobs.has(live.AudioURL) {
		t.Error("live audio object deleted")
	}
}

func TestMemoryTierLRUEviction(t *testing.T) {
	tier := NewMemoryTier(2, time.Minute)

	tier.Put("a", testAsset(0))
	tier.Put("b", testAsset(1))
	_ = tier.Get("a") // refresh a
	tier.Put("c", testAsset(2))

	if tier.Get("b") != nil {
		t.Error("least recently used entry not evicted")
	}
	if tier.Get("a") == nil || tier.Get("c") == nil {
		t.Error("wrong entry evicted")
	}
	if tier.Len() != 2 {
		t.Errorf("len = %d, want 2", tier.Len())
	}
}
