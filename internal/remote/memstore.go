package remote

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/alexjbarnes/remotesync/internal/engine"
	syncerrors "github.com/alexjbarnes/remotesync/internal/errors"
)

// MemStore is an in-memory RemoteClient for tests. Safe for concurrent
// use; the executor hits it from multiple goroutines.
type MemStore struct {
	mu      sync.Mutex
	objects map[string]memObject
	folders map[string]int64
	now     func() time.Time
}

type memObject struct {
	data  []byte
	mtime int64
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		objects: make(map[string]memObject),
		folders: make(map[string]int64),
		now:     time.Now,
	}
}

// Seed places an object directly, bypassing the RemoteClient surface.
// mtime is unix milliseconds; zero means now.
func (s *MemStore) Seed(key string, data []byte, mtime int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mtime == 0 {
		mtime = s.now().UnixMilli()
	}

	s.objects[strings.TrimSuffix(key, "/")] = memObject{data: append([]byte(nil), data...), mtime: mtime}
}

// SeedFolder places a folder marker directly.
func (s *MemStore) SeedFolder(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.folders[strings.TrimSuffix(key, "/")] = s.now().UnixMilli()
}

// Has reports whether an object exists.
func (s *MemStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.objects[strings.TrimSuffix(key, "/")]

	return ok
}

// HasFolder reports whether a folder marker exists.
func (s *MemStore) HasFolder(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.folders[strings.TrimSuffix(key, "/")]

	return ok
}

// Len returns the object count (folders excluded).
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.objects)
}

// ListAll enumerates objects and folder markers, sorted by key.
func (s *MemStore) ListAll(_ context.Context) ([]engine.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entities := make([]engine.Entity, 0, len(s.objects)+len(s.folders))

	for key, obj := range s.objects {
		h := blake3.New()
		_, _ = h.Write(obj.data)

		entities = append(entities, engine.Entity{
			Key:   key,
			MTime: obj.mtime,
			Size:  int64(len(obj.data)),
			Hash:  hex.EncodeToString(h.Sum(nil)),
		})
	}

	for key, mtime := range s.folders {
		entities = append(entities, engine.Entity{
			Key:    key + "/",
			Folder: true,
			MTime:  mtime,
		})
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].Key < entities[j].Key })

	return entities, nil
}

func (s *MemStore) GetContent(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	obj, ok := s.objects[strings.TrimSuffix(key, "/")]
	if !ok {
		return nil, fmt.Errorf("%w: %s", syncerrors.ErrObjectNotFound, key)
	}

	return append([]byte(nil), obj.data...), nil
}

func (s *MemStore) PutContent(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[strings.TrimSuffix(key, "/")] = memObject{
		data:  append([]byte(nil), data...),
		mtime: s.now().UnixMilli(),
	}

	return nil
}

func (s *MemStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	bare := strings.TrimSuffix(key, "/")
	delete(s.objects, bare)
	delete(s.folders, bare)

	return nil
}

func (s *MemStore) CreateFolder(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.folders[strings.TrimSuffix(key, "/")] = s.now().UnixMilli()

	return nil
}
