package kvapp

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/exp/slices"
)

// ErrKeyNotFound is returned by Store.Get for keys that were never put
// or have been deleted.
var ErrKeyNotFound = errors.New("key not found")

// Stats describes one partition's store: size plus operation counters
// since the store was created.
type Stats struct {
	Keys    int    `json:"keys"`
	Bytes   int    `json:"bytes"`
	Gets    uint64 `json:"gets"`
	Puts    uint64 `json:"puts"`
	Deletes uint64 `json:"deletes"`
}

// Store is an in-memory key-value map scoped to one partition. All
// methods are safe for concurrent use, and values are copied on the way
// in and on the way out.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte

	gets    atomic.Uint64
	puts    atomic.Uint64
	deletes atomic.Uint64
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key, or ErrKeyNotFound.
func (s *Store) Get(key string) ([]byte, error) {
	s.gets.Add(1)

	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.data[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put stores a copy of value under key, replacing any previous value.
func (s *Store) Put(key string, value []byte) {
	s.puts.Add(1)

	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	s.data[key] = stored
	s.mu.Unlock()
}

// Delete forgets key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) {
	s.deletes.Add(1)

	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
}

// Keys returns every key in the store, sorted.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for key := range s.data {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Stats returns a snapshot of the store's size and operation counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	bytes := 0
	for _, value := range s.data {
		bytes += len(value)
	}
	keys := len(s.data)
	s.mu.RUnlock()

	return Stats{
		Keys:    keys,
		Bytes:   bytes,
		Gets:    s.gets.Load(),
		Puts:    s.puts.Load(),
		Deletes: s.deletes.Load(),
	}
}

// PartitionFor maps key onto one of partitions using FNV-1a. Every
// client and worker that agrees on the partition count agrees on the
// owner. Returns -1 when partitions is not positive.
func PartitionFor(key string, partitions int) int {
	if partitions <= 0 {
		return -1
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(partitions))
}

// App serves one partition's Store over HTTP. It implements
// http.Handler with paths relative to wherever it is mounted, which for
// partfleet workers is the app prefix.
type App struct {
	partition int
	store     *Store
	mux       *http.ServeMux
}

// New returns an App with a fresh Store for the given partition.
func New(partition int) *App {
	a := &App{
		partition: partition,
		store:     NewStore(),
		mux:       http.NewServeMux(),
	}
	a.mux.HandleFunc("/kv/", a.handleKey)
	a.mux.HandleFunc("/keys", a.handleKeys)
	a.mux.HandleFunc("/stats", a.handleStats)
	return a
}

// Store exposes the partition's store for in-process callers.
func (a *App) Store() *Store { return a.store }

// Partition reports which partition this App was built for.
func (a *App) Partition() int { return a.partition }

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

func (a *App) handleKey(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/kv/")
	if key == "" {
		http.Error(w, "missing key", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		value, err := a.store.Get(key)
		if err != nil {
			http.Error(w, "key not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(value)

	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
			return
		}
		a.store.Put(key, body)
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		a.store.Delete(key)
		w.WriteHeader(http.StatusNoContent)

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *App) handleKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(a.store.Keys())
}

func (a *App) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Partition int `json:"partition"`
		Stats
	}{a.partition, a.store.Stats()})
}
