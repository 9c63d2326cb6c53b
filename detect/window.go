package detect

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

// maxWindowEntries bounds the records tracked per (rule, grouping key) so a
// noisy key cannot exhaust memory. Oldest entries are dropped first.
const maxWindowEntries = 1000

// windowShardCount stripes the per-key locks. Evaluation is serialized per
// grouping key but parallel across keys.
const windowShardCount = 64

// windowStore maintains the sliding windows for stateful rules: per
// (rule, grouping key), an ordered sequence of match timestamps. Entries
// older than the rule's window are evicted on every access - amortized
// eviction, no background sweeper.
type windowStore struct {
	shards [windowShardCount]windowShard
}

type windowShard struct {
	mu      sync.Mutex
	windows map[string][]time.Time
}

func newWindowStore() *windowStore {
	ws := &windowStore{}
	for i := range ws.shards {
		ws.shards[i].windows = make(map[string][]time.Time)
	}
	return ws
}

func (ws *windowStore) shard(key string) *windowShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &ws.shards[h.Sum32()%windowShardCount]
}

// Observe records a matching timestamp for the key and returns the number
// of entries remaining inside the window. Insertion keeps the sequence
// sorted so out-of-order collector delivery still evicts correctly.
func (ws *windowStore) Observe(key string, ts time.Time, window time.Duration) int {
	shard := ws.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entries := shard.windows[key]

	if len(entries) >= maxWindowEntries {
		entries = entries[len(entries)-maxWindowEntries+1:]
	}

	idx := sort.Search(len(entries), func(i int) bool {
		return entries[i].After(ts)
	})
	entries = append(entries, time.Time{})
	copy(entries[idx+1:], entries[idx:])
	entries[idx] = ts

	// Evict everything older than the window, measured from the newest
	// entry so replayed history evaluates the same way as live traffic.
	cutoff := entries[len(entries)-1].Add(-window)
	start := sort.Search(len(entries), func(i int) bool {
		return !entries[i].Before(cutoff)
	})
	entries = entries[start:]

	if len(entries) == 0 {
		delete(shard.windows, key)
		return 0
	}
	shard.windows[key] = entries
	return len(entries)
}

// Size returns the total number of tracked entries, for diagnostics.
func (ws *windowStore) Size() int {
	total := 0
	for i := range ws.shards {
		ws.shards[i].mu.Lock()
		for _, entries := range ws.shards[i].windows {
			total += len(entries)
		}
		ws.shards[i].mu.Unlock()
	}
	return total
}

// Reset clears all window state.
func (ws *windowStore) Reset() {
	for i := range ws.shards {
		ws.shards[i].mu.Lock()
		ws.shards[i].windows = make(map[string][]time.Time)
		ws.shards[i].mu.Unlock()
	}
}
