package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chatabubble/session-vault/pkg/metrics"
)

// ChunkedStore splits values exceeding the chunk size into numbered parts
// plus a count marker, and reassembles them on read. Chunks are written
// before the marker so a partial write can never produce a truncated but
// readable reassembly.
type ChunkedStore struct {
	kv        KV
	chunkSize int
}

// NewChunkedStore wraps a KV primitive. chunkSize must stay under the
// primitive's per-item cap.
func NewChunkedStore(kv KV, chunkSize int) *ChunkedStore {
	return &ChunkedStore{kv: kv, chunkSize: chunkSize}
}

func chunkKey(key string, i int) string {
	return fmt.Sprintf("%s_chunk_%d", key, i)
}

func markerKey(key string) string {
	return key + "_chunks"
}

// Save stores value under key, chunking when it exceeds the chunk size.
func (c *ChunkedStore) Save(ctx context.Context, key, value string) error {
	prevChunks, err := c.chunkCount(ctx, key)
	if err != nil {
		return err
	}

	if len(value) <= c.chunkSize {
		if err := c.kv.Set(ctx, key, value); err != nil {
			metrics.StorageOps.WithLabelValues("save", "error").Inc()
			return err
		}
		if prevChunks > 0 {
			// Value shrank below the threshold: retire the chunked copy.
			if err := c.kv.Delete(ctx, markerKey(key)); err != nil {
				return err
			}
			c.deleteChunks(ctx, key, 0, prevChunks)
		}
		metrics.StorageOps.WithLabelValues("save", "ok").Inc()
		return nil
	}

	count := (len(value) + c.chunkSize - 1) / c.chunkSize
	for i := 0; i < count; i++ {
		start := i * c.chunkSize
		end := start + c.chunkSize
		if end > len(value) {
			end = len(value)
		}
		if err := c.kv.Set(ctx, chunkKey(key, i), value[start:end]); err != nil {
			metrics.StorageOps.WithLabelValues("save", "error").Inc()
			return fmt.Errorf("failed to write chunk %d of %q: %w", i, key, err)
		}
	}
	if err := c.kv.Set(ctx, markerKey(key), strconv.Itoa(count)); err != nil {
		metrics.StorageOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("failed to write chunk marker for %q: %w", key, err)
	}
	// Direct copy and orphaned chunks from a previous larger write are now
	// unreachable; clean them up.
	if err := c.kv.Delete(ctx, key); err != nil {
		return err
	}
	if prevChunks > count {
		c.deleteChunks(ctx, key, count, prevChunks)
	}
	metrics.ChunkedWrites.Inc()
	metrics.StorageOps.WithLabelValues("save", "ok").Inc()
	return nil
}

// Load returns the value stored under key, reassembling chunks when a count
// marker exists. Absence is ErrNotFound.
func (c *ChunkedStore) Load(ctx context.Context, key string) (string, error) {
	count, err := c.chunkCount(ctx, key)
	if err != nil {
		return "", err
	}
	if count == 0 {
		value, err := c.kv.Get(ctx, key)
		if err != nil && !errors.Is(err, ErrNotFound) {
			metrics.StorageOps.WithLabelValues("load", "error").Inc()
		}
		return value, err
	}

	parts := make([]byte, 0, count*c.chunkSize)
	for i := 0; i < count; i++ {
		chunk, err := c.kv.Get(ctx, chunkKey(key, i))
		if err != nil {
			metrics.StorageOps.WithLabelValues("load", "error").Inc()
			return "", fmt.Errorf("failed to read chunk %d of %q: %w", i, key, err)
		}
		parts = append(parts, chunk...)
	}
	metrics.StorageOps.WithLabelValues("load", "ok").Inc()
	return string(parts), nil
}

// Delete removes key, its chunk marker, and all chunks.
func (c *ChunkedStore) Delete(ctx context.Context, key string) error {
	count, err := c.chunkCount(ctx, key)
	if err != nil {
		return err
	}
	if err := c.kv.Delete(ctx, markerKey(key)); err != nil {
		return err
	}
	c.deleteChunks(ctx, key, 0, count)
	return c.kv.Delete(ctx, key)
}

// Keys lists logical keys by prefix. Chunked values have no direct entry, so
// their count markers stand in for them; individual chunk entries are hidden.
func (c *ChunkedStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	all, err := c.kv.Keys(ctx, prefix)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var keys []string
	for _, k := range all {
		if isChunkEntry(k) {
			continue
		}
		logical := strings.TrimSuffix(k, "_chunks")
		if !seen[logical] {
			seen[logical] = true
			keys = append(keys, logical)
		}
	}
	return keys, nil
}

func (c *ChunkedStore) chunkCount(ctx context.Context, key string) (int, error) {
	marker, err := c.kv.Get(ctx, markerKey(key))
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	count, err := strconv.Atoi(marker)
	if err != nil || count < 0 {
		return 0, fmt.Errorf("corrupt chunk marker for %q: %q", key, marker)
	}
	return count, nil
}

// deleteChunks removes chunk entries in [from, to). Cleanup failures are
// deliberately ignored; orphaned chunks are unreachable and harmless.
func (c *ChunkedStore) deleteChunks(ctx context.Context, key string, from, to int) {
	for i := from; i < to; i++ {
		_ = c.kv.Delete(ctx, chunkKey(key, i))
	}
}

// isChunkEntry reports whether key names an individual chunk ("..._chunk_N").
func isChunkEntry(key string) bool {
	i := len(key) - 1
	for ; i >= 0; i-- {
		ch := key[i]
		if ch < '0' || ch > '9' {
			break
		}
	}
	if i == len(key)-1 {
		return false // no trailing digits
	}
	return i >= 6 && key[i-6:i+1] == "_chunk_"
}
