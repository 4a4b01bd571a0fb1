// Package image implements the content-addressed cache of RISC-V
// program images: on-disk storage keyed by image id, an in-memory
// index, and the download-and-verify path for images referenced
// before they have been locally seen.
package image

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/bonsol-network/prover-node/pkg/protocol"
)

const pageSize = 4096

// Image is a loaded, verified program image. Bytes may be nil for an
// entry whose in-memory payload was evicted by TTL while the on-disk
// file is retained; callers that need the content reload it via Path.
type Image struct {
	ID         protocol.ImageID
	Bytes      []byte
	Path       string
	Pages      uint64
	InputTypes []protocol.InputType

	loadedAt time.Time
	lastUsed time.Time
}

// Cache is the node's single content-addressed image store.
type Cache struct {
	dir           string
	maxEntries    int
	maxSizeBytes  int64
	inMemoryTTL   time.Duration
	downloadHTTP  *http.Client

	mu          sync.RWMutex
	index       map[protocol.ImageID]*Image
	deployments map[protocol.ImageID]*protocol.DeployV1
}

// Config collects the size and lifetime knobs pkg/config exposes.
type Config struct {
	Dir              string
	MaxEntries       int
	MaxImageSize     int64
	InMemoryTTL      time.Duration
	DownloadTimeout  time.Duration
}

// New constructs a cache rooted at cfg.Dir. The directory must already
// exist; pkg/config.Validate creates it at startup.
func New(cfg Config) *Cache {
	return &Cache{
		dir:          cfg.Dir,
		maxEntries:   cfg.MaxEntries,
		maxSizeBytes: cfg.MaxImageSize,
		inMemoryTTL:  cfg.InMemoryTTL,
		downloadHTTP: &http.Client{Timeout: cfg.DownloadTimeout},
		index:        make(map[protocol.ImageID]*Image),
		deployments:  make(map[protocol.ImageID]*protocol.DeployV1),
	}
}

// RegisterDeployment records a DeployV1 observed on chain so that a
// later Ensure for its image id knows where to fetch from. This is
// the cache's only source of deployment metadata; the core never
// queries the settlement program for a deployment account directly,
// matching spec.md's "Deployment ... the core reads these ... it
// never writes them."
func (c *Cache) RegisterDeployment(d *protocol.DeployV1) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deployments[d.ImageID] = d
}

// Has reports whether image_id is currently loaded in memory.
func (c *Cache) Has(id protocol.ImageID) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	img, ok := c.index[id]
	return ok && img.Bytes != nil
}

// Ensure returns a handle to a loaded image, fetching and verifying it
// first if necessary. spec.md section 4.3.
func (c *Cache) Ensure(ctx context.Context, id protocol.ImageID) (*Image, error) {
	c.mu.RLock()
	if img, ok := c.index[id]; ok && img.Bytes != nil {
		img.lastUsed = time.Now()
		c.mu.RUnlock()
		return img, nil
	}
	c.mu.RUnlock()

	if onDisk, err := c.loadFromDisk(id); err == nil {
		c.insert(onDisk)
		return onDisk, nil
	}

	c.mu.RLock()
	dep, ok := c.deployments[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeploymentNotFound, id)
	}

	img, err := c.download(ctx, dep)
	if err != nil {
		return nil, err
	}
	c.insert(img)
	return img, nil
}

func (c *Cache) path(id protocol.ImageID) string {
	return filepath.Join(c.dir, hex.EncodeToString(id[:]))
}

func (c *Cache) loadFromDisk(id protocol.ImageID) (*Image, error) {
	p := c.path(id)
	bytes, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	if sum := crypto.Keccak256(bytes); !hashEquals(sum, id) {
		return nil, fmt.Errorf("%w: on-disk file %s", ErrHashMismatch, p)
	}

	c.mu.RLock()
	dep := c.deployments[id]
	c.mu.RUnlock()
	var inputTypes []protocol.InputType
	if dep != nil {
		inputTypes = dep.InputTypes
	}

	return &Image{
		ID:         id,
		Bytes:      bytes,
		Path:       p,
		Pages:      pageCount(len(bytes)),
		InputTypes: inputTypes,
		loadedAt:   time.Now(),
		lastUsed:   time.Now(),
	}, nil
}

// download streams dep.URL to a temp file under c.dir, enforcing the
// size cap while writing, then verifies the hash before the final
// rename into place. Concurrent callers for the same image id each
// download into their own temp file and rename it over the same final
// path; there is no coordination between them. A caller that arrives
// after the file is installed loads and re-verifies it from disk in
// Ensure instead of downloading.
func (c *Cache) download(ctx context.Context, dep *protocol.DeployV1) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dep.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrDownloadFailed, err)
	}
	resp, err := c.downloadHTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: status %s", ErrDownloadFailed, resp.Status)
	}

	tmp, err := os.CreateTemp(c.dir, ".download-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	limit := c.maxSizeBytes
	if limit <= 0 {
		limit = int64(dep.Size)
	}
	n, err := io.Copy(tmp, io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if n > limit {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, n, limit)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek temp file: %w", err)
	}
	bytes, err := io.ReadAll(tmp)
	if err != nil {
		return nil, fmt.Errorf("read temp file: %w", err)
	}
	if sum := crypto.Keccak256(bytes); !hashEquals(sum, dep.ImageID) {
		return nil, fmt.Errorf("%w: image %s", ErrHashMismatch, dep.ImageID)
	}

	finalPath := c.path(dep.ImageID)
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return nil, fmt.Errorf("install downloaded image: %w", err)
	}

	return &Image{
		ID:         dep.ImageID,
		Bytes:      bytes,
		Path:       finalPath,
		Pages:      pageCount(len(bytes)),
		InputTypes: dep.InputTypes,
		loadedAt:   time.Now(),
		lastUsed:   time.Now(),
	}, nil
}

func (c *Cache) insert(img *Image) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.index[img.ID] = img
	c.enforceEntryLimitLocked()
}

// enforceEntryLimitLocked evicts the least-recently-used in-memory
// payloads once the index exceeds risc0_image_folder_limit, resolving
// the eviction-policy open question in spec.md section 9 with an
// explicit LRU-by-last_used policy. On-disk files are left in place;
// only the in-memory Bytes slice is dropped.
func (c *Cache) enforceEntryLimitLocked() {
	if c.maxEntries <= 0 {
		return
	}
	loaded := make([]*Image, 0, len(c.index))
	for _, img := range c.index {
		if img.Bytes != nil {
			loaded = append(loaded, img)
		}
	}
	for len(loaded) > c.maxEntries {
		oldestIdx := 0
		for i, img := range loaded {
			if img.lastUsed.Before(loaded[oldestIdx].lastUsed) {
				oldestIdx = i
			}
		}
		loaded[oldestIdx].Bytes = nil
		loaded = append(loaded[:oldestIdx], loaded[oldestIdx+1:]...)
	}
}

// EvictIdle drops in-memory payloads for images unused for longer than
// the configured TTL, per spec.md section 9's interpretation of
// image_compression_ttl_hours: "evict decompressed program data, not
// the on-disk file, after inactivity."
func (c *Cache) EvictIdle(now time.Time) {
	if c.inMemoryTTL <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, img := range c.index {
		if img.Bytes != nil && now.Sub(img.lastUsed) > c.inMemoryTTL {
			img.Bytes = nil
		}
	}
}

func pageCount(n int) uint64 {
	return uint64((n + pageSize - 1) / pageSize)
}

func hashEquals(sum []byte, id protocol.ImageID) bool {
	if len(sum) != len(id) {
		return false
	}
	for i := range sum {
		if sum[i] != id[i] {
			return false
		}
	}
	return true
}
