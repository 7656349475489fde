// Package memory is the in-process Backend driver: everything lives in Go
// maps guarded by a mutex, fronted by a golang/groupcache Group for
// certificate lookups. groupcache is used here purely for its single-node
// behavior -- request deduplication via its internal singleflight, so N
// concurrent GetCert(hash) calls for the same hash collapse into one map
// read -- not for its peer-to-peer replication, which this driver never
// enables (no groupcache.RegisterPeerPicker call is ever made, so the
// library falls back to its own NoPeers picker; see DESIGN.md). This
// matches spec section 5's concurrency model: the backend serializes its
// own mutations, and the core holds no state of its own.
package memory

import (
	"context"
	"encoding/hex"
	"strconv"
	"sync"

	"github.com/golang/groupcache"

	"github.com/pickyca/picky-ca/backend"
	"github.com/pickyca/picky-ca/pkierrors"
)

// Backend implements backend.Backend entirely in memory.
type Backend struct {
	mu sync.RWMutex

	// names maps a subject display string to the hashes stored under it,
	// most-recent first, per Find's ordering contract.
	names map[string][]string
	certs map[string][]byte
	keys  map[string][]byte
	skis  map[string]string // hex(ski) -> hash

	certGroup *groupcache.Group
}

// cacheBytes bounds the groupcache Group's LRU size; certificates are small
// (a few KB of DER), so this comfortably holds tens of thousands of entries
// without the in-memory map itself (the source of truth) growing unbounded.
const cacheBytes = 64 << 20

var groupSeq int
var groupSeqMu sync.Mutex

// New returns an empty in-memory Backend.
func New() *Backend {
	b := &Backend{
		names: make(map[string][]string),
		certs: make(map[string][]byte),
		keys:  make(map[string][]byte),
		skis:  make(map[string]string),
	}

	// groupcache panics if two groups share a name within a process, which
	// matters for tests that construct multiple Backend instances; give
	// each its own group name.
	groupSeqMu.Lock()
	groupSeq++
	name := "picky-ca-certs-" + strconv.Itoa(groupSeq)
	groupSeqMu.Unlock()

	b.certGroup = groupcache.NewGroup(name, cacheBytes, groupcache.GetterFunc(
		func(ctx context.Context, hash string, dest groupcache.Sink) error {
			b.mu.RLock()
			der, ok := b.certs[hash]
			b.mu.RUnlock()
			if !ok {
				return pkierrors.NotFound
			}
			return dest.SetBytes(der)
		}))
	return b
}

// Store implements backend.Backend.
func (b *Backend) Store(ctx context.Context, name string, certDER []byte, keyDER []byte, ski []byte) (string, error) {
	hash := backend.Multihash(certDER)
	skiHex := hex.EncodeToString(ski)

	b.mu.Lock()
	b.certs[hash] = certDER
	if keyDER != nil {
		b.keys[hash] = keyDER
	}
	b.skis[skiHex] = hash
	b.names[name] = append([]string{hash}, b.names[name]...)
	b.mu.Unlock()

	return hash, nil
}

// Find implements backend.Backend.
func (b *Backend) Find(ctx context.Context, name string) ([]backend.Record, error) {
	b.mu.RLock()
	hashes, ok := b.names[name]
	b.mu.RUnlock()
	if !ok || len(hashes) == 0 {
		return nil, pkierrors.NotFound
	}
	out := make([]backend.Record, len(hashes))
	for i, h := range hashes {
		out[i] = backend.Record{Name: name, Hash: h}
	}
	return out, nil
}

// GetCert implements backend.Backend, reading through the groupcache Group.
func (b *Backend) GetCert(ctx context.Context, hash string) ([]byte, error) {
	var sink groupcache.ByteView
	if err := b.certGroup.Get(ctx, hash, groupcache.ByteViewSink(&sink)); err != nil {
		if err == pkierrors.NotFound {
			return nil, pkierrors.NotFound
		}
		return nil, backend.ErrBackendUnavailable
	}
	return sink.ByteSlice(), nil
}

// GetKey implements backend.Backend.
func (b *Backend) GetKey(ctx context.Context, hash string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	k, ok := b.keys[hash]
	if !ok {
		return nil, pkierrors.NotFound
	}
	return k, nil
}

// GetHashFromKeyIdentifier implements backend.Backend.
func (b *Backend) GetHashFromKeyIdentifier(ctx context.Context, skiHex string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	hash, ok := b.skis[skiHex]
	if !ok {
		return "", pkierrors.NotFound
	}
	return hash, nil
}

// GetKeyIdentifierFromHash implements backend.Backend.
func (b *Backend) GetKeyIdentifierFromHash(ctx context.Context, hash string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ski, h := range b.skis {
		if h == hash {
			return ski, nil
		}
	}
	return "", pkierrors.NotFound
}

// Health implements backend.Backend; the in-memory driver is always healthy
// once constructed.
func (b *Backend) Health(ctx context.Context) error {
	return nil
}

