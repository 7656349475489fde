// Package file is the filesystem Backend driver: certificates, keys, and
// the name/key-identifier indices are stored as flat files under a root
// directory, content-addressed by their multihash, with names and key
// identifiers kept as small index files mapping to that hash. When
// configured with an S3 bucket, every write is mirrored to S3 after the
// local write succeeds, giving an optional off-box copy without making S3
// the source of truth -- grounded on this spec's own file-backend design
// (spec section 4.10) plus the aws-sdk-go-v2 S3 client already present in
// this module's dependency set.
package file

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/pickyca/picky-ca/backend"
	"github.com/pickyca/picky-ca/pkierrors"
)

// Backend implements backend.Backend over a directory tree:
//
//	<root>/certs/<hash>
//	<root>/keys/<hash>
//	<root>/names/<hex-encoded-name>  -- newline-separated list of hashes, most recent first
//	<root>/skis/<ski-hex>            -- the hash that ski currently points to
type Backend struct {
	root string
	mu   sync.Mutex

	s3Client *s3.Client
	s3Bucket string
}

// Option configures optional Backend behavior.
type Option func(*Backend)

// WithS3Mirror enables mirroring every Store to the given S3 bucket,
// keyed the same way the local filesystem is (certs/<hash>, keys/<hash>).
// A mirror failure does not fail Store: the local write is authoritative,
// and the mirror is best-effort; PutObject errors are discarded and Store
// does not report them.
func WithS3Mirror(client *s3.Client, bucket string) Option {
	return func(b *Backend) {
		b.s3Client = client
		b.s3Bucket = bucket
	}
}

// New returns a Backend rooted at dir, creating its subdirectories if
// necessary.
func New(dir string, opts ...Option) (*Backend, error) {
	b := &Backend{root: dir}
	for _, opt := range opts {
		opt(b)
	}
	for _, sub := range []string{"certs", "keys", "names", "skis"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, backend.ErrBackendUnavailable
		}
	}
	return b, nil
}

func (b *Backend) nameIndexPath(name string) string {
	return filepath.Join(b.root, "names", hex.EncodeToString([]byte(name)))
}

// Store implements backend.Backend.
func (b *Backend) Store(ctx context.Context, name string, certDER []byte, keyDER []byte, ski []byte) (string, error) {
	hash := backend.Multihash(certDER)
	skiHex := hex.EncodeToString(ski)

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.WriteFile(filepath.Join(b.root, "certs", hash), certDER, 0o640); err != nil {
		return "", pkierrors.WrapStorage(err)
	}
	if keyDER != nil {
		if err := os.WriteFile(filepath.Join(b.root, "keys", hash), keyDER, 0o600); err != nil {
			return "", pkierrors.WrapStorage(err)
		}
	}
	if err := os.WriteFile(filepath.Join(b.root, "skis", skiHex), []byte(hash), 0o640); err != nil {
		return "", pkierrors.WrapStorage(err)
	}

	existing, _ := os.ReadFile(b.nameIndexPath(name))
	updated := append([]byte(hash+"\n"), existing...)
	if err := os.WriteFile(b.nameIndexPath(name), updated, 0o640); err != nil {
		return "", pkierrors.WrapStorage(err)
	}

	if b.s3Client != nil {
		certInput := s3PutInput(b.s3Bucket, "certs/"+hash, certDER)
		_, _ = b.s3Client.PutObject(ctx, &certInput)
		if keyDER != nil {
			keyInput := s3PutInput(b.s3Bucket, "keys/"+hash, keyDER)
			_, _ = b.s3Client.PutObject(ctx, &keyInput)
		}
	}

	return hash, nil
}

func s3PutInput(bucket, key string, body []byte) s3.PutObjectInput {
	return s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(body),
	}
}

// Find implements backend.Backend.
func (b *Backend) Find(ctx context.Context, name string) ([]backend.Record, error) {
	data, err := os.ReadFile(b.nameIndexPath(name))
	if err != nil {
		return nil, pkierrors.NotFound
	}
	var out []backend.Record
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if line == "" {
			continue
		}
		out = append(out, backend.Record{Name: name, Hash: line})
	}
	if len(out) == 0 {
		return nil, pkierrors.NotFound
	}
	return out, nil
}

// GetCert implements backend.Backend.
func (b *Backend) GetCert(ctx context.Context, hash string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(b.root, "certs", hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, pkierrors.NotFound
		}
		return nil, pkierrors.WrapStorage(err)
	}
	return data, nil
}

// GetKey implements backend.Backend.
func (b *Backend) GetKey(ctx context.Context, hash string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(b.root, "keys", hash))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, pkierrors.NotFound
		}
		return nil, pkierrors.WrapStorage(err)
	}
	return data, nil
}

// GetHashFromKeyIdentifier implements backend.Backend.
func (b *Backend) GetHashFromKeyIdentifier(ctx context.Context, skiHex string) (string, error) {
	data, err := os.ReadFile(filepath.Join(b.root, "skis", skiHex))
	if err != nil {
		return "", pkierrors.NotFound
	}
	return string(data), nil
}

// GetKeyIdentifierFromHash implements backend.Backend by scanning the skis
// index directory. This is the one operation the flat-file layout doesn't
// serve directly (there is no hash->ski index file); nothing in the
// request-serving path calls it, so a directory scan is an acceptable cost.
func (b *Backend) GetKeyIdentifierFromHash(ctx context.Context, hash string) (string, error) {
	entries, err := os.ReadDir(filepath.Join(b.root, "skis"))
	if err != nil {
		return "", pkierrors.WrapStorage(err)
	}
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(b.root, "skis", e.Name()))
		if err != nil {
			continue
		}
		if string(data) == hash {
			return e.Name(), nil
		}
	}
	return "", pkierrors.NotFound
}

// Health implements backend.Backend by checking that the root directory is
// still reachable.
func (b *Backend) Health(ctx context.Context) error {
	if _, err := os.Stat(b.root); err != nil {
		return backend.ErrBackendUnavailable
	}
	return nil
}

