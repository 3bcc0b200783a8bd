// Package miniostore binds internal/blobstore.Store to an S3-compatible
// object store via github.com/minio/minio-go/v7: same client field, same
// GetObject/PutObject/StatObject calls, same translateError funnel
// pattern turning SDK-specific errors into the small closed error set
// the rest of the core expects.
//
// MinIO/S3 stand in here for the cloud file-sync service; the revision
// tag is modeled with each object's ETag.
// Unlike Dropbox's native rev parameter, S3's ETag is not universally a
// true compare-and-swap precondition across every S3-compatible backend
// — this binding checks the current ETag with a HEAD request
// immediately before a conditional write, which narrows but does not
// eliminate the race. It is shipped as the one concrete, runnable
// binding demonstrating the Store interface; a production Dropbox
// binding would use Dropbox's real rev-gated upload API and would not
// have this caveat.
package miniostore

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"

	"github.com/anishathalye/git-remote-dropbox/internal/blobstore"
)

// Store implements blobstore.Store against one bucket/prefix.
type Store struct {
	client *minio.Client
	bucket string
	prefix string // repo root, e.g. "/foo/bar" -> keys "foo/bar/<path>"
}

// New returns a Store rooted at prefix within bucket.
func New(client *minio.Client, bucket, prefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: prefix}
}

func (s *Store) key(path string) string {
	if s.prefix == "" || s.prefix == "/" {
		return path
	}
	trimmed := s.prefix
	for len(trimmed) > 0 && trimmed[0] == '/' {
		trimmed = trimmed[1:]
	}
	return trimmed + "/" + path
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%w: %v", blobstore.ErrNotFound, err)
	case "PreconditionFailed":
		return fmt.Errorf("%w: %v", blobstore.ErrRevMismatch, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return fmt.Errorf("%w: %v", blobstore.ErrAuth, err)
	case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout":
		return fmt.Errorf("%w: %v", blobstore.ErrTransient, err)
	default:
		return err
	}
}

func (s *Store) Get(ctx context.Context, path string) ([]byte, blobstore.Rev, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(path), minio.GetObjectOptions{})
	if err != nil {
		return nil, "", translateError(err)
	}
	defer obj.Close() //nolint:errcheck

	stat, err := obj.Stat()
	if err != nil {
		return nil, "", translateError(err)
	}

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, "", translateError(err)
	}
	return data, blobstore.Rev(stat.ETag), nil
}

func (s *Store) List(ctx context.Context, prefix string) ([]blobstore.Entry, error) {
	var entries []blobstore.Entry
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    s.key(prefix),
		Recursive: true,
	}) {
		if obj.Err != nil {
			return nil, translateError(obj.Err)
		}
		entries = append(entries, blobstore.Entry{
			Path: stripPrefix(obj.Key, s.prefix),
			Rev:  blobstore.Rev(obj.ETag),
		})
	}
	return entries, nil
}

func stripPrefix(key, prefix string) string {
	trimmed := prefix
	for len(trimmed) > 0 && trimmed[0] == '/' {
		trimmed = trimmed[1:]
	}
	if trimmed == "" {
		return key
	}
	if len(key) > len(trimmed)+1 {
		return key[len(trimmed)+1:]
	}
	return key
}

func (s *Store) PutCreate(ctx context.Context, path string, data []byte) (blobstore.Rev, error) {
	if _, err := s.client.StatObject(ctx, s.bucket, s.key(path), minio.StatObjectOptions{}); err == nil {
		return "", fmt.Errorf("%w: %s", blobstore.ErrAlreadyExists, path)
	}
	info, err := s.client.PutObject(ctx, s.bucket, s.key(path), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return "", translateError(err)
	}
	return blobstore.Rev(info.ETag), nil
}

func (s *Store) PutUpdate(ctx context.Context, path string, data []byte, expected blobstore.Rev) (blobstore.Rev, error) {
	stat, err := s.client.StatObject(ctx, s.bucket, s.key(path), minio.StatObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", blobstore.ErrRevMismatch, translateError(err))
	}
	if blobstore.Rev(stat.ETag) != expected {
		return "", fmt.Errorf("%w: path %s", blobstore.ErrRevMismatch, path)
	}
	info, err := s.client.PutObject(ctx, s.bucket, s.key(path), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return "", translateError(err)
	}
	return blobstore.Rev(info.ETag), nil
}

func (s *Store) PutOverwrite(ctx context.Context, path string, data []byte) (blobstore.Rev, error) {
	info, err := s.client.PutObject(ctx, s.bucket, s.key(path), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return "", translateError(err)
	}
	return blobstore.Rev(info.ETag), nil
}

func (s *Store) Delete(ctx context.Context, path string, expected blobstore.Rev) error {
	stat, err := s.client.StatObject(ctx, s.bucket, s.key(path), minio.StatObjectOptions{})
	if err != nil {
		return translateError(err)
	}
	if blobstore.Rev(stat.ETag) != expected {
		return fmt.Errorf("%w: path %s", blobstore.ErrRevMismatch, path)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, s.key(path), minio.RemoveObjectOptions{}); err != nil {
		return translateError(err)
	}
	return nil
}

var _ blobstore.Store = (*Store)(nil)
