// Package s3 provides a remote state backend on S3-compatible object storage.
// The whole store is one JSON object; concurrent writers are arbitrated with
// conditional PUTs on the object's ETag.
package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"github.com/cloudkiln/kiln/internal/resource"
	"github.com/cloudkiln/kiln/internal/rollout"
	"github.com/cloudkiln/kiln/internal/state"
)

// casAttempts bounds the number of read-modify-write retries when another
// writer wins the conditional PUT.
const casAttempts = 5

// Options configures the remote backend.
type Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	Key       string
	AccessKey string
	SecretKey string
}

// document matches the file backend's layout so backends are interchangeable.
type document struct {
	Lock      *state.LockInfo               `json:"lock,omitempty"`
	Resources map[string]*resource.Resource `json:"resources"`
	Revisions map[int]*rollout.Revision     `json:"revisions"`
}

// Store is an S3-backed implementation of state.Store.
type Store struct {
	client *s3.Client
	bucket string
	key    string
}

// New creates a remote store for the given bucket/key.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" || opts.Key == "" {
		return nil, fmt.Errorf("s3 state backend requires bucket and key")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
		awsconfig.WithRegion(opts.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return &Store{client: client, bucket: opts.Bucket, key: opts.Key}, nil
}

// load fetches the document and the ETag to condition the next write on.
// A missing object yields an empty document and an empty ETag.
func (s *Store) load(ctx context.Context) (*document, string, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return emptyDocument(), "", nil
		}
		return nil, "", fmt.Errorf("get state object %s/%s: %w", s.bucket, s.key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read state object body: %w", err)
	}
	doc := emptyDocument()
	if len(data) > 0 {
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, "", fmt.Errorf("decode state object: %w", err)
		}
	}
	if doc.Resources == nil {
		doc.Resources = make(map[string]*resource.Resource)
	}
	if doc.Revisions == nil {
		doc.Revisions = make(map[int]*rollout.Revision)
	}
	return doc, aws.ToString(out.ETag), nil
}

// save writes the document conditionally: If-Match when replacing a known
// version, If-None-Match when creating. A precondition failure means another
// writer won the race.
func (s *Store) save(ctx context.Context, doc *document, etag string) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if etag == "" {
		input.IfNoneMatch = aws.String("*")
	} else {
		input.IfMatch = aws.String(etag)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("put state object %s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

// update runs one compare-and-swap cycle, retrying when a concurrent writer
// invalidates the ETag. Errors from fn are returned as-is so sentinel errors
// like ErrLockConflict survive.
func (s *Store) update(ctx context.Context, fn func(doc *document) error) error {
	var lastErr error
	for attempt := 0; attempt < casAttempts; attempt++ {
		doc, etag, err := s.load(ctx)
		if err != nil {
			return err
		}
		if err := fn(doc); err != nil {
			return err
		}
		err = s.save(ctx, doc, etag)
		if err == nil {
			return nil
		}
		if !isPreconditionFailed(err) {
			return err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}
	return fmt.Errorf("state object contended after %d attempts: %w", casAttempts, lastErr)
}

func emptyDocument() *document {
	return &document{
		Resources: make(map[string]*resource.Resource),
		Revisions: make(map[int]*rollout.Revision),
	}
}

func isNoSuchKey(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "NoSuchKey" || code == "NotFound" || code == "404"
	}
	return false
}

func isPreconditionFailed(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "PreconditionFailed" || code == "412"
	}
	return false
}

// AcquireLock implements state.Store.
func (s *Store) AcquireLock(ctx context.Context, holderID string, ttl time.Duration) error {
	return s.update(ctx, func(doc *document) error {
		if doc.Lock != nil {
			return state.ErrLockConflict
		}
		doc.Lock = &state.LockInfo{HolderID: holderID, AcquiredAt: time.Now().UTC(), TTL: ttl}
		return nil
	})
}

// ReleaseLock implements state.Store.
func (s *Store) ReleaseLock(ctx context.Context, holderID string) error {
	return s.update(ctx, func(doc *document) error {
		if doc.Lock == nil || doc.Lock.HolderID != holderID {
			return state.ErrNotHolder
		}
		doc.Lock = nil
		return nil
	})
}

// ForceUnlock implements state.Store.
func (s *Store) ForceUnlock(ctx context.Context) (*state.LockInfo, error) {
	var cleared *state.LockInfo
	err := s.update(ctx, func(doc *document) error {
		if doc.Lock == nil {
			return state.ErrNotFound
		}
		cp := *doc.Lock
		cleared = &cp
		doc.Lock = nil
		return nil
	})
	return cleared, err
}

// Lock implements state.Store.
func (s *Store) Lock(ctx context.Context) (*state.LockInfo, error) {
	doc, _, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if doc.Lock == nil {
		return nil, state.ErrNotFound
	}
	cp := *doc.Lock
	return &cp, nil
}

// Get implements state.Store.
func (s *Store) Get(ctx context.Context, id string) (*resource.Resource, error) {
	doc, _, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	r, ok := doc.Resources[id]
	if !ok {
		return nil, state.ErrNotFound
	}
	return r.Clone(), nil
}

// Put implements state.Store.
func (s *Store) Put(ctx context.Context, r *resource.Resource) error {
	return s.update(ctx, func(doc *document) error {
		doc.Resources[r.ID] = r.Clone()
		return nil
	})
}

// Delete implements state.Store.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.update(ctx, func(doc *document) error {
		if _, ok := doc.Resources[id]; !ok {
			return state.ErrNotFound
		}
		delete(doc.Resources, id)
		return nil
	})
}

// List implements state.Store.
func (s *Store) List(ctx context.Context) ([]*resource.Resource, error) {
	doc, _, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*resource.Resource, 0, len(doc.Resources))
	for _, r := range doc.Resources {
		out = append(out, r.Clone())
	}
	resource.SortByID(out)
	return out, nil
}

// PutRevision implements state.Store.
func (s *Store) PutRevision(ctx context.Context, rev *rollout.Revision) error {
	return s.update(ctx, func(doc *document) error {
		cp := *rev
		doc.Revisions[rev.Number] = &cp
		return nil
	})
}

// Revision implements state.Store.
func (s *Store) Revision(ctx context.Context, number int) (*rollout.Revision, error) {
	doc, _, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	rev, ok := doc.Revisions[number]
	if !ok {
		return nil, state.ErrNotFound
	}
	cp := *rev
	return &cp, nil
}

// ListRevisions implements state.Store.
func (s *Store) ListRevisions(ctx context.Context) ([]*rollout.Revision, error) {
	doc, _, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*rollout.Revision, 0, len(doc.Revisions))
	for _, rev := range doc.Revisions {
		cp := *rev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// DeleteRevision implements state.Store.
func (s *Store) DeleteRevision(ctx context.Context, number int) error {
	return s.update(ctx, func(doc *document) error {
		if _, ok := doc.Revisions[number]; !ok {
			return state.ErrNotFound
		}
		delete(doc.Revisions, number)
		return nil
	})
}

// Close implements state.Store.
func (s *Store) Close() error { return nil }
