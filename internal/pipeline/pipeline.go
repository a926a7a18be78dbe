package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/tessellate-io/bucketdb/internal/etag"
	"github.com/tessellate-io/bucketdb/internal/hooks"
	"github.com/tessellate-io/bucketdb/internal/index"
	"github.com/tessellate-io/bucketdb/pkg/datamodel"
	"go.uber.org/zap"
)

// ConcurrencyConflictError is returned when the caller's expected version
// token does not match the currently stored one. The caller must re-read and
// retry; nothing was mutated.
type ConcurrencyConflictError struct {
	Bucket   string
	Key      string
	Supplied string
	Current  string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("etag mismatch for %s/%s: supplied %q, current %q", e.Bucket, e.Key, e.Supplied, e.Current)
}

// Store is the collaborator surface the pipeline borrows from the backing
// engine. One transaction is leased per pipeline execution and released on
// every exit path.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	LoadBucket(ctx context.Context, name string) (*datamodel.Bucket, error)
	LockExistingRow(ctx context.Context, tx pgx.Tx, bucket *datamodel.Bucket, key string) (*datamodel.ExistingRow, error)
	InsertObject(ctx context.Context, tx pgx.Tx, bucket *datamodel.Bucket, key string, serialized []byte, etag string, projection datamodel.IndexProjection, modified time.Time) (int64, error)
	UpdateObject(ctx context.Context, tx pgx.Tx, bucket *datamodel.Bucket, key string, serialized []byte, etag string, projection datamodel.IndexProjection, modified time.Time) error
}

// Pipeline sequences one object write: load metadata, lock the prior row,
// run pre-hooks, check the precondition, project the index and persist,
// all inside one transaction.
type Pipeline struct {
	store Store
	hooks *hooks.Registry
}

func New(store Store, registry *hooks.Registry) *Pipeline {
	return &Pipeline{store: store, hooks: registry}
}

// execState carries the per-request pipeline state between steps.
type execState struct {
	req      *datamodel.WriteRequest
	tx       pgx.Tx
	bucket   *datamodel.Bucket
	existing *datamodel.ExistingRow
	// exists is fixed by the locking read and alone decides insert vs.
	// update for the rest of the pipeline.
	exists     bool
	serialized []byte
	etag       string
	projection datamodel.IndexProjection
	result     *datamodel.WriteResult
}

type step struct {
	name string
	run  func(ctx context.Context, s *execState) error
}

// PutObject executes the write pipeline for one request. On success the
// returned result carries the new version token. A non-nil result together
// with a non-nil error means the write committed but its post-chain failed.
func (p *Pipeline) PutObject(ctx context.Context, req *datamodel.WriteRequest) (*datamodel.WriteResult, error) {
	s := &execState{req: req}

	tx, err := p.store.Begin(ctx)
	if err != nil {
		observeWrite(outcomeFailed)
		return nil, err
	}
	s.tx = tx

	steps := []step{
		{"load bucket", p.loadBucket},
		{"lock existing row", p.lockExistingRow},
		{"run pre-chain", p.runPreChain},
		{"check precondition", p.checkPrecondition},
		{"project index", p.projectIndex},
		{"persist", p.persist},
	}

	for _, st := range steps {
		err = st.run(ctx, s)
		if err != nil {
			zap.S().Debugf("Write pipeline aborted at %q: %s (bucket: %s, key: %s, request: %s)",
				st.name, err, req.BucketName, req.Key, req.RequestID)
			errR := tx.Rollback(ctx)
			if errR != nil {
				zap.S().Errorf("Error rolling back transaction: %v (bucket: %s, key: %s)", errR, req.BucketName, req.Key)
			}
			observeWrite(outcomeOf(err))
			return nil, err
		}
	}

	err = tx.Commit(ctx)
	if err != nil {
		observeWrite(outcomeFailed)
		return nil, err
	}
	if s.result.Inserted {
		observeWrite(outcomeInserted)
	} else {
		observeWrite(outcomeUpdated)
	}

	// The post-chain runs strictly after the commit; its failure is reported
	// but cannot invalidate the already-persisted write.
	err = p.runPostChain(s)
	if err != nil {
		zap.S().Warnf("Post-chain failed after commit: %s (bucket: %s, key: %s)", err, req.BucketName, req.Key)
		return s.result, err
	}

	return s.result, nil
}

func (p *Pipeline) loadBucket(ctx context.Context, s *execState) error {
	bucket, err := p.store.LoadBucket(ctx, s.req.BucketName)
	if err != nil {
		return err
	}
	s.bucket = bucket
	return nil
}

func (p *Pipeline) lockExistingRow(ctx context.Context, s *execState) error {
	existing, err := p.store.LockExistingRow(ctx, s.tx, s.bucket, s.req.Key)
	if err != nil {
		return err
	}
	s.existing = existing
	s.exists = existing != nil
	return nil
}

func (p *Pipeline) runPreChain(_ context.Context, s *execState) error {
	chain := p.hooks.PreChain(s.bucket.Name)
	if len(chain) == 0 {
		return nil
	}
	hctx := &hooks.Context{
		Bucket:  s.bucket,
		Key:     s.req.Key,
		Value:   s.req.Value,
		Schema:  s.bucket.IndexSchema,
		Tx:      s.tx,
		Log:     zap.S(),
		Headers: s.req.Headers,
	}
	err := hooks.RunChain(chain, hctx)
	if err != nil {
		return err
	}
	// Hooks may have reshaped the document or rewritten the key; the
	// mutated state is what gets checked, projected and persisted.
	s.req.Key = hctx.Key
	s.req.Value = hctx.Value
	return nil
}

func (p *Pipeline) checkPrecondition(_ context.Context, s *execState) error {
	if s.req.ExpectedEtag == "" {
		return nil
	}
	current := ""
	if s.exists {
		current = s.existing.Etag
	}
	if s.req.ExpectedEtag != current {
		return &ConcurrencyConflictError{
			Bucket:   s.bucket.Name,
			Key:      s.req.Key,
			Supplied: s.req.ExpectedEtag,
			Current:  current,
		}
	}
	return nil
}

func (p *Pipeline) projectIndex(_ context.Context, s *execState) error {
	serialized, err := json.Marshal(s.req.Value)
	if err != nil {
		return err
	}
	projection, err := index.Project(s.bucket.IndexSchema, s.req.Value)
	if err != nil {
		return err
	}
	s.serialized = serialized
	s.projection = projection
	s.etag = etag.Compute(serialized)
	return nil
}

func (p *Pipeline) persist(ctx context.Context, s *execState) error {
	modified := time.Now().UTC()
	if s.exists {
		err := p.store.UpdateObject(ctx, s.tx, s.bucket, s.req.Key, s.serialized, s.etag, s.projection, modified)
		if err != nil {
			return err
		}
		s.result = &datamodel.WriteResult{
			Etag:       s.etag,
			Inserted:   false,
			InternalID: s.existing.InternalID,
			Modified:   modified,
		}
		return nil
	}

	id, err := p.store.InsertObject(ctx, s.tx, s.bucket, s.req.Key, s.serialized, s.etag, s.projection, modified)
	if err != nil {
		return err
	}
	s.result = &datamodel.WriteResult{
		Etag:       s.etag,
		Inserted:   true,
		InternalID: id,
		Modified:   modified,
	}
	return nil
}

func (p *Pipeline) runPostChain(s *execState) error {
	chain := p.hooks.PostChain(s.bucket.Name)
	if len(chain) == 0 {
		return nil
	}
	hctx := &hooks.Context{
		Bucket:  s.bucket,
		Key:     s.req.Key,
		Value:   s.req.Value,
		Schema:  s.bucket.IndexSchema,
		Log:     zap.S(),
		Headers: s.req.Headers,
	}
	err := hooks.RunChain(chain, hctx)
	if err != nil {
		var hce *hooks.HookChainError
		if errors.As(err, &hce) {
			hce.Committed = true
		}
		return err
	}
	return nil
}
