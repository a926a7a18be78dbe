package hooks

import (
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/tessellate-io/bucketdb/pkg/datamodel"
	"go.uber.org/zap"
)

// Context is the mutable state shared by every hook in a chain. Hooks may
// rewrite Key and Value in place; the pipeline picks the mutations up after
// the chain returns.
type Context struct {
	Bucket  *datamodel.Bucket
	Key     string
	Value   map[string]any
	Schema  datamodel.IndexSchema
	Tx      pgx.Tx
	Log     *zap.SugaredLogger
	Headers map[string]string
}

// Hook is a single pre- or post-write extension point. Returning a non-nil
// error aborts the rest of the chain.
type Hook func(*Context) error

// HookChainError reports which hook rejected the operation. Committed tells
// the caller whether the write had already been persisted when the hook ran,
// i.e. whether the failure invalidates the write or only its side effects.
type HookChainError struct {
	Position  int
	Committed bool
	Err       error
}

func (e *HookChainError) Error() string {
	return fmt.Sprintf("hook %d failed: %s", e.Position, e.Err)
}

func (e *HookChainError) Unwrap() error {
	return e.Err
}

// RunChain executes the chain strictly in declared order against hctx,
// stopping at the first hook that errors. An empty chain is a no-op.
func RunChain(chain []Hook, hctx *Context) error {
	for i, hook := range chain {
		if err := hook(hctx); err != nil {
			return &HookChainError{Position: i, Err: err}
		}
	}
	return nil
}

// Registry holds the pre- and post-write chains registered per bucket. Hooks
// are process-local code, not catalog rows, so they are registered at startup
// rather than loaded with the bucket metadata.
type Registry struct {
	mu   sync.RWMutex
	pre  map[string][]Hook
	post map[string][]Hook
}

func NewRegistry() *Registry {
	return &Registry{
		pre:  make(map[string][]Hook),
		post: make(map[string][]Hook),
	}
}

// RegisterPre appends a hook to the pre-write chain of the named bucket.
func (r *Registry) RegisterPre(bucket string, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pre[bucket] = append(r.pre[bucket], h)
}

// RegisterPost appends a hook to the post-write chain of the named bucket.
func (r *Registry) RegisterPost(bucket string, h Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.post[bucket] = append(r.post[bucket], h)
}

// PreChain returns the pre-write chain of the named bucket, in registration
// order.
func (r *Registry) PreChain(bucket string) []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pre[bucket]
}

// PostChain returns the post-write chain of the named bucket, in registration
// order.
func (r *Registry) PostChain(bucket string) []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.post[bucket]
}
