package hooks

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tessellate-io/bucketdb/pkg/datamodel"
)

func TestRunChainEmptyIsNoOp(t *testing.T) {
	hctx := &Context{Key: "u1"}
	assert.NoError(t, RunChain(nil, hctx))
	assert.Equal(t, "u1", hctx.Key)
}

func TestRunChainExecutesInOrderAndPropagatesMutations(t *testing.T) {
	var order []string
	chain := []Hook{
		func(hctx *Context) error {
			order = append(order, "first")
			hctx.Value["normalized"] = true
			return nil
		},
		func(hctx *Context) error {
			order = append(order, "second")
			hctx.Key = "rewritten"
			return nil
		},
	}

	hctx := &Context{Key: "u1", Value: map[string]any{}}
	assert.NoError(t, RunChain(chain, hctx))
	assert.Equal(t, []string{"first", "second"}, order)
	assert.Equal(t, "rewritten", hctx.Key)
	assert.Equal(t, true, hctx.Value["normalized"])
}

func TestRunChainShortCircuitsOnError(t *testing.T) {
	rejected := errors.New("document rejected")
	secondRan := false
	chain := []Hook{
		func(*Context) error { return rejected },
		func(*Context) error {
			secondRan = true
			return nil
		},
	}

	err := RunChain(chain, &Context{})
	assert.False(t, secondRan)

	var hookErr *HookChainError
	assert.ErrorAs(t, err, &hookErr)
	assert.Equal(t, 0, hookErr.Position)
	assert.False(t, hookErr.Committed)
	assert.ErrorIs(t, err, rejected)
}

func TestRegistryKeepsChainsPerBucket(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterPre("users", func(*Context) error { return nil })
	registry.RegisterPre("users", func(*Context) error { return nil })
	registry.RegisterPost("users", func(*Context) error { return nil })

	assert.Len(t, registry.PreChain("users"), 2)
	assert.Len(t, registry.PostChain("users"), 1)
	assert.Empty(t, registry.PreChain("orders"))

	// chains see the bucket metadata they were registered for
	hctx := &Context{Bucket: &datamodel.Bucket{Name: "users"}}
	assert.NoError(t, RunChain(registry.PreChain("users"), hctx))
}
