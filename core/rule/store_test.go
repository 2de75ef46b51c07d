package rule_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/proxykit/core/rule"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("get missing rule", func(t *testing.T) {
		t.Parallel()

		store := rule.NewMemoryStore()
		_, err := store.Get(ctx, "nope")
		assert.ErrorIs(t, err, rule.ErrRuleNotFound)
	})

	t.Run("put and get", func(t *testing.T) {
		t.Parallel()

		store := rule.NewMemoryStore()
		store.Put(rule.Rule{ID: "r1", Domain: "a.example.com", Target: "10.0.0.1:80"})

		got, err := store.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "a.example.com", got.Domain)
	})

	t.Run("get returns a copy", func(t *testing.T) {
		t.Parallel()

		store := rule.NewMemoryStore()
		store.Put(rule.Rule{ID: "r1", Domain: "a.example.com", Target: "10.0.0.1:80"})

		got, err := store.Get(ctx, "r1")
		require.NoError(t, err)
		got.Domain = "mutated.example.com"

		again, err := store.Get(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "a.example.com", again.Domain)
	})

	t.Run("list ordered by id", func(t *testing.T) {
		t.Parallel()

		store := rule.NewMemoryStore()
		store.Put(rule.Rule{ID: "r3", Target: "10.0.0.3:80"})
		store.Put(rule.Rule{ID: "r1", Target: "10.0.0.1:80"})
		store.Put(rule.Rule{ID: "r2", Target: "10.0.0.2:80"})

		rules, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, rules, 3)
		assert.Equal(t, "r1", rules[0].ID)
		assert.Equal(t, "r2", rules[1].ID)
		assert.Equal(t, "r3", rules[2].ID)
	})

	t.Run("delete", func(t *testing.T) {
		t.Parallel()

		store := rule.NewMemoryStore()
		store.Put(rule.Rule{ID: "r1", Target: "10.0.0.1:80"})
		store.Delete("r1")
		store.Delete("r1") // absent delete is a no-op

		_, err := store.Get(ctx, "r1")
		assert.ErrorIs(t, err, rule.ErrRuleNotFound)
	})
}
