package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relogix/scand/internal/value"
)

func TestDeclareAndGet(t *testing.T) {
	b := New()
	require.NoError(t, b.Declare("motor_on", value.KindBool, value.Bool(false)))
	require.NoError(t, b.Declare("speed", value.KindFloat, value.Float(0)))

	v, ok := b.Get("motor_on")
	require.True(t, ok)
	assert.Equal(t, value.Bool(false), v)

	_, ok = b.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, 2, b.Len())
}

func TestDeclareRejectsBadNames(t *testing.T) {
	b := New()
	assert.ErrorIs(t, b.Declare("9lives", value.KindBool, value.Bool(false)), ErrInvalidName)
	assert.ErrorIs(t, b.Declare("has space", value.KindBool, value.Bool(false)), ErrInvalidName)

	long := ""
	for i := 0; i < 65; i++ {
		long += "a"
	}
	assert.ErrorIs(t, b.Declare(long, value.KindBool, value.Bool(false)), ErrInvalidName)

	require.NoError(t, b.Declare("ok_name", value.KindBool, value.Bool(false)))
	assert.ErrorIs(t, b.Declare("ok_name", value.KindBool, value.Bool(false)), ErrAlreadyDeclared)
}

func TestDeclareKindMismatch(t *testing.T) {
	b := New()
	err := b.Declare("x", value.KindInt, value.Float(1))
	assert.ErrorIs(t, err, value.ErrTypeMismatch)
}

func TestSetTypeSafety(t *testing.T) {
	b := New()
	require.NoError(t, b.Declare("level", value.KindInt, value.Int(0)))

	assert.ErrorIs(t, b.Set("nope", value.Int(1)), ErrSignalNotFound)
	assert.ErrorIs(t, b.Set("level", value.Bool(true)), value.ErrTypeMismatch)

	require.NoError(t, b.Set("level", value.Int(5)))
	sig, ok := b.Lookup("level")
	require.True(t, ok)
	assert.Equal(t, value.Int(5), sig.Value)
	assert.Equal(t, value.KindInt, sig.Kind)
	assert.Equal(t, uint64(1), sig.Revision)

	// Failed writes must not bump the revision.
	_ = b.Set("level", value.Float(1))
	sig, _ = b.Lookup("level")
	assert.Equal(t, uint64(1), sig.Revision)
}

func TestRevisionMonotonic(t *testing.T) {
	b := New()
	require.NoError(t, b.Declare("n", value.KindInt, value.Int(0)))
	for i := 1; i <= 10; i++ {
		require.NoError(t, b.Set("n", value.Int(int64(i))))
		sig, _ := b.Lookup("n")
		assert.Equal(t, uint64(i), sig.Revision)
	}
}

func TestRemove(t *testing.T) {
	b := New()
	require.NoError(t, b.Declare("tmp", value.KindBool, value.Bool(false)))
	require.NoError(t, b.Remove("tmp"))
	assert.ErrorIs(t, b.Remove("tmp"), ErrSignalNotFound)
	_, ok := b.Get("tmp")
	assert.False(t, ok)
}

func TestGetAll(t *testing.T) {
	b := New()
	for i := 0; i < 20; i++ {
		require.NoError(t, b.Declare(fmt.Sprintf("sig_%d", i), value.KindInt, value.Int(int64(i))))
	}
	all := b.GetAll()
	require.Len(t, all, 20)
	assert.Equal(t, value.Int(7), all["sig_7"].Value)
}

func TestWatchDeliversLatest(t *testing.T) {
	b := New()
	require.NoError(t, b.Declare("a", value.KindInt, value.Int(0)))
	require.NoError(t, b.Declare("b", value.KindInt, value.Int(0)))

	sub := b.Watch("a")
	defer sub.Close()

	// A burst of writes may coalesce, but the final value must survive.
	for i := 1; i <= 100; i++ {
		require.NoError(t, b.Set("a", value.Int(int64(i))))
	}
	require.NoError(t, b.Set("b", value.Int(999))) // filtered out

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	batch, err := sub.Next(ctx)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, "a", batch[0].Name)
	assert.Equal(t, value.Int(100), batch[0].Value)
	assert.Equal(t, uint64(100), batch[0].Revision)
}

func TestWatchAll(t *testing.T) {
	b := New()
	require.NoError(t, b.Declare("x", value.KindBool, value.Bool(false)))
	require.NoError(t, b.Declare("y", value.KindBool, value.Bool(false)))

	sub := b.WatchAll()
	defer sub.Close()

	require.NoError(t, b.Set("x", value.Bool(true)))
	require.NoError(t, b.Set("y", value.Bool(true)))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	seen := map[string]Update{}
	for len(seen) < 2 {
		batch, err := sub.Next(ctx)
		require.NoError(t, err)
		for _, u := range batch {
			seen[u.Name] = u
		}
	}
	assert.Equal(t, value.Bool(true), seen["x"].Value)
	assert.Equal(t, value.Bool(true), seen["y"].Value)
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	b := New()
	const signals = 8
	for i := 0; i < signals; i++ {
		require.NoError(t, b.Declare(fmt.Sprintf("c_%d", i), value.KindInt, value.Int(0)))
	}

	var wg sync.WaitGroup
	// One writer per signal preserves the single-writer rule.
	for i := 0; i < signals; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("c_%d", i)
			for n := 1; n <= 200; n++ {
				if err := b.Set(name, value.Int(int64(n))); err != nil {
					t.Error(err)
					return
				}
			}
		}(i)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				_ = b.GetAll()
			}
		}()
	}
	wg.Wait()

	for i := 0; i < signals; i++ {
		sig, ok := b.Lookup(fmt.Sprintf("c_%d", i))
		require.True(t, ok)
		assert.Equal(t, value.Int(200), sig.Value)
		assert.Equal(t, uint64(200), sig.Revision)
	}
}
