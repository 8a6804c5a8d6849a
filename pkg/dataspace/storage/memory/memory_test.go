package memory_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-dataspace/pkg/dataspace"
	memorystorage "github.com/tendant/simple-dataspace/pkg/dataspace/storage/memory"
)

func TestMemoryBackend(t *testing.T) {
	backend := memorystorage.New()
	ctx := context.Background()
	testKey := "spaces/one/readme.json"
	testData := []byte(`{"hello":"world"}`)

	t.Run("Create", func(t *testing.T) {
		err := backend.Create(ctx, testKey, testData)
		assert.NoError(t, err)
	})

	t.Run("CreateExisting", func(t *testing.T) {
		err := backend.Create(ctx, testKey, []byte("other"))
		assert.ErrorIs(t, err, dataspace.ErrResourceExists)

		data, err := backend.Get(ctx, testKey)
		require.NoError(t, err)
		assert.Equal(t, testData, data)
	})

	t.Run("GetReturnsCopy", func(t *testing.T) {
		data, err := backend.Get(ctx, testKey)
		require.NoError(t, err)
		data[0] = 'X'

		again, err := backend.Get(ctx, testKey)
		require.NoError(t, err)
		assert.Equal(t, testData, again)
	})

	t.Run("Put", func(t *testing.T) {
		err := backend.Put(ctx, testKey, []byte("replaced"))
		require.NoError(t, err)

		data, err := backend.Get(ctx, testKey)
		require.NoError(t, err)
		assert.Equal(t, "replaced", string(data))
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, backend.Put(ctx, "spaces/one/nested/a.json", nil))
		require.NoError(t, backend.Put(ctx, "spaces/oneother/b.json", nil))

		ids, err := backend.List(ctx, "spaces/one")
		require.NoError(t, err)
		sort.Strings(ids)
		assert.Equal(t, []string{"spaces/one/nested/a.json", "spaces/one/readme.json"}, ids)
	})

	t.Run("Delete", func(t *testing.T) {
		err := backend.Delete(ctx, testKey)
		assert.NoError(t, err)

		_, err = backend.Get(ctx, testKey)
		assert.ErrorIs(t, err, dataspace.ErrResourceNotFound)

		err = backend.Delete(ctx, testKey)
		assert.ErrorIs(t, err, dataspace.ErrResourceNotFound)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := backend.Get(canceled, "spaces/one/nested/a.json")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestMemoryBackendConcurrentCreate(t *testing.T) {
	backend := memorystorage.New()
	ctx := context.Background()

	const writers = 20
	var wg sync.WaitGroup
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results <- backend.Create(ctx, "log/same.json", []byte(fmt.Sprint(i)))
		}(i)
	}
	wg.Wait()
	close(results)

	created := 0
	for err := range results {
		if err == nil {
			created++
			continue
		}
		assert.ErrorIs(t, err, dataspace.ErrResourceExists)
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, backend.Len())
}
