package dispose

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDispose(t *testing.T) {
	called := false
	d := NewDispose(context.Background(), func() error {
		called = true
		return nil
	})

	require.NotNil(t, d.Ctx())
	assert.False(t, d.IsClosed())

	result := d.Close()
	assert.False(t, result.HasErrors())
	assert.True(t, called)
	assert.True(t, d.IsClosed())
	assert.Error(t, d.Ctx().Err())
}

func TestDisposeSetCtxOnce(t *testing.T) {
	d := &Dispose{}
	d.SetCtx(context.Background(), nil)
	first := d.Ctx()
	d.SetCtx(context.Background(), nil)
	assert.Equal(t, first, d.Ctx())
}

func TestDisposeCloseIdempotent(t *testing.T) {
	var calls int32
	d := NewDispose(context.Background(), func() error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	})

	first := d.Close()
	second := d.Close()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Len(t, first.Errors, 1)
	assert.Len(t, second.Errors, 1)
}

func TestDisposeHandlerErrorDoesNotStopOthers(t *testing.T) {
	d := NewDispose(context.Background(), nil)
	ran := make([]int, 0)
	d.AddCleanHandler(func() error { ran = append(ran, 1); return errors.New("first") })
	d.AddCleanHandler(func() error { ran = append(ran, 2); return nil })

	err := d.CloseWithError()
	assert.EqualError(t, err, "first")
	assert.Equal(t, []int{1, 2}, ran)
}

func TestDisposeContextCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	d := NewDispose(parent, func() error {
		close(done)
		return nil
	})

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("clean handler was not run on parent cancel")
	}
	assert.Eventually(t, d.IsClosed, time.Second, 10*time.Millisecond)
}

func TestResourceManagerReverseOrder(t *testing.T) {
	rm := NewResourceManager()
	order := make([]string, 0)

	for _, name := range []string{"interface", "proxy", "adapter"} {
		name := name
		require.NoError(t, rm.RegisterFunc(name, func() error {
			order = append(order, name)
			return nil
		}))
	}
	assert.Equal(t, 3, rm.GetResourceCount())
	assert.Equal(t, []string{"interface", "proxy", "adapter"}, rm.ListResources())

	result := rm.DisposeAll()
	assert.False(t, result.HasErrors())
	assert.Equal(t, []string{"adapter", "proxy", "interface"}, order)
	assert.Equal(t, 0, rm.GetResourceCount())

	// 再次释放为空操作
	assert.False(t, rm.DisposeAll().HasErrors())
}

func TestResourceManagerContinuesAfterFailure(t *testing.T) {
	rm := NewResourceManager()
	closed := false

	require.NoError(t, rm.RegisterFunc("handle", func() error { closed = true; return nil }))
	require.NoError(t, rm.RegisterFunc("broken", func() error { return errors.New("stop failed") }))
	require.NoError(t, rm.RegisterFunc("panics", func() error { panic("adapter exploded") }))

	result := rm.DisposeAll()
	require.Len(t, result.Errors, 2)
	assert.Equal(t, "panics", result.Errors[0].ResourceName)
	assert.Equal(t, "broken", result.Errors[1].ResourceName)
	assert.True(t, closed)
}

func TestResourceManagerDuplicateAndUnregister(t *testing.T) {
	rm := NewResourceManager()
	require.NoError(t, rm.RegisterFunc("a", func() error { return nil }))
	assert.Error(t, rm.RegisterFunc("a", func() error { return nil }))

	require.NoError(t, rm.Unregister("a"))
	assert.Error(t, rm.Unregister("a"))
	assert.Equal(t, 0, rm.GetResourceCount())
}

func TestServiceBase(t *testing.T) {
	s := NewService("socks5", context.Background())
	assert.Equal(t, "socks5", s.Name())
	assert.NoError(t, s.CloseWithError())
	assert.True(t, s.IsClosed())
}
