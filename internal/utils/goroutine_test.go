package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	corelog "byedpi-core/internal/core/log"
)

func TestGoRecoversPanic(t *testing.T) {
	done := make(chan struct{})
	Go(corelog.NewNopLogger(), "panicker", func() {
		defer close(done)
		panic("boom")
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestRecoverReportsValue(t *testing.T) {
	var got any
	func() {
		defer Recover(corelog.NewNopLogger(), "task", func(v any) { got = v })
		panic("engine crashed")
	}()
	assert.Equal(t, "engine crashed", got)
}

func TestRecoverWithoutPanic(t *testing.T) {
	called := false
	func() {
		defer Recover(nil, "task", func(any) { called = true })
	}()
	assert.False(t, called)
}
