package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextWaiters_AwaitNewContext_ResolvesOnAttach(t *testing.T) {
	d := newTestDomains()

	resultCh := make(chan interface{}, 1)
	go func() {
		res, err := awaitNewContext(context.Background(), d, "target-1")
		require.Nil(t, err)
		resultCh <- res
	}()

	time.Sleep(10 * time.Millisecond)
	d.Waiters.ResolveNewContext("target-1", "ctx-1")

	select {
	case res := <-resultCh:
		m := res.(map[string]interface{})
		assert.Equal(t, "ctx-1", m["context"])
	case <-time.After(time.Second):
		t.Fatal("awaitNewContext did not resolve")
	}
}

func TestContextWaiters_AwaitNewContext_TimesOutWithContext(t *testing.T) {
	d := newTestDomains()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := awaitNewContext(ctx, d, "target-never-attaches")
	require.NotNil(t, err)
}

func TestContextWaiters_AwaitDetach_ResolvesOnDetach(t *testing.T) {
	d := newTestDomains()

	done := make(chan struct{})
	go func() {
		err := awaitDetach(context.Background(), d, "target-1")
		assert.Nil(t, err)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	d.Waiters.ResolveDetach("target-1")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("awaitDetach did not resolve")
	}
}

func TestContextWaiters_ResolveWithNoWaiter_IsNoOp(t *testing.T) {
	d := newTestDomains()
	d.Waiters.ResolveNewContext("nobody-waiting", "ctx-1")
	d.Waiters.ResolveDetach("nobody-waiting")
}
