package browsingcontext

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContext_NavigationStateMachine_HappyPath(t *testing.T) {
	c := NewContext("ctx-1", "", "target-1")
	assert.Equal(t, StateInitial, c.State())

	c.StartNavigation()
	assert.Equal(t, StateNavigating, c.State())

	c.OnFrameNavigated("https://example.com", "loader-1")
	assert.Equal(t, StateLoading, c.State())
	assert.Equal(t, "https://example.com", c.URL())
	assert.Equal(t, "loader-1", c.LoaderID())

	c.OnLifecycleEvent("DOMContentLoaded", "loader-1")
	assert.Equal(t, StateInteractive, c.State())

	c.OnLifecycleEvent("load", "loader-1")
	assert.Equal(t, StateComplete, c.State())
}

func TestContext_AwaitLoaded_UnblocksOnLoad(t *testing.T) {
	c := NewContext("ctx-1", "", "target-1")
	c.StartNavigation()
	c.OnFrameNavigated("https://example.com", "loader-1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan *struct{})
	go func() {
		_ = c.AwaitLoaded(ctx)
		close(done)
	}()

	c.OnLifecycleEvent("load", "loader-1")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AwaitLoaded did not return after load")
	}
}

func TestContext_RegisterWaiter_ResolvesAtOrAboveRequestedLevel(t *testing.T) {
	c := NewContext("ctx-1", "", "target-1")
	c.StartNavigation()

	waitInteractive := c.RegisterWaiter("loader-1", WaitInteractive)
	waitComplete := c.RegisterWaiter("loader-1", WaitComplete)

	c.OnFrameNavigated("https://example.com", "loader-1")
	c.OnLifecycleEvent("DOMContentLoaded", "loader-1")

	select {
	case res := <-waitInteractive:
		require.Nil(t, res.err)
		assert.Equal(t, "https://example.com", res.url)
	case <-time.After(time.Second):
		t.Fatal("interactive waiter did not resolve at DOMContentLoaded")
	}

	select {
	case <-waitComplete:
		t.Fatal("complete waiter resolved too early")
	default:
	}

	c.OnLifecycleEvent("load", "loader-1")
	select {
	case res := <-waitComplete:
		require.Nil(t, res.err)
	case <-time.After(time.Second):
		t.Fatal("complete waiter did not resolve at load")
	}
}

func TestContext_FailNavigation_ResolvesOnlyMatchingLoader(t *testing.T) {
	c := NewContext("ctx-1", "", "target-1")
	waitA := c.RegisterWaiter("loader-a", WaitComplete)
	waitB := c.RegisterWaiter("loader-b", WaitComplete)

	c.FailNavigation("loader-a", nil)

	select {
	case res := <-waitA:
		assert.NotNil(t, res.err)
	case <-time.After(time.Second):
		t.Fatal("loader-a waiter did not resolve")
	}

	select {
	case <-waitB:
		t.Fatal("loader-b waiter should not have resolved")
	default:
	}
}

func TestContext_Delete_AbortsPendingWaiters(t *testing.T) {
	c := NewContext("ctx-1", "", "target-1")
	w := c.RegisterWaiter("loader-1", WaitComplete)

	c.Delete()
	assert.Equal(t, StateDeleted, c.State())

	select {
	case res := <-w:
		require.NotNil(t, res.err)
		assert.Contains(t, res.err.Message, "aborted")
	case <-time.After(time.Second):
		t.Fatal("waiter did not resolve on delete")
	}
}

func TestContext_SandboxRealms(t *testing.T) {
	c := NewContext("ctx-1", "", "target-1")
	_, ok := c.SandboxRealm("box")
	assert.False(t, ok)

	c.AddSandboxRealm("box", "realm-1")
	id, ok := c.SandboxRealm("box")
	require.True(t, ok)
	assert.Equal(t, "realm-1", id)
}
