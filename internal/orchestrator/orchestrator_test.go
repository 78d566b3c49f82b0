package orchestrator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/warpdotgreen/cli/internal/chains"
	"github.com/warpdotgreen/cli/internal/publisher"
)

type fakeFollower struct {
	tag     string
	waitErr error
	runErr  error
	waited  chan struct{}
}

func (f *fakeFollower) ChainTag() string { return f.tag }

func (f *fakeFollower) WaitForNode(ctx context.Context, logStartupErrors bool) error {
	close(f.waited)
	return f.waitErr
}

func (f *fakeFollower) Run(ctx context.Context) error {
	if f.runErr != nil {
		return f.runErr
	}
	<-ctx.Done()
	return nil
}

func testPublisher(t *testing.T) *publisher.Publisher {
	t.Helper()
	pub, err := publisher.New([]string{"wss://example.invalid"}, "test test test test test test test test test test test junk", t.TempDir()+"/sig.log", 8)
	require.NoError(t, err)
	return pub
}

func TestOrchestratorWaitsForNodeBeforeRunning(t *testing.T) {
	f := &fakeFollower{tag: "eth", waited: make(chan struct{})}
	o := New([]chains.Follower{f}, testPublisher(t), false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	select {
	case <-f.waited:
	case <-time.After(time.Second):
		t.Fatal("WaitForNode was never called")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestOrchestratorPropagatesFatalFollowerError(t *testing.T) {
	wantErr := fmt.Errorf("boom")
	f := &fakeFollower{tag: "xch", waited: make(chan struct{}), runErr: wantErr}
	o := New([]chains.Follower{f}, testPublisher(t), false)

	err := o.Run(context.Background())
	require.ErrorIs(t, err, wantErr)
}
