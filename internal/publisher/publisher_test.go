package publisher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestNewDerivesStableKeypair(t *testing.T) {
	dir := t.TempDir()
	p1, err := New([]string{"wss://relay.example.com"}, testMnemonic, filepath.Join(dir, "messages.txt"), 16)
	require.NoError(t, err)
	p2, err := New([]string{"wss://relay.example.com"}, testMnemonic, filepath.Join(dir, "messages.txt"), 16)
	require.NoError(t, err)

	require.Equal(t, p1.publicKey, p2.publicKey)
	require.NotEmpty(t, p1.privateKey)
}

func TestAppendLocalLog(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "messages.txt")
	p, err := New([]string{"wss://relay.example.com"}, testMnemonic, logPath, 16)
	require.NoError(t, err)

	require.NoError(t, p.appendLocalLog("r1x-c1x-s1x"))
	require.NoError(t, p.appendLocalLog("r2x-c2x-s2x"))

	contents, err := os.ReadFile(logPath)
	require.NoError(t, err)
	require.Equal(t, "r1x-c1x-s1x\nr2x-c2x-s2x\n", string(contents))
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	dir := t.TempDir()
	p, err := New([]string{"wss://relay.example.com"}, testMnemonic, filepath.Join(dir, "messages.txt"), 1)
	require.NoError(t, err)

	p.Enqueue("first")
	// Queue has capacity 1 and nothing is draining it; the second
	// enqueue must be dropped rather than block the caller.
	done := make(chan struct{})
	go func() {
		p.Enqueue("second")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on a full queue")
	}
	require.Len(t, p.queue, 1)
}
