package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/The-Promised-Neverland/transporter/internal/client"
	"github.com/The-Promised-Neverland/transporter/internal/config"
	"github.com/The-Promised-Neverland/transporter/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(t *testing.T, opts ...config.Option) (*Application, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.New(append([]config.Option{
		config.WithZMQ("tcp://127.0.0.1:*"),
		config.WithServeDir(dir),
	}, opts...)...)
	require.NoError(t, cfg.Validate())
	return NewApplication(cfg), dir
}

func TestRunServesUntilCancelled(t *testing.T) {
	app, dir := newTestApp(t, config.WithMonitor("127.0.0.1:0"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- app.Run(ctx) }()
	require.Eventually(t, func() bool { return app.Endpoint() != "" }, 5*time.Second, 10*time.Millisecond)

	c, err := client.Dial(app.Endpoint(), client.Options{Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer c.Close()
	n, err := c.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	resp, err := http.Get("http://" + app.MonitorAddr() + "/health")
	require.NoError(t, err)
	var msg struct {
		Type    string             `json:"type"`
		Payload models.HealthCheck `json:"payload"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&msg))
	resp.Body.Close()
	assert.Equal(t, models.MsgHealthCheck, msg.Type)
	assert.Equal(t, app.Endpoint(), msg.Payload.Endpoint)
	assert.Equal(t, 64, msg.Payload.Capacity)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Empty(t, app.MonitorAddr())
}

func TestShutdownReleasesTransfers(t *testing.T) {
	app, dir := newTestApp(t, config.WithWatch(false))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big"), make([]byte, 4096), 0o644))
	require.NoError(t, app.Start(context.Background()))

	c, err := client.Dial(app.Endpoint(), client.Options{Timeout: 5 * time.Second})
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Pick("::largestfile()::")
	require.NoError(t, err)

	// Negotiate directly through the dispatcher so the slot stays open.
	reply := app.handlers.Process([][]byte{[]byte("GET\x00"), []byte("big\x00"), {0}, {0}})
	require.Equal(t, "OK\x00", string(reply[0]))
	assert.Equal(t, 1, app.table.Len())

	app.Shutdown()
	assert.Zero(t, app.table.Len())
	assert.FileExists(t, filepath.Join(dir, "big"))
	app.Shutdown()
}

func TestStartFailsOnBadAddress(t *testing.T) {
	dir := t.TempDir()
	cfg := config.New(config.WithZMQ("bogus://"), config.WithServeDir(dir))
	app := NewApplication(cfg)
	assert.Error(t, app.Start(context.Background()))
	assert.Empty(t, app.Endpoint())
	app.Shutdown()
}
