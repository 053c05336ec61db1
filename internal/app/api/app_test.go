package api

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upvote-platform/internal/execution"
	"upvote-platform/internal/order"
	"upvote-platform/pkg/config"
)

func writeSlowBot(t *testing.T, sleep string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.sh")
	script := "#!/bin/sh\ncat > /dev/null\nsleep " + sleep + "\necho '{\"success\": true, \"status\": \"completed\"}'\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func TestDispatchSetup_SubprocessIgnoresCallTimeout(t *testing.T) {
	cfg := &config.Config{}
	cfg.Execution.Mode = "subprocess"
	cfg.Execution.Timeout = "1s"
	cfg.Execution.Python = "sh"
	cfg.Execution.Script = writeSlowBot(t, "2")
	cfg.Dispatch.Workers = 1

	dispatcher, client, poolCfg, err := dispatchSetup(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, client)
	assert.Zero(t, poolCfg.DispatchTimeout)

	ctx := context.Background()
	ledger := order.NewLedgerMem()
	queue := order.NewQueue(4)
	pool := order.NewPool(ledger, queue, dispatcher, poolCfg, nil)
	pool.Start(ctx)
	defer pool.Stop()

	id, err := ledger.Create(ctx, &order.Order{OwnerID: "u1", TargetReference: "https://x.test", Quantity: 1, Rate: 1})
	require.NoError(t, err)
	require.NoError(t, queue.Enqueue(id))

	var o *order.Order
	deadline := time.Now().Add(6 * time.Second)
	for time.Now().Before(deadline) {
		o, err = ledger.Get(ctx, id)
		require.NoError(t, err)
		if o.Status.Terminal() {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	assert.Equal(t, order.StatusCompleted, o.Status, "error=%q", o.ErrorMessage)
}

func TestDispatchSetup_RemoteBoundsEachCall(t *testing.T) {
	cfg := &config.Config{}
	cfg.Execution.BaseURL = "http://127.0.0.1:1"
	cfg.Execution.Timeout = "3s"

	dispatcher, client, poolCfg, err := dispatchSetup(cfg, nil)
	require.NoError(t, err)
	require.NotNil(t, client)
	assert.IsType(t, &execution.RemoteAdapter{}, dispatcher)
	assert.Equal(t, 3*time.Second, poolCfg.DispatchTimeout)
}

func TestDispatchSetup_UnknownMode(t *testing.T) {
	cfg := &config.Config{}
	cfg.Execution.Mode = "carrier-pigeon"
	_, _, _, err := dispatchSetup(cfg, nil)
	assert.Error(t, err)
}
