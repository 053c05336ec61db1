package execution

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"upvote-platform/internal/order"
)

// writeBot 写一个读取 stdin 后输出固定内容的 shell 脚本
func writeBot(t *testing.T, body string) SubprocessConfig {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bot.sh")
	script := "#!/bin/sh\ncat > /dev/null\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatalf("write bot: %v", err)
	}
	return SubprocessConfig{Python: "sh", Script: path, Timeout: 5 * time.Second}
}

func runBot(t *testing.T, cfg SubprocessConfig) Outcome {
	return NewSubprocessAdapter(cfg, nil).Run(context.Background(), DispatchRequest{OrderID: "o1", TargetReference: "https://x.test", Quantity: 3, Rate: 1})
}

func TestSubprocess_VerdictMapping(t *testing.T) {
	cases := []struct {
		name   string
		output string
		status string
		errSub string
	}{
		{"completed", `{"success": true, "status": "completed"}`, SessionCompleted, ""},
		{"failed keeps message", `{"success": false, "status": "failed", "error": "account banned"}`, SessionFailed, "account banned"},
		{"running", `{"success": true, "status": "running"}`, SessionRunning, ""},
		{"unknown", `{"success": true, "status": "queued"}`, SessionFailed, "unknown status"},
		{"success false completed", `{"success": false, "status": "completed"}`, SessionFailed, "unknown status"},
		{"logs before verdict", "starting\nworking\n{\"success\": true, \"status\": \"completed\"}", SessionCompleted, ""},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			out := runBot(t, writeBot(t, "printf '%s\\n' '"+strings.ReplaceAll(c.output, "\n", "' '")+"'"))
			assert.Equal(t, c.status, out.Status)
			if c.errSub != "" {
				assert.Contains(t, out.Error, c.errSub)
			}
		})
	}
}

func TestSubprocess_UnparseableOutput(t *testing.T) {
	out := runBot(t, writeBot(t, "echo 'Traceback: boom'; echo 'fatal detail' >&2; exit 1"))
	assert.Equal(t, SessionFailed, out.Status)
	assert.Contains(t, out.Error, "failed to parse bot output")
	assert.Contains(t, out.Error, "fatal detail")
	assert.Contains(t, out.Error, "Traceback: boom")
}

func TestSubprocess_OutputTruncated(t *testing.T) {
	out := runBot(t, writeBot(t, "i=0; while [ $i -lt 200 ]; do printf 'xxxxxxxxxx'; i=$((i+1)); done"))
	assert.Equal(t, SessionFailed, out.Status)
	assert.Less(t, len(out.Error), 1200)
}

func TestSubprocess_Timeout(t *testing.T) {
	cfg := writeBot(t, "exec sleep 5")
	cfg.Timeout = 200 * time.Millisecond
	start := time.Now()
	out := runBot(t, cfg)
	assert.Equal(t, SessionFailed, out.Status)
	assert.Contains(t, out.Error, "timed out")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestSubprocess_TimeoutReportsCallerDeadline(t *testing.T) {
	cfg := writeBot(t, "exec sleep 5")
	cfg.Timeout = 2 * time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	out := NewSubprocessAdapter(cfg, nil).Run(ctx, DispatchRequest{OrderID: "o1", TargetReference: "https://x.test", Quantity: 1, Rate: 1})
	assert.Equal(t, SessionFailed, out.Status)
	assert.Contains(t, out.Error, "timed out")
	assert.NotContains(t, out.Error, "2h0m0s")
}

func TestSubprocess_MissingInterpreter(t *testing.T) {
	out := runBot(t, SubprocessConfig{Python: "/nonexistent/python", Script: "bot.py", Timeout: time.Second})
	assert.Equal(t, SessionFailed, out.Status)
	assert.Contains(t, out.Error, "failed to start bot")
}

func TestSubprocess_ReceivesRequestOnStdin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "echo.sh")
	script := `#!/bin/sh
input=$(cat)
case "$input" in
  *'"order_id":"o1"'*'"quantity":3'*) echo '{"success": true, "status": "completed"}' ;;
  *) echo '{"success": false, "status": "failed", "error": "bad input"}' ;;
esac
`
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	out := runBot(t, SubprocessConfig{Python: "sh", Script: path, Timeout: 5 * time.Second})
	assert.Equal(t, SessionCompleted, out.Status, out.Error)
}

func TestOutcomeResult(t *testing.T) {
	assert.Equal(t, order.StatusCompleted, OutcomeResult(Outcome{Status: SessionCompleted}).Status)
	assert.Equal(t, order.StatusProcessing, OutcomeResult(Outcome{Status: SessionRunning}).Status)
	r := OutcomeResult(Outcome{Status: SessionFailed, Error: "x"})
	assert.Equal(t, order.StatusFailed, r.Status)
	assert.Equal(t, "x", r.Error)
}
