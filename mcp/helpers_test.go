package mcp

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/contextframe/contextframe-go/models"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

// waitForTask blocks until the task delivers its terminal event and asserts
// it completed successfully.
func waitForTask(t *testing.T, s *Server, taskID string) {
	t.Helper()
	ch, cancel, ok := s.Tasks().Subscribe(taskID)
	require.True(t, ok, "task %s not found", taskID)
	defer cancel()

	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev, open := <-ch:
			if !open {
				t.Fatalf("task %s channel closed without a terminal event", taskID)
			}
			if ev.Event == "error" {
				t.Fatalf("task %s failed: %s", taskID, ev.Message)
			}
			if ev.Event == "complete" {
				task, found := s.Tasks().Get(taskID)
				require.True(t, found)
				require.Equal(t, models.TaskComplete, task.Status)
				return
			}
		case <-deadline:
			t.Fatalf("task %s did not finish in time", taskID)
		}
	}
}
