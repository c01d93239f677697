package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/devflow-ai/devflow/pkg/events"
)

var taskWatchCmd = &cobra.Command{
	Use:   "watch [task-id]",
	Short: "Stream task events live",
	Long: `Stream events over WebSocket as they happen. With a task id, follows
that task and exits when it reaches a terminal state. Without one,
follows lifecycle events for all tasks until interrupted.`,
	Args: maxArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newClient()
		if err != nil {
			return err
		}
		taskID := ""
		if len(args) > 0 {
			taskID = args[0]
		}
		return watchChannel(cmd, client, taskID)
	},
}

// watchChannel subscribes to one channel and prints envelopes until the
// context is cancelled, the connection drops, or — when following a
// single task — the task reaches a terminal state.
func watchChannel(cmd *cobra.Command, client *apiClient, taskID string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	channel := events.GlobalTasksChannel
	if taskID != "" {
		channel = events.TaskChannel(taskID)
	}

	conn, _, err := websocket.Dial(ctx, client.wsURL(), nil)
	if err != nil {
		return fmt.Errorf("cannot reach %s: %w", client.wsURL(), err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	sub, err := json.Marshal(events.ClientMessage{Action: "subscribe", Channel: channel})
	if err != nil {
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, sub); err != nil {
		return fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	out := cmd.OutOrStdout()
	if !jsonOutput() {
		fmt.Fprintf(out, "Watching %s (Ctrl-C to stop)\n", channel)
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connection to %s lost: %w", client.base, err)
		}

		var env events.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch {
		case env.Type == "subscription.error", env.Type == "error":
			var ctrl struct {
				Message string `json:"message"`
			}
			_ = json.Unmarshal(data, &ctrl)
			return fmt.Errorf("subscription rejected: %s", ctrl.Message)
		case !events.IsKnownEventType(env.Type):
			// Control frames: connection.established, subscription.confirmed.
			continue
		}

		if jsonOutput() {
			fmt.Fprintln(out, string(data))
		} else {
			printEnvelope(out, &env)
		}

		if taskID != "" && isTerminalEvent(env.Type) {
			return nil
		}
	}
}

func isTerminalEvent(eventType string) bool {
	switch eventType {
	case events.EventTaskCompleted, events.EventTaskFailed, events.EventTaskCancelled:
		return true
	}
	return false
}

// printEnvelope writes one event as a timestamped line with the scalar
// payload fields in stable order. Nested payload values are elided; the
// JSON output mode carries them in full.
func printEnvelope(w io.Writer, env *events.Envelope) {
	keys := make([]string, 0, len(env.Data))
	for k, v := range env.Data {
		switch v.(type) {
		case string, bool, float64, int, int64:
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	line := fmt.Sprintf("%s  %-22s", env.Timestamp.Local().Format("15:04:05"), env.Type)
	for _, k := range keys {
		line += fmt.Sprintf(" %s=%v", k, env.Data[k])
	}
	fmt.Fprintln(w, line)
}
