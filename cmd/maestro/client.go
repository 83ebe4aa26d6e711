package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"maestro/internal/events"
	"maestro/internal/registry"
)

func serverBase(cmd *cobra.Command) string {
	base, _ := cmd.Flags().GetString("server")
	return strings.TrimRight(base, "/")
}

var httpClient = &http.Client{Timeout: 15 * time.Second}

func newSubmitCommand() *cobra.Command {
	var description string
	cmd := &cobra.Command{
		Use:   "submit <title>",
		Short: "Submit a task to a running server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			title := strings.Join(args, " ")
			body, err := json.Marshal(map[string]string{
				"title":       title,
				"description": description,
			})
			if err != nil {
				return err
			}

			resp, err := httpClient.Post(serverBase(cmd)+"/api/tasks", "application/json", bytes.NewReader(body))
			if err != nil {
				return fmt.Errorf("submit task: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()

			payload, _ := io.ReadAll(resp.Body)
			if resp.StatusCode != http.StatusAccepted {
				return fmt.Errorf("server rejected the task (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
			}

			var task registry.Task
			if err := json.Unmarshal(payload, &task); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			fmt.Printf("%s task %s\n", green("accepted"), bold(task.ID))
			fmt.Printf("  %s %s\n", gray("title:"), task.Title)
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	return cmd
}

func newRecentCommand() *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "Show recent events from a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := httpClient.Get(fmt.Sprintf("%s/api/events/recent?count=%d", serverBase(cmd), count))
			if err != nil {
				return fmt.Errorf("fetch events: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode != http.StatusOK {
				payload, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
			}

			var body struct {
				Sequence uint64            `json:"sequence"`
				Events   []events.Envelope `json:"events"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				return fmt.Errorf("decode events: %w", err)
			}

			if len(body.Events) == 0 {
				fmt.Println(gray("no events yet"))
				return nil
			}
			for _, env := range body.Events {
				fmt.Printf("%s %s %s %s\n",
					gray(fmt.Sprintf("#%d", env.Sequence)),
					env.At.Local().Format("15:04:05"),
					colorType(env.Type),
					gray(env.TaskID))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 50, "number of events to show")
	return cmd
}

func colorType(eventType string) string {
	switch {
	case strings.HasSuffix(eventType, ".failed"), strings.HasSuffix(eventType, ".escalated"):
		return red(eventType)
	case strings.HasSuffix(eventType, ".done"), strings.HasSuffix(eventType, ".succeeded"):
		return green(eventType)
	case strings.HasPrefix(eventType, "telemetry."):
		return yellow(eventType)
	default:
		return cyan(eventType)
	}
}
