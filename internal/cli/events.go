package cli

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mcoot/bunker/internal/model"
)

func newEventsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "events <name>",
		Short: "Stream a lobby's raw change events",
		Long: `Connect to the lobby's server-sent events endpoint and print every
participation change as it happens.

Events:
  - connected: Stream is open
  - insert: A player joined
  - update: A player's row changed
  - delete: A player left
  - feed-lost: The server lost its change feed; refetch to resync

Press Ctrl+C to disconnect.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := model.LobbyName(args[0])
			if err := name.Validate(); err != nil {
				return err
			}
			return streamEvents(cmd, name, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output events as JSON lines")

	return cmd
}

// SSEEvent is one parsed server-sent event
type SSEEvent struct {
	Time  time.Time `json:"time"`
	Event string    `json:"event"`
	Data  string    `json:"data"`
}

func streamEvents(cmd *cobra.Command, name model.LobbyName, jsonOutput bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	url := strings.TrimSuffix(cfg.ServerURL, "/") + lobbyPath(name, "events")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.Token)
	}

	// No timeout: the stream stays open until cancelled
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	out := cmd.OutOrStdout()
	if !jsonOutput {
		fmt.Fprintf(out, "Streaming events for lobby %s\n", name)
	}

	scanner := bufio.NewScanner(resp.Body)
	var current string
	var dataLines []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			current = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			dataLines = append(dataLines, strings.TrimPrefix(line, "data: "))
		case line == "":
			if current != "" {
				printEvent(cmd, current, strings.Join(dataLines, "\n"), jsonOutput)
			}
			current = ""
			dataLines = nil
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream error: %w", err)
	}
	if !jsonOutput {
		fmt.Fprintln(out, "Disconnected")
	}
	return nil
}

func printEvent(cmd *cobra.Command, event, data string, jsonOutput bool) {
	now := time.Now()
	out := cmd.OutOrStdout()

	if jsonOutput {
		line, _ := json.Marshal(SSEEvent{Time: now, Event: event, Data: data})
		fmt.Fprintln(out, string(line))
		return
	}

	display := strings.ReplaceAll(data, "\n", " ")
	if len(display) > 120 {
		display = display[:120] + "..."
	}
	fmt.Fprintf(out, "[%s] %s: %s\n", now.Format("15:04:05"), event, display)
}

// stdinLines delivers trimmed lines from stdin until EOF
func stdinLines() <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
	}()
	return lines
}
