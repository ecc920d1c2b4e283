package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/alfredjeanlab/ctxreg/internal/events"
	"github.com/alfredjeanlab/ctxreg/internal/model"
	"github.com/alfredjeanlab/ctxreg/internal/ui"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Short:   "Stream registry change events",
	GroupID: "registry",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		kinds, err := parseKinds(cmd)
		if err != nil {
			return err
		}
		natsURL, _ := cmd.Flags().GetString("nats")
		if natsURL == "" {
			natsURL = os.Getenv("CTXREG_NATS_URL")
		}
		if natsURL == "" {
			natsURL = activeRemoteNATSURL()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		out := cmd.OutOrStdout()
		if natsURL != "" {
			return watchNATS(ctx, natsURL, kinds, out)
		}
		return watchSSE(ctx, streamURL(httpURL, kinds), authToken, out)
	},
}

// parseKinds reads the repeatable --kind flag.
func parseKinds(cmd *cobra.Command) ([]model.Kind, error) {
	names, _ := cmd.Flags().GetStringSlice("kind")
	kinds := make([]model.Kind, 0, len(names))
	for _, name := range names {
		k, ok := model.ParseKind(name)
		if !ok {
			return nil, fmt.Errorf("unknown kind %q (want environment or cluster)", name)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// streamURL builds the server's event stream URL scoped to kinds.
func streamURL(baseURL string, kinds []model.Kind) string {
	u := strings.TrimRight(baseURL, "/") + "/v1/events/stream"
	if len(kinds) == 0 {
		return u
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	return u + "?kinds=" + strings.Join(names, ",")
}

// watchNATS prints the registry events for kinds published on the bus.
func watchNATS(ctx context.Context, natsURL string, kinds []model.Kind, out io.Writer) error {
	sub, err := events.NewNATSSubscriber(natsURL,
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("nats: disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("nats: reconnected")
		}),
	)
	if err != nil {
		return fmt.Errorf("connecting to NATS: %w", err)
	}
	defer sub.Close()

	ch, cancel, err := sub.Subscribe(kinds...)
	if err != nil {
		return fmt.Errorf("subscribing to events: %w", err)
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			printEvent(out, msg.Topic, msg.Data)
		}
	}
}

// watchSSE follows the server's /v1/events/stream when no bus is reachable,
// reconnecting with Last-Event-ID so no event is skipped.
func watchSSE(ctx context.Context, url, token string, out io.Writer) error {
	var lastID string
	for {
		id, err := followSSE(ctx, url, token, lastID, out)
		if id != "" {
			lastID = id
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Printf("event stream: %v; retrying", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

func followSSE(ctx context.Context, url, token, lastID string, out io.Writer) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return lastID, err
	}
	req.Header.Set("Accept", "text/event-stream")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if lastID != "" {
		req.Header.Set("Last-Event-ID", lastID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return lastID, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return lastID, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return readSSE(resp.Body, lastID, func(topic string, data []byte) {
		printEvent(out, topic, data)
	})
}

// readSSE dispatches each complete event in r and returns the last event ID
// seen.
func readSSE(r io.Reader, lastID string, fn func(topic string, data []byte)) (string, error) {
	var topic, data string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if topic != "" {
				fn(topic, []byte(data))
			}
			topic, data = "", ""
		case strings.HasPrefix(line, "id:"):
			lastID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "event:"):
			topic = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data += strings.TrimPrefix(line, "data:")
		}
	}
	return lastID, scanner.Err()
}

func printEvent(out io.Writer, topic string, data []byte) {
	if jsonOutput {
		fmt.Fprintf(out, "{\"topic\":%q,\"event\":%s}\n", topic, data)
		return
	}
	fmt.Fprintln(out, formatEvent(topic, data))
}

// formatEvent renders one event as a single human-readable line.
func formatEvent(topic string, data []byte) string {
	label := ui.RenderTopic(topic)
	ev, err := events.Decode(topic, data)
	if err != nil {
		return label + " " + ui.RenderMuted(string(data))
	}
	switch e := ev.(type) {
	case *events.RecordCreated:
		return fmt.Sprintf("%s %s %d %q by %d", label, e.Record.Kind, e.Record.Code, e.Record.Name, e.Record.OperatorID)
	case *events.RecordUpdated:
		return fmt.Sprintf("%s %s %d %q by %d [%s]", label, e.Record.Kind, e.Record.Code, e.Record.Name,
			e.Record.OperatorID, strings.Join(e.Changes, ","))
	case *events.RecordDeleted:
		return fmt.Sprintf("%s %s %d %q by %d", label, e.Kind, e.Code, e.Name, e.OperatorID)
	}
	return label
}

func init() {
	watchCmd.Flags().String("nats", "", "NATS URL (defaults to CTXREG_NATS_URL or the active remote)")
	watchCmd.Flags().StringSlice("kind", nil, "Only show events for these kinds (environment, cluster)")
}
