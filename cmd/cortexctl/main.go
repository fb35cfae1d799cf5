// ABOUTME: Operator CLI for a running cortexd instance
// ABOUTME: Sends inputs, tails response streams and checks service health

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/cortexcore/cortex/internal/bus"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	host := os.Getenv("CORTEX_HOST")
	if host == "" {
		host = "http://localhost:8080"
	}
	host = strings.TrimSuffix(host, "/")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "health":
		err = cmdHealth(ctx, host)
	case "send":
		err = cmdSend(ctx, host, args)
	case "tail":
		err = cmdTail(ctx, host, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: cortexctl <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  health                                     Check runtime and service health")
	fmt.Println("  send -user U [-conversation C] MESSAGE     Send a message and stream the reply")
	fmt.Println("  tail -user U -conversation C               Follow output events")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  CORTEX_HOST   Base URL of cortexd (default http://localhost:8080)")
}

func cmdHealth(ctx context.Context, host string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Status   string `json:"status"`
		Services []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"services"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if body.Status == "ok" {
		color.Green("● %s", body.Status)
	} else {
		color.Yellow("● %s", body.Status)
	}
	for _, svc := range body.Services {
		switch svc.Status {
		case "healthy":
			fmt.Printf("  %s %s\n", color.GreenString("✓"), svc.Name)
		case "degraded":
			fmt.Printf("  %s %s (degraded)\n", color.YellowString("!"), svc.Name)
		default:
			fmt.Printf("  %s %s (%s)\n", color.RedString("✗"), svc.Name, svc.Status)
		}
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func cmdSend(ctx context.Context, host string, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	user := fs.String("user", "", "user id (required)")
	conversation := fs.String("conversation", "", "conversation id (default: random)")
	noWait := fs.Bool("no-wait", false, "do not wait for the reply stream")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return fmt.Errorf("-user is required")
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("message argument is required")
	}
	if *conversation == "" {
		*conversation = uuid.NewString()
	}
	content := strings.Join(fs.Args(), " ")

	// Attach the stream before publishing so the reply cannot race past us.
	var stream *http.Response
	if !*noWait {
		var err error
		stream, err = openStream(ctx, host, *user, *conversation)
		if err != nil {
			return err
		}
		defer stream.Body.Close()
	}

	if err := postInput(ctx, host, *user, *conversation, content); err != nil {
		return err
	}

	gray := color.New(color.FgHiBlack)
	gray.Printf("conversation: %s\n", *conversation)

	if *noWait {
		return nil
	}
	return printStream(ctx, stream.Body, true)
}

func cmdTail(ctx context.Context, host string, args []string) error {
	fs := flag.NewFlagSet("tail", flag.ExitOnError)
	user := fs.String("user", "", "user id (required)")
	conversation := fs.String("conversation", "", "conversation id (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *conversation == "" {
		return fmt.Errorf("-user and -conversation are required")
	}

	resp, err := openStream(ctx, host, *user, *conversation)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return printStream(ctx, resp.Body, false)
}

func postInput(ctx context.Context, host, user, conversation, content string) error {
	body, err := json.Marshal(map[string]string{
		"user_id":         user,
		"conversation_id": conversation,
		"content":         content,
	})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host+"/v1/input", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending input: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		var errResp map[string]string
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil {
			if msg, ok := errResp["error"]; ok {
				return fmt.Errorf("%s", msg)
			}
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return nil
}

func openStream(ctx context.Context, host, user, conversation string) (*http.Response, error) {
	q := url.Values{}
	q.Set("user_id", user)
	if conversation != "" {
		q.Set("conversation_id", conversation)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/v1/stream?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return resp, nil
}

// printStream renders SSE output events as they arrive. Partial chunks print
// inline; the final chunk ends the line. With untilComplete set, the first
// complete message ends the stream.
func printStream(ctx context.Context, body io.Reader, untilComplete bool) error {
	scanner := bufio.NewScanner(body)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		var ev bus.Event
		if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &ev); err != nil {
			return fmt.Errorf("parsing event data: %w", err)
		}

		content, _ := ev.Payload[bus.PayloadKeyContent].(string)
		complete, _ := ev.Payload[bus.PayloadKeyIsComplete].(bool)
		role, _ := ev.Payload[bus.PayloadKeyRole].(string)

		if complete {
			if role == "system" {
				// Failures arrive as a single complete system message.
				color.Yellow("%s", content)
			} else {
				// The complete event repeats the full message; the partial
				// chunks already printed it.
				fmt.Println()
			}
			if untilComplete {
				return nil
			}
			continue
		}

		fmt.Print(content)
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}
