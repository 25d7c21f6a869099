// ABOUTME: Command-line client for strand-relay
// ABOUTME: Submits a prompt and renders the session's SSE envelope stream

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
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
)

var (
	serverAddr = flag.String("server", "localhost:8080", "relay host:port")
	sessionID  = flag.String("session", "", "session id (required)")
	resumeFrom = flag.Uint64("resume", 0, "last acknowledged sequence to resume from")
	follow     = flag.Bool("follow", false, "keep streaming after the prompt completes")
	tokenFlag  = flag.String("token", "", "bearer token (default: token file next to config)")
)

// envelope mirrors the wire format of one SSE data payload.
type wireEnvelope struct {
	Sequence uint64          `json:"sequence"`
	Kind     string          `json:"kind"`
	Payload  json.RawMessage `json:"payload"`
}

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: strand-send [flags] [prompt...]")
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, "With a prompt, submits it and streams the response.")
		fmt.Fprintln(os.Stderr, "Without one, attaches to the session's stream (use --resume).")
		fmt.Fprintln(os.Stderr)
		flag.PrintDefaults()
	}
	flag.Parse()

	if *sessionID == "" {
		fmt.Fprintln(os.Stderr, "Error: --session is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, strings.Join(flag.Args(), " ")); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, prompt string) error {
	token := *tokenFlag
	if token == "" {
		token = loadToken()
	}

	if prompt != "" {
		if err := submit(ctx, token, prompt); err != nil {
			return err
		}
	}

	return stream(ctx, token)
}

// loadToken reads the bearer token saved by strand-relay bootstrap.
func loadToken() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	data, err := os.ReadFile(filepath.Join(configDir, "strand", "token"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func submit(ctx context.Context, token, prompt string) error {
	body, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/api/sessions/%s/prompts", *serverAddr, *sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("submitting prompt: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		return nil
	case http.StatusConflict:
		return fmt.Errorf("session %s is busy streaming another prompt", *sessionID)
	case http.StatusGone:
		return fmt.Errorf("session %s is closed", *sessionID)
	default:
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("submit failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
}

func stream(ctx context.Context, token string) error {
	url := fmt.Sprintf("http://%s/api/sessions/%s/events?after=%d", *serverAddr, *sessionID, *resumeFrom)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("opening stream: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("session %s not found", *sessionID)
	case http.StatusRequestedRangeNotSatisfiable:
		return fmt.Errorf("sequence %d is no longer buffered; reconnect without --resume", *resumeFrom)
	default:
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("stream failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var env wireEnvelope
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &env); err != nil {
			continue
		}

		render(&env)
		if terminal(env.Kind) && !*follow {
			return nil
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("reading stream: %w", err)
	}
	return nil
}

func terminal(kind string) bool {
	return kind == "done" || kind == "error"
}

// payloadText extracts a human-readable string from a payload, falling back
// to compact JSON for shapes we don't recognize.
func payloadText(payload json.RawMessage) string {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err == nil {
		for _, key := range []string{"text", "content", "error"} {
			var s string
			if raw, ok := obj[key]; ok && json.Unmarshal(raw, &s) == nil {
				return s
			}
		}
	}
	return string(payload)
}

func render(env *wireEnvelope) {
	gray := color.New(color.FgHiBlack)
	gray.Printf("[%d] ", env.Sequence)

	switch env.Kind {
	case "assistant":
		fmt.Println(payloadText(env.Payload))
	case "system":
		gray.Println(payloadText(env.Payload))
	case "user":
		color.New(color.FgCyan).Println(payloadText(env.Payload))
	case "tool_call":
		color.New(color.FgYellow).Printf("→ tool: %s\n", payloadText(env.Payload))
	case "tool_result":
		gray.Printf("← %s\n", payloadText(env.Payload))
	case "result":
		color.New(color.FgGreen).Println(payloadText(env.Payload))
	case "error":
		color.New(color.FgRed, color.Bold).Printf("error: %s\n", payloadText(env.Payload))
	case "done":
		var done struct {
			Cancelled bool `json:"cancelled"`
		}
		_ = json.Unmarshal(env.Payload, &done)
		if done.Cancelled {
			color.New(color.FgYellow).Println("cancelled")
		} else {
			gray.Println("done")
		}
	default:
		fmt.Printf("%s: %s\n", env.Kind, payloadText(env.Payload))
	}
}
