// Command pilot is the Pilot CLI client.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/GoCodeAlone/pilot/internal/version"
	"github.com/GoCodeAlone/pilot/update"
)

const defaultServer = "http://localhost:9090"

func main() {
	var (
		serverURL = flag.String("server", defaultServer, "pilot server URL")
		token     = flag.String("token", os.Getenv("PILOT_TOKEN"), "JWT auth token")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	cli := &Client{
		BaseURL:    strings.TrimRight(*serverURL, "/"),
		Token:      *token,
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}

	cmd := args[0]
	rest := args[1:]

	var err error
	switch cmd {
	case "version":
		err = cmdVersion(rest)
	case "update":
		err = cmdUpdate(rest)
	case "status":
		err = cli.cmdStatus(rest)
	case "login":
		err = cli.cmdLogin(rest)
	case "tasks":
		err = cli.cmdTasks(rest)
	case "task":
		err = cli.cmdTask(rest)
	case "serve":
		fmt.Fprintln(os.Stderr, "use pilotd to run the server, or `make dev`")
		os.Exit(1)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `pilot — Pilot CLI

Usage:
  pilot [flags] <command> [args]

Flags:
  --server  <url>    server URL (default: http://localhost:9090)
  --token   <token>  JWT auth token (or $PILOT_TOKEN)

Commands:
  version               print version
  update                self-update to the latest release
  status                show server status
  login <user>          obtain a JWT (prompts on stdin for password)
  tasks                 list tasks
  task create <text>    submit a task and start its run
  task show <id>        show one task
  task cancel <id>      cancel a running task
  task turns <id>       show a task's conversation turns
  task events <id>      show a task's run events
`)
}

// --- version ---

func cmdVersion(_ []string) error {
	fmt.Printf("pilot %s (commit %s, built %s)\n",
		version.Version, version.Commit, version.BuildDate)
	return nil
}

// --- update ---

func cmdUpdate(_ []string) error {
	u := update.New(version.Version)
	rel, err := u.CheckForUpdate()
	if err != nil {
		return err
	}
	if rel == nil {
		fmt.Println("already up to date")
		return nil
	}
	fmt.Printf("updating to %s\n", rel.Version)
	if err := u.ApplyUpdate(rel); err != nil {
		return err
	}
	fmt.Println("update applied; restart pilot to use the new version")
	return nil
}

// Client holds HTTP client state for CLI commands.
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// get performs a GET and decodes JSON into v.
func (c *Client) get(path string, v any) error {
	req, err := http.NewRequest(http.MethodGet, c.BaseURL+path, nil)
	if err != nil {
		return err
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// post performs a POST and decodes JSON response into v (may be nil).
func (c *Client) post(path string, body io.Reader, v any) error {
	req, err := http.NewRequest(http.MethodPost, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if v != nil && resp.ContentLength != 0 {
		return json.NewDecoder(resp.Body).Decode(v)
	}
	return nil
}

// --- status ---

func (c *Client) cmdStatus(_ []string) error {
	var result map[string]string
	if err := c.get("/api/status", &result); err != nil {
		return err
	}
	fmt.Printf("status:  %s\n", result["status"])
	fmt.Printf("version: %s\n", result["version"])
	return nil
}

// --- login ---

func (c *Client) cmdLogin(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: pilot login <user>")
	}
	fmt.Fprint(os.Stderr, "password: ")
	var password string
	if _, err := fmt.Scanln(&password); err != nil {
		return fmt.Errorf("read password: %w", err)
	}

	body := fmt.Sprintf(`{"username":%q,"password":%q}`, args[0], password)
	var result map[string]string
	if err := c.post("/api/auth/login", strings.NewReader(body), &result); err != nil {
		return err
	}
	fmt.Println(result["token"])
	return nil
}

// --- tasks ---

func (c *Client) cmdTasks(_ []string) error {
	var tasks []map[string]any
	if err := c.get("/api/tasks", &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("no tasks")
		return nil
	}
	fmt.Printf("%-36s %-40s %-10s %-6s\n", "ID", "TEXT", "STATUS", "CYCLES")
	fmt.Println(strings.Repeat("-", 96))
	for _, t := range tasks {
		fmt.Printf("%-36s %-40s %-10s %-6s\n",
			strVal(t["id"]),
			truncate(strVal(t["text"]), 39),
			strVal(t["status"]),
			strVal(t["cycles"]),
		)
	}
	return nil
}

// --- task subcommands ---

func (c *Client) cmdTask(args []string) error {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: pilot task <create|show|cancel|turns|events> ...")
		os.Exit(1)
	}
	sub := args[0]
	switch sub {
	case "create":
		if len(args) < 2 {
			return fmt.Errorf("usage: pilot task create <text>")
		}
		text := strings.Join(args[1:], " ")
		body := fmt.Sprintf(`{"text":%q}`, text)
		var result map[string]any
		if err := c.post("/api/tasks", strings.NewReader(body), &result); err != nil {
			return err
		}
		fmt.Printf("created task %s\n", strVal(result["id"]))
	case "show":
		if len(args) < 2 {
			return fmt.Errorf("usage: pilot task show <id>")
		}
		var t map[string]any
		if err := c.get("/api/tasks/"+args[1], &t); err != nil {
			return err
		}
		fmt.Printf("id:      %s\n", strVal(t["id"]))
		fmt.Printf("text:    %s\n", strVal(t["text"]))
		fmt.Printf("status:  %s\n", strVal(t["status"]))
		fmt.Printf("cycles:  %s\n", strVal(t["cycles"]))
		if reason := strVal(t["reason"]); reason != "" {
			fmt.Printf("reason:  %s\n", reason)
		}
	case "cancel":
		if len(args) < 2 {
			return fmt.Errorf("usage: pilot task cancel <id>")
		}
		if err := c.post("/api/tasks/"+args[1]+"/cancel", nil, nil); err != nil {
			return err
		}
		fmt.Printf("task %s cancelled\n", args[1])
	case "turns":
		if len(args) < 2 {
			return fmt.Errorf("usage: pilot task turns <id>")
		}
		var turns []map[string]any
		if err := c.get("/api/tasks/"+args[1]+"/turns", &turns); err != nil {
			return err
		}
		for _, turn := range turns {
			line := strVal(turn["text"])
			if line == "" && strVal(turn["image_format"]) != "" {
				line = "[screenshot]"
			}
			fmt.Printf("%3s %-10s %s\n", strVal(turn["seq"]), strVal(turn["role"]), line)
		}
	case "events":
		if len(args) < 2 {
			return fmt.Errorf("usage: pilot task events <id>")
		}
		var events []map[string]any
		if err := c.get("/api/tasks/"+args[1]+"/events", &events); err != nil {
			return err
		}
		for _, ev := range events {
			detail := strVal(ev["detail"])
			if detail == "" {
				detail = strVal(ev["action"])
			}
			fmt.Printf("%-20s cycle=%-3s %s\n", strVal(ev["type"]), strVal(ev["cycle"]), detail)
		}
	default:
		return fmt.Errorf("unknown task subcommand: %s", sub)
	}
	return nil
}

// --- helpers ---

func strVal(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
