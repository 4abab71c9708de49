package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
)

const usage = `tgctl - tradegate command line client

Usage:
  tgctl [flags] status
  tgctl [flags] logs [lines]
  tgctl [flags] signals
  tgctl [flags] command <name> [params-json]
  tgctl [flags] audit [limit]
  tgctl [flags] token
  tgctl [flags] watch

Flags:
  -addr     REST base URL (default http://127.0.0.1:8081, env TRADEGATE_ADDR)
  -ws-addr  WebSocket base URL (default ws://127.0.0.1:8082, env TRADEGATE_WS_ADDR)
  -key      API key (env TRADEGATE_API_KEY)
`

func main() {
	_ = godotenv.Load()

	addr := flag.String("addr", envOr("TRADEGATE_ADDR", "http://127.0.0.1:8081"), "REST base URL")
	wsAddr := flag.String("ws-addr", envOr("TRADEGATE_WS_ADDR", "ws://127.0.0.1:8082"), "WebSocket base URL")
	key := flag.String("key", os.Getenv("TRADEGATE_API_KEY"), "API key")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cli := &client{addr: *addr, wsAddr: *wsAddr, key: *key, http: &http.Client{Timeout: 35 * time.Second}}

	var err error
	switch args[0] {
	case "status":
		err = cli.get("/remote/status")
	case "logs":
		path := "/remote/logs"
		if len(args) > 1 {
			path += "?lines=" + args[1]
		}
		err = cli.get(path)
	case "signals":
		err = cli.get("/remote/signals")
	case "command":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "command name is required")
			os.Exit(2)
		}
		params := "{}"
		if len(args) > 2 {
			params = args[2]
		}
		err = cli.command(args[1], params)
	case "audit":
		path := "/remote/audit"
		if len(args) > 1 {
			path += "?limit=" + args[1]
		}
		err = cli.get(path)
	case "token":
		err = cli.post("/remote/auth/token", nil)
	case "watch":
		err = cli.watch()
	default:
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "tgctl: %v\n", err)
		os.Exit(1)
	}
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

type client struct {
	addr   string
	wsAddr string
	key    string
	http   *http.Client
}

func (c *client) get(path string) error {
	req, err := http.NewRequest(http.MethodGet, c.addr+path, nil)
	if err != nil {
		return err
	}
	return c.do(req)
}

func (c *client) post(path string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, c.addr+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

func (c *client) command(name, params string) error {
	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(params), &parsed); err != nil {
		return fmt.Errorf("params must be a JSON object: %w", err)
	}
	body, err := json.Marshal(map[string]interface{}{"command": name, "parameters": parsed})
	if err != nil {
		return err
	}
	return c.post("/remote/command", body)
}

func (c *client) do(req *http.Request) error {
	req.Header.Set("X-API-Key", c.key)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	printJSON(data)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}

// watch streams status broadcasts until interrupted.
func (c *client) watch() error {
	conn, _, err := websocket.DefaultDialer.Dial(c.wsAddr+"/ws", nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "auth", "api_key": c.key}); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		printJSON(data)
	}
}

func printJSON(data []byte) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return
	}
	fmt.Println(buf.String())
}
