// Command energymgrctl is a small interactive REPL for operators: list scheduled devices, force an
// immediate scheduler recalculation, reset a device's energy debt, and toggle the PBC orchestrator's
// actions-enabled flag. It talks to the dashboard HTTP API and is an operational convenience, not part of
// the control loop itself.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

const requestTimeout = 5 * time.Second

// readlineWriter redirects log output through the active readline prompt so command output and log lines
// never interleave mid-line.
type readlineWriter struct {
	rl *readline.Instance
}

func (w *readlineWriter) Write(p []byte) (n int, err error) {
	if w.rl != nil {
		w.rl.Clean()
	}
	n, err = os.Stderr.Write(p)
	if w.rl != nil {
		w.rl.Refresh()
	}
	return n, err
}

// client wraps HTTP calls to the dashboard API (dashboard package's RegisterRoutes endpoints).
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: requestTimeout}}
}

func (c *client) get(path string, out any) error {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func (c *client) post(path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}
	resp, err := c.http.Post(c.baseURL+path, "application/json", reader)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func decodeOrError(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("%s: %s", resp.Status, errBody.Error)
		}
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type snapshot struct {
	CalculatedAt   time.Time     `json:"calculated_at"`
	WeatherAvgTemp float64       `json:"weather"`
	Package        string        `json:"package"`
	Devices        []deviceEntry `json:"devices"`
	Prices         []priceEntry  `json:"prices"`
}

type deviceEntry struct {
	Name       string `json:"name"`
	EnergyDebt int    `json:"energy_debt"`
}

type priceEntry struct {
	TotalPrice float64 `json:"total_price"`
	SlotIndex  int     `json:"slot_index"`
}

func listDevices(c *client) {
	var snap snapshot
	if err := c.get("/load_scheduler_data", &snap); err != nil {
		log.Printf("Error: %v", err)
		return
	}
	names := make([]string, 0, len(snap.Devices))
	debts := make(map[string]int, len(snap.Devices))
	for _, d := range snap.Devices {
		names = append(names, d.Name)
		debts[d.Name] = d.EnergyDebt
	}
	sort.Strings(names)
	fmt.Printf("Devices as of %s (package %s, weather avg %.1f°C):\n", snap.CalculatedAt.Format(time.RFC3339), snap.Package, snap.WeatherAvgTemp)
	for _, name := range names {
		fmt.Printf("  %-24s energy_debt=%d\n", name, debts[name])
	}
}

func recalculate(c *client) {
	var resp struct {
		Success bool `json:"success"`
	}
	if err := c.post("/recalculate", nil, &resp); err != nil {
		log.Printf("Error: %v", err)
		return
	}
	log.Println("Scheduler recalculation triggered")
}

func resetDebt(c *client, deviceName string) {
	var req any
	if deviceName != "" {
		req = map[string]string{"device_name": deviceName}
	}
	var resp struct {
		ResetCount int      `json:"reset_count"`
		Devices    []string `json:"devices"`
	}
	if err := c.post("/load_scheduler_reset_debt", req, &resp); err != nil {
		log.Printf("Error: %v", err)
		return
	}
	log.Printf("Reset energy debt for %d device(s): %s", resp.ResetCount, strings.Join(resp.Devices, ", "))
}

func getActionsEnabled(c *client) {
	var resp struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.get("/actions_enabled", &resp); err != nil {
		log.Printf("Error: %v", err)
		return
	}
	log.Printf("Actions enabled: %v", resp.Enabled)
}

func setActionsEnabled(c *client, enabled bool) {
	var resp struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.post("/actions_enabled", map[string]bool{"enabled": enabled}, &resp); err != nil {
		log.Printf("Error: %v", err)
		return
	}
	log.Printf("Actions enabled: %v", resp.Enabled)
}

func handleCommand(cmd string, c *client) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return
	}

	switch parts[0] {
	case "list":
		listDevices(c)
	case "recalc":
		recalculate(c)
	case "reset-debt":
		device := ""
		if len(parts) > 1 {
			device = parts[1]
		}
		resetDebt(c, device)
	case "actions":
		if len(parts) < 2 {
			getActionsEnabled(c)
			return
		}
		switch parts[1] {
		case "on":
			setActionsEnabled(c, true)
		case "off":
			setActionsEnabled(c, false)
		default:
			log.Println("Usage: actions [on|off]")
		}
	case "help":
		printHelp()
	default:
		log.Printf("Unknown command: %s (try 'help')", parts[0])
	}
}

func printHelp() {
	fmt.Println("Commands:")
	fmt.Println("  list                  - List scheduled devices and their energy debt")
	fmt.Println("  recalc                - Force an immediate scheduler recalculation")
	fmt.Println("  reset-debt [device]   - Reset energy debt (all devices if name omitted)")
	fmt.Println("  actions [on|off]      - Show or toggle the actions-enabled flag")
	fmt.Println("  help                  - Show this help")
}

func getHistoryFilePath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		cacheDir = filepath.Join(home, ".cache")
	}
	ctlCache := filepath.Join(cacheDir, "energymgrctl")
	_ = os.MkdirAll(ctlCache, 0750)
	return filepath.Join(ctlCache, "history")
}

func main() {
	addr := flag.String("addr", "http://localhost:8080", "base URL of the dashboard API")
	flag.Parse()

	c := newClient(*addr)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:      "energymgrctl> ",
		HistoryFile: getHistoryFilePath(),
	})
	if err != nil {
		log.Fatalf("readline init failed: %v", err)
	}
	defer rl.Close()

	rlWriter := &readlineWriter{rl: rl}
	log.SetOutput(rlWriter)

	log.Println("Connected to", *addr, "(type 'help' for commands)")

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}
		handleCommand(line, c)
	}
}
