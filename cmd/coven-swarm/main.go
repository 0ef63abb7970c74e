// ABOUTME: Entry point for the coven-swarm coordination server
// ABOUTME: Subcommands serve, init, health, agents and version

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/2389/coven-swarm/internal/agent"
	"github.com/2389/coven-swarm/internal/config"
	"github.com/2389/coven-swarm/internal/gateway"
	"github.com/2389/coven-swarm/internal/llm"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __        _____      ____ _ _ __ _ __ ___
 / __/ _ \ \ / / _ \ '_ \ _____/ __\ \ /\ / / _' | '__| '_ ' _ \
| (_| (_) \ V /  __/ | | |_____\__ \\ V  V / (_| | |  | | | | | |
 \___\___/ \_/ \___|_| |_|     |___/ \_/\_/ \__,_|_|  |_| |_| |_|
`

const clientTimeout = 10 * time.Second

func usage() {
	fmt.Println("Usage: coven-swarm <command> [--config PATH]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve      Start the swarm server")
	fmt.Println("  init       Write a default config file")
	fmt.Println("  health     Check server health")
	fmt.Println("  agents     List agents on a running server")
	fmt.Println("  version    Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd, args := os.Args[1], os.Args[2:]

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx, args)
	case "init":
		err = runInit(args)
	case "health":
		err = runHealth(ctx, args)
	case "agents":
		err = runAgents(ctx, args)
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses the flags shared by every subcommand.
func parseFlags(name string, args []string) (configPath string, force bool, err error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "path to config file (yaml or toml)")
	fs.BoolVar(&force, "force", false, "overwrite an existing config file (init only)")
	if err := fs.Parse(args); err != nil {
		return "", false, err
	}
	if fs.NArg() > 0 {
		return "", false, fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}
	return config.ResolvePath(configPath), force, nil
}

func loadConfig(name string, args []string) (*config.Config, string, error) {
	path, _, err := parseFlags(name, args)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func runServe(ctx context.Context, args []string) error {
	cfg, configPath, err := loadConfig("serve", args)
	if err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Print("LLM:       ")
	if (llm.Config{APIKey: cfg.LLM.APIKey}).Simulated() {
		yellow.Println("simulated (no api key)")
	} else {
		fmt.Println(cfg.LLM.DefaultModel)
	}
	if cfg.Redis.Addr != "" {
		green.Print("    ▶ ")
		fmt.Printf("Redis:     %s ", cfg.Redis.Addr)
		gray.Printf("(%s)\n", cfg.Redis.Channel)
	}
	if cfg.Policy.RulesFile != "" {
		green.Print("    ▶ ")
		fmt.Printf("Rules:     %s\n", cfg.Policy.RulesFile)
	}
	fmt.Println()

	logger.Info("starting coven-swarm",
		"version", version,
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runInit(args []string) error {
	path, force, err := parseFlags("init", args)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config path: %w", err)
	}

	data, err := config.Default().Marshal()
	if err != nil {
		return fmt.Errorf("rendering config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	header := []byte("# coven-swarm configuration\n# Generated by coven-swarm init\n\n")
	if err := os.WriteFile(path, append(header, data...), 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("✓ ")
	fmt.Printf("Config written to %s\n", path)
	return nil
}

// serverURL builds a client URL for the configured listen address. Wildcard
// hosts are replaced with loopback.
func serverURL(addr, path string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + path
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + path
}

func get(ctx context.Context, url string) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, clientTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func runHealth(ctx context.Context, args []string) error {
	cfg, _, err := loadConfig("health", args)
	if err != nil {
		return err
	}

	body, status, err := get(ctx, serverURL(cfg.Server.HTTPAddr, "/health/ready"))
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", status)
	}

	var ready gateway.ReadyResponse
	if err := json.Unmarshal(body, &ready); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	color.New(color.FgGreen).Print("healthy")
	fmt.Printf(" agents=%d observers=%d mission_active=%t\n", ready.Agents, ready.Observers, ready.MissionActive)
	return nil
}

func runAgents(ctx context.Context, args []string) error {
	cfg, _, err := loadConfig("agents", args)
	if err != nil {
		return err
	}

	body, status, err := get(ctx, serverURL(cfg.Server.HTTPAddr, "/api/agents"))
	if err != nil {
		return fmt.Errorf("agents request failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("agents request failed: status %d", status)
	}

	if !isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Println(string(body))
		return nil
	}

	var agents []agent.Agent
	if err := json.Unmarshal(body, &agents); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return printAgents(os.Stdout, agents)
}

func printAgents(w io.Writer, agents []agent.Agent) error {
	if len(agents) == 0 {
		_, err := fmt.Fprintln(w, "no agents")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tROLE\tSTATUS\tPROGRESS\tTASKS\tFINDINGS\tLAST COMMAND")
	for _, a := range agents {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%d\t%d\t%s\n",
			a.Name, a.Role, statusColor(a.Status), a.Progress, a.TaskCount, a.Findings, a.LastCommand)
	}
	return tw.Flush()
}

func statusColor(s agent.Status) string {
	switch s {
	case agent.StatusRunning:
		return color.GreenString(string(s))
	case agent.StatusPaused:
		return color.YellowString(string(s))
	case agent.StatusError:
		return color.RedString(string(s))
	case agent.StatusComplete:
		return color.CyanString(string(s))
	default:
		return string(s)
	}
}
