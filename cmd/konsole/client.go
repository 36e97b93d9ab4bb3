package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	flag "github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/ernie/konsole/internal/config"
	"github.com/ernie/konsole/internal/domain"
)

// envToken overrides the stored API token
const envToken = "KONSOLE_TOKEN"

// CLI helper variables
var (
	baseURL = "http://localhost:8080"
	dbPath  string
)

// loadCLIConfigFromFlags loads config using pre-parsed flag values
func loadCLIConfigFromFlags(configPath, url string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", configPath, err)
		dbPath = "/var/lib/konsole/konsole.db"
		if url != "" {
			baseURL = url
		}
		return nil
	}

	dbPath = cfg.Database.Path
	// Derive URL from config, but allow --url flag to override
	if url != "" {
		baseURL = url
	} else {
		baseURL = fmt.Sprintf("http://%s:%d", cfg.Server.ListenAddr, cfg.Server.HTTPPort)
	}
	return cfg
}

// cliFlags returns a flag set carrying the global --config and --url options
func cliFlags(name string) (*flag.FlagSet, *string, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the konsole server")
	return fs, configPath, url
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

// tokenPath is where login stores the API token
func tokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "konsole", "token"), nil
}

func loadToken() string {
	if t := os.Getenv(envToken); t != "" {
		return t
	}
	path, err := tokenPath()
	if err != nil {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func saveToken(token string) (string, error) {
	path, err := tokenPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", err
	}
	return path, os.WriteFile(path, []byte(token+"\n"), 0600)
}

// apiRequest sends body as JSON and decodes a successful response into target
func apiRequest(method, path string, body, target any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := loadToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func getJSON(path string, target any) error {
	return apiRequest(http.MethodGet, path, nil, target)
}

func cmdStatus(args []string) {
	fs, configPath, urlFlag := cliFlags("status")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, *urlFlag)

	var health struct {
		Manager domain.ManagerStatus `json:"manager"`
	}
	if err := getJSON("/health", &health); err != nil {
		fail(err)
	}

	var full domain.FullStatus
	if err := getJSON("/api/status/fullServerStatus", &struct {
		Value *domain.FullStatus `json:"value"`
	}{&full}); err != nil {
		fail(err)
	}
	var maintenance struct {
		Value bool `json:"value"`
	}
	if err := getJSON("/api/status/maintenanceStatus", &maintenance); err != nil {
		fail(err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Server:\t%s\n", orDash(string(full.Status)))
	fmt.Fprintf(w, "Players:\t%s\n", orDash(full.PlayersOnline))
	if full.Status == domain.StatusInQueue {
		fmt.Fprintf(w, "Queue:\t%s (ETA %s)\n", orDash(full.QueuePosition), orDash(full.QueueETA))
	}
	if full.Address != "" {
		fmt.Fprintf(w, "Address:\t%s\n", full.Address)
	}
	fmt.Fprintf(w, "Maintenance:\t%s\n", onOff(maintenance.Value))
	fmt.Fprintf(w, "Manager:\t%s\n", health.Manager)
	w.Flush()
}

func cmdAction(action string, args []string) {
	fs, configPath, urlFlag := cliFlags(action)
	wait := fs.Duration("wait", 0, "wait this long for the server to settle")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, *urlFlag)

	path := "/api/server/" + action
	if *wait > 0 {
		path += "?wait=" + wait.String()
	}

	var resp struct {
		OK       bool                `json:"ok"`
		Deferred bool                `json:"deferred"`
		Status   domain.ServerStatus `json:"status"`
	}
	if err := apiRequest(http.MethodPost, path, nil, &resp); err != nil {
		fail(err)
	}

	switch {
	case resp.Deferred:
		fmt.Printf("The console is not ready; %s will run once it is\n", action)
	case resp.Status != "":
		fmt.Printf("Server is %s\n", resp.Status)
		if !resp.OK {
			os.Exit(1)
		}
	default:
		fmt.Printf("Sent %s\n", action)
	}
}

func cmdMaintenance(args []string) {
	fs, configPath, urlFlag := cliFlags("maintenance")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, *urlFlag)

	rest := fs.Args()
	if len(rest) != 1 || (rest[0] != "on" && rest[0] != "off") {
		fail(errors.New("usage: konsole maintenance on|off"))
	}
	enabled := rest[0] == "on"

	if err := apiRequest(http.MethodPost, "/api/maintenance", map[string]bool{"enabled": enabled}, nil); err != nil {
		fail(err)
	}
	fmt.Printf("Maintenance mode %s\n", onOff(enabled))
}

func cmdBackups(args []string) {
	if len(args) < 1 {
		fail(errors.New("backups subcommand required: list, create, delete, prune"))
	}
	subCmd := args[0]
	fs, configPath, urlFlag := cliFlags("backups " + subCmd)
	fs.Parse(args[1:])
	loadCLIConfigFromFlags(*configPath, *urlFlag)
	rest := fs.Args()

	switch subCmd {
	case "list":
		var list domain.BackupList
		if err := getJSON("/api/backups", &list); err != nil {
			fail(err)
		}
		if len(list.Files) == 0 {
			fmt.Println("No backups")
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tCREATED\tSIZE")
		fmt.Fprintln(w, "----\t-------\t----")
		for _, b := range list.Files {
			fmt.Fprintf(w, "%s\t%s\t%s\n", b.Name, b.CreatedAt.Local().Format("2006-01-02 15:04"), orDash(b.Size))
		}
		w.Flush()
		fmt.Printf("\nQuota: %s\n", orDash(list.QuotaUsage))
	case "create":
		var name string
		if len(rest) > 0 {
			name = strings.Join(rest, " ")
		}
		if err := apiRequest(http.MethodPost, "/api/backups", map[string]string{"name": name}, nil); err != nil {
			fail(err)
		}
		fmt.Println("Backup created")
	case "delete":
		if len(rest) < 1 {
			fail(errors.New("usage: konsole backups delete <name>"))
		}
		name := strings.Join(rest, " ")
		if err := apiRequest(http.MethodDelete, "/api/backups/"+url.PathEscape(name), nil, nil); err != nil {
			fail(err)
		}
		fmt.Printf("Backup '%s' deleted\n", name)
	case "prune":
		var resp struct {
			Deleted []string `json:"deleted"`
		}
		if err := apiRequest(http.MethodPost, "/api/backups/prune", nil, &resp); err != nil {
			fail(err)
		}
		if len(resp.Deleted) == 0 {
			fmt.Println("Nothing to prune")
			return
		}
		for _, name := range resp.Deleted {
			fmt.Printf("Deleted '%s'\n", name)
		}
	default:
		fail(fmt.Errorf("unknown backups command: %s (use: list, create, delete, prune)", subCmd))
	}
}

func cmdHistory(args []string) {
	fs, configPath, urlFlag := cliFlags("history")
	trackerName := fs.String("tracker", "", "only show this tracker")
	limit := fs.Int("limit", 20, "number of entries")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, *urlFlag)

	q := fmt.Sprintf("/api/history?limit=%d", *limit)
	if *trackerName != "" {
		q += "&tracker=" + *trackerName
	}
	var transitions []domain.Transition
	if err := getJSON(q, &transitions); err != nil {
		fail(err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTRACKER\tPREVIOUS\tCURRENT\tFORCED")
	fmt.Fprintln(w, "----\t-------\t--------\t-------\t------")
	for _, t := range transitions {
		prev := "-"
		if t.HasPrevious {
			prev = string(t.Previous)
		}
		forced := ""
		if t.Forced {
			forced = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", formatTime(t.At), t.Tracker, prev, string(t.Current), forced)
	}
	w.Flush()
}

func cmdActions(args []string) {
	fs, configPath, urlFlag := cliFlags("actions")
	action := fs.String("action", "", "only show this action")
	limit := fs.Int("limit", 20, "number of entries")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, *urlFlag)

	q := fmt.Sprintf("/api/actions?limit=%d", *limit)
	if *action != "" {
		q += "&action=" + *action
	}
	var records []domain.ActionRecord
	if err := getJSON(q, &records); err != nil {
		fail(err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tBY\tTARGET\tRESULT")
	fmt.Fprintln(w, "----\t------\t--\t------\t------")
	for _, r := range records {
		result := "ok"
		if !r.OK {
			result = r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", formatTime(r.At), r.Action, orDash(r.By), orDash(r.Target), result)
	}
	w.Flush()
}

func cmdLogin(args []string) {
	fs, configPath, urlFlag := cliFlags("login")
	fs.Parse(args)
	loadCLIConfigFromFlags(*configPath, *urlFlag)

	rest := fs.Args()
	if len(rest) < 1 {
		fail(errors.New("usage: konsole login <username>"))
	}

	fmt.Print("Password: ")
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		fail(fmt.Errorf("failed to read password: %w", err))
	}

	var resp struct {
		Token   string `json:"token"`
		IsAdmin bool   `json:"is_admin"`
	}
	body := map[string]string{"username": rest[0], "password": string(password)}
	if err := apiRequest(http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		fail(err)
	}

	path, err := saveToken(resp.Token)
	if err != nil {
		fail(fmt.Errorf("failed to store token: %w", err))
	}
	role := "user"
	if resp.IsAdmin {
		role = "admin"
	}
	fmt.Printf("Logged in as '%s' (%s, token stored in %s)\n", rest[0], role, path)
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
