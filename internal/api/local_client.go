package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Errors reported by the local language server client.
var (
	ErrProcessNotFound  = errors.New("local: language server process not found")
	ErrPortNotFound     = errors.New("local: no listening port found")
	ErrConnectionFailed = errors.New("local: connection failed")
	ErrInvalidResponse  = errors.New("local: invalid response")
	ErrNotAuthenticated = errors.New("local: not authenticated")
)

const (
	userStatusPath = "/exa.language_server_pb.LanguageServerService/GetUserStatus"
	probePath      = "/exa.language_server_pb.LanguageServerService/GetUnleashData"
)

// Connection holds verified connection details for the language server.
type Connection struct {
	BaseURL   string
	CSRFToken string
	Port      int
	Protocol  string // "https" or "http"
}

// processInfo is what we learn about the language server from the process table.
type processInfo struct {
	pid       int
	csrfToken string
}

// LocalClient fetches quota data from the Antigravity IDE's local language
// server. The server listens on a random localhost port with a self-signed
// certificate; we locate it via the process table.
type LocalClient struct {
	httpClient *http.Client
	connection *Connection
	logger     *slog.Logger
}

// LocalOption configures a LocalClient.
type LocalOption func(*LocalClient)

// WithConnection sets a pre-verified connection, skipping detection.
func WithConnection(conn *Connection) LocalOption {
	return func(c *LocalClient) {
		c.connection = conn
	}
}

// WithLocalTimeout sets a custom request timeout.
func WithLocalTimeout(d time.Duration) LocalOption {
	return func(c *LocalClient) {
		c.httpClient.Timeout = d
	}
}

// NewLocalClient creates a client for the local language server API.
func NewLocalClient(logger *slog.Logger, opts ...LocalOption) *LocalClient {
	if logger == nil {
		logger = slog.Default()
	}
	client := &LocalClient{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        1,
				MaxIdleConnsPerHost: 1,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: true, // self-signed localhost cert
				},
			},
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Detect finds and verifies a connection to the language server.
func (c *LocalClient) Detect(ctx context.Context) (*Connection, error) {
	if c.connection != nil {
		return c.connection, nil
	}

	proc, err := c.findProcess(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("found language server process", "pid", proc.pid, "hasToken", proc.csrfToken != "")

	ports, err := c.listeningPorts(ctx, proc.pid)
	if err != nil || len(ports) == 0 {
		return nil, ErrPortNotFound
	}
	c.logger.Debug("found listening ports", "ports", ports)

	for _, port := range ports {
		for _, protocol := range []string{"https", "http"} {
			if conn := c.probe(ctx, port, protocol, proc.csrfToken); conn != nil {
				c.connection = conn
				c.logger.Info("connected to language server", "port", conn.Port, "protocol", conn.Protocol)
				return conn, nil
			}
		}
	}
	return nil, ErrConnectionFailed
}

// FetchQuota retrieves the current quota snapshot from the local API.
func (c *LocalClient) FetchQuota(ctx context.Context) (*QuotaSnapshot, error) {
	conn, err := c.Detect(ctx)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	body := `{"metadata":{"ideName":"antigravity","extensionName":"antigravity","locale":"en"}}`
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, conn.BaseURL+userStatusPath, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("local: creating request: %w", err)
	}
	c.setHeaders(req, conn.CSRFToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.connection = nil // force re-detection next time
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.connection = nil
		return nil, fmt.Errorf("local: unexpected status code %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrInvalidResponse, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty response body", ErrInvalidResponse)
	}

	status, err := ParseUserStatusResponse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !status.Authenticated() {
		if status.Message != "" {
			return nil, fmt.Errorf("%w: %s", ErrNotAuthenticated, status.Message)
		}
		return nil, ErrNotAuthenticated
	}

	snapshot := status.ToSnapshot(time.Now().UTC())
	c.logger.Debug("fetched local quota snapshot", "models", len(snapshot.Models), "email", snapshot.Email)
	return snapshot, nil
}

// Reset clears the cached connection, forcing re-detection.
func (c *LocalClient) Reset() {
	c.connection = nil
}

func (c *LocalClient) setHeaders(req *http.Request, csrfToken string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Connect-Protocol-Version", "1")
	if csrfToken != "" {
		req.Header.Set("X-Codeium-Csrf-Token", csrfToken)
	}
}

// probe tests whether a port serves the Connect RPC API.
func (c *LocalClient) probe(ctx context.Context, port int, protocol, csrfToken string) *Connection {
	baseURL := fmt.Sprintf("%s://127.0.0.1:%d", protocol, port)

	reqCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, baseURL+probePath, strings.NewReader(`{"wrapper_data":{}}`))
	if err != nil {
		return nil
	}
	c.setHeaders(req, csrfToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	// A Connect endpoint answers 200 or 401; anything else is some other server.
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized {
		return &Connection{BaseURL: baseURL, CSRFToken: csrfToken, Port: port, Protocol: protocol}
	}
	return nil
}

// findProcess locates the language server in the process table.
func (c *LocalClient) findProcess(ctx context.Context) (*processInfo, error) {
	switch runtime.GOOS {
	case "darwin", "linux":
		return findProcessUnix(ctx)
	case "windows":
		return findProcessWindows(ctx)
	default:
		return nil, fmt.Errorf("local: unsupported platform %s", runtime.GOOS)
	}
}

func findProcessUnix(ctx context.Context) (*processInfo, error) {
	output, err := exec.CommandContext(ctx, "ps", "aux").Output()
	if err != nil {
		return nil, fmt.Errorf("local: ps command failed: %w", err)
	}

	for _, line := range strings.Split(string(output), "\n") {
		if !looksLikeLanguageServer(line) {
			continue
		}
		// ps aux format: USER PID %CPU %MEM VSZ RSS TTY STAT START TIME COMMAND...
		fields := strings.Fields(line)
		if len(fields) < 11 {
			continue
		}
		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		commandLine := strings.Join(fields[10:], " ")
		return &processInfo{pid: pid, csrfToken: extractArgument(commandLine, "--csrf_token")}, nil
	}
	return nil, ErrProcessNotFound
}

func findProcessWindows(ctx context.Context) (*processInfo, error) {
	output, err := exec.CommandContext(ctx, "powershell", "-Command",
		"Get-CimInstance Win32_Process | Where-Object { $_.CommandLine -like '*antigravity*' } | ForEach-Object { \"$($_.ProcessId) $($_.CommandLine)\" }").Output()
	if err != nil {
		return nil, ErrProcessNotFound
	}

	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !looksLikeLanguageServer(line) {
			continue
		}
		parts := strings.SplitN(line, " ", 2)
		if len(parts) < 2 {
			continue
		}
		pid, err := strconv.Atoi(parts[0])
		if err != nil {
			continue
		}
		return &processInfo{pid: pid, csrfToken: extractArgument(parts[1], "--csrf_token")}, nil
	}
	return nil, ErrProcessNotFound
}

// looksLikeLanguageServer reports whether a process-table line belongs to the
// Antigravity language server rather than the IDE shell or install scripts.
func looksLikeLanguageServer(line string) bool {
	lower := strings.ToLower(line)
	if !strings.Contains(lower, "antigravity") {
		return false
	}
	if strings.Contains(lower, "server installation script") {
		return false
	}
	return strings.Contains(line, "language-server") ||
		strings.Contains(line, "language_server") ||
		strings.Contains(line, "--csrf_token") ||
		strings.Contains(line, "exa.language_server_pb")
}

// listeningPorts finds TCP ports the process listens on.
func (c *LocalClient) listeningPorts(ctx context.Context, pid int) ([]int, error) {
	switch runtime.GOOS {
	case "darwin":
		output, err := exec.CommandContext(ctx, "lsof", "-nP", "-iTCP", "-sTCP:LISTEN", "-a", "-p", strconv.Itoa(pid)).Output()
		if err != nil {
			return nil, err
		}
		return parseLsofPorts(string(output)), nil
	case "linux":
		if output, err := exec.CommandContext(ctx, "ss", "-tlnp").Output(); err == nil {
			if ports := parseSSPorts(string(output), pid); len(ports) > 0 {
				return ports, nil
			}
		}
		output, err := exec.CommandContext(ctx, "netstat", "-tlnp").Output()
		if err != nil {
			return nil, err
		}
		return parseNetstatPorts(string(output), pid), nil
	case "windows":
		output, err := exec.CommandContext(ctx, "netstat", "-ano").Output()
		if err != nil {
			return nil, err
		}
		return parseWindowsNetstatPorts(string(output), pid), nil
	default:
		return nil, fmt.Errorf("local: unsupported platform %s", runtime.GOOS)
	}
}

var (
	argEqPattern    = `=([^\s"']+|"[^"]*"|'[^']*')`
	argSpacePattern = `\s+([^\s"']+|"[^"]*"|'[^']*')`
	lsofPortRe      = regexp.MustCompile(`:(\d+)\s+\(LISTEN\)`)
	linePortRe      = regexp.MustCompile(`:(\d+)\s`)
	addrPortRe      = regexp.MustCompile(`:(\d+)$`)
)

// extractArgument pulls a flag value out of a command line, handling both
// "--flag=value" and "--flag value" forms.
func extractArgument(commandLine, argName string) string {
	for _, pattern := range []string{argName + argEqPattern, argName + argSpacePattern} {
		if match := regexp.MustCompile(pattern).FindStringSubmatch(commandLine); len(match) > 1 {
			return strings.Trim(match[1], `"'`)
		}
	}
	return ""
}

func parseLsofPorts(output string) []int {
	var ports []int
	for _, line := range strings.Split(output, "\n") {
		if match := lsofPortRe.FindStringSubmatch(line); len(match) > 1 {
			if port, err := strconv.Atoi(match[1]); err == nil {
				ports = append(ports, port)
			}
		}
	}
	return ports
}

func parseSSPorts(output string, pid int) []int {
	var ports []int
	pidTag := fmt.Sprintf("pid=%d,", pid)
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, pidTag) {
			continue
		}
		if match := linePortRe.FindStringSubmatch(line); len(match) > 1 {
			if port, err := strconv.Atoi(match[1]); err == nil {
				ports = append(ports, port)
			}
		}
	}
	return ports
}

func parseNetstatPorts(output string, pid int) []int {
	var ports []int
	pidTag := fmt.Sprintf("%d/", pid)
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, pidTag) {
			continue
		}
		if match := linePortRe.FindStringSubmatch(line); len(match) > 1 {
			if port, err := strconv.Atoi(match[1]); err == nil {
				ports = append(ports, port)
			}
		}
	}
	return ports
}

func parseWindowsNetstatPorts(output string, pid int) []int {
	var ports []int
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, "LISTENING") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		linePID, err := strconv.Atoi(fields[len(fields)-1])
		if err != nil || linePID != pid {
			continue
		}
		if match := addrPortRe.FindStringSubmatch(fields[1]); len(match) > 1 {
			if port, err := strconv.Atoi(match[1]); err == nil {
				ports = append(ports, port)
			}
		}
	}
	return ports
}
