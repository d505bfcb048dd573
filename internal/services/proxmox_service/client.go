package proxmox_service

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"vm-provisioner/internal/config"

	proxmox "github.com/luthermonson/go-proxmox"
	"github.com/sirupsen/logrus"
	"k8s.io/apimachinery/pkg/util/wait"
)

// ProxmoxService 는 go-proxmox 클라이언트 위에 얹은 얇은 어댑터입니다.
// 오류 분류(TransientNetworkError / RemoteAPIError)와 UPID 정규화만 여기서 하고,
// 재시도/대기 로직은 상위 서비스(provision_service)가 담당합니다.
type ProxmoxService struct {
	api          *proxmox.Client
	creds        *proxmox.Credentials
	baseURL      string
	pollInterval time.Duration
}

// Options configures NewProxmoxService.
type Options struct {
	// BaseURL overrides Host/Port, e.g. "http://127.0.0.1:38001" in tests.
	BaseURL     string
	Host        string
	Port        int
	User        string
	Password    string
	TokenID     string
	TokenSecret string
	VerifySSL   bool
	Timeout     time.Duration
	// TaskPollInterval is used by WaitTask. Defaults to 1s.
	TaskPollInterval time.Duration
	HTTPClient       *http.Client
}

// NewProxmoxService 는 인증 정보를 검증하고 클라이언트를 생성합니다.
// 프로세스당 한 번 만들어서 Provisioner / Discoverer 에 주입합니다.
func NewProxmoxService(opts Options) (*ProxmoxService, error) {
	base := opts.BaseURL
	if base == "" {
		if opts.Host == "" {
			return nil, fmt.Errorf("proxmox host is required")
		}
		port := opts.Port
		if port == 0 {
			port = 8006
		}
		base = "https://" + net.JoinHostPort(opts.Host, strconv.Itoa(port))
	}
	if opts.TokenID == "" && opts.User == "" {
		return nil, fmt.Errorf("proxmox credentials are required (PROXMOX_USER/PROXMOX_PASSWORD or PROXMOX_TOKEN_ID/PROXMOX_TOKEN_SECRET)")
	}
	base = strings.TrimRight(base, "/") + "/api2/json"

	var httpClient http.Client
	if opts.HTTPClient != nil {
		httpClient = *opts.HTTPClient
	} else {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		if !opts.VerifySSL {
			// Proxmox 기본 설치는 self-signed 인증서를 사용
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		}
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = http.Client{Transport: transport, Timeout: timeout}
	}
	next := httpClient.Transport
	if next == nil {
		next = http.DefaultTransport
	}
	httpClient.Transport = &statusTransport{next: next}

	clientOpts := []proxmox.Option{
		proxmox.WithHTTPClient(&httpClient),
		proxmox.WithLogger(logrus.WithField("component", "go-proxmox")),
	}
	var creds *proxmox.Credentials
	if opts.TokenID != "" {
		clientOpts = append(clientOpts, proxmox.WithAPIToken(opts.TokenID, opts.TokenSecret))
	} else {
		creds = &proxmox.Credentials{Username: opts.User, Password: opts.Password}
		clientOpts = append(clientOpts, proxmox.WithCredentials(creds))
	}

	poll := opts.TaskPollInterval
	if poll <= 0 {
		poll = time.Second
	}

	return &ProxmoxService{
		api:          proxmox.NewClient(base, clientOpts...),
		creds:        creds,
		baseURL:      base,
		pollInterval: poll,
	}, nil
}

// NewFromConfig builds a client from the PROXMOX_* settings.
func NewFromConfig(cfg config.ProxmoxConfig) (*ProxmoxService, error) {
	return NewProxmoxService(Options{
		Host:        cfg.Host,
		Port:        cfg.Port,
		User:        cfg.User,
		Password:    cfg.Password,
		TokenID:     cfg.TokenID,
		TokenSecret: cfg.TokenSecret,
		VerifySSL:   cfg.VerifySSL,
		Timeout:     cfg.Timeout,
	})
}

// NextID returns the next free VMID of the cluster.
func (s *ProxmoxService) NextID(ctx context.Context) (int, error) {
	var raw json.RawMessage
	err := s.call(ctx, "nextid", func() error {
		return s.api.Get(ctx, "/cluster/nextid", &raw)
	})
	if err != nil {
		return 0, err
	}
	// Proxmox 는 "101" 처럼 문자열로 돌려주지만 숫자가 오는 경우도 처리
	text := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	id, err := strconv.Atoi(text)
	if err != nil {
		return 0, &RemoteAPIError{Op: "nextid", StatusCode: http.StatusOK, Message: fmt.Sprintf("unexpected nextid %q", text)}
	}
	return id, nil
}

// CloneTemplate starts a full clone of templateID into newID.
func (s *ProxmoxService) CloneTemplate(ctx context.Context, node string, templateID, newID int, name, target string) (UPID, error) {
	params := map[string]any{
		"newid": newID,
		"name":  name,
		"full":  1,
	}
	setIf(params, "target", target)
	return s.postTask(ctx, "clone", s.qemuPath(node, templateID, "/clone"), params)
}

// CreateVM starts creation of a new VM from scratch.
func (s *ProxmoxService) CreateVM(ctx context.Context, node string, params CreateParams) (UPID, error) {
	return s.postTask(ctx, "create", fmt.Sprintf("/nodes/%s/qemu", url.PathEscape(node)), params.params())
}

// ConfigureGuest applies cloud-init identity and other options to an existing VM.
func (s *ProxmoxService) ConfigureGuest(ctx context.Context, node string, vmid int, cfg GuestConfig) (UPID, error) {
	return s.postTask(ctx, "config", s.qemuPath(node, vmid, "/config"), cfg.params())
}

func (s *ProxmoxService) StartVM(ctx context.Context, node string, vmid int) (UPID, error) {
	return s.postTask(ctx, "start", s.qemuPath(node, vmid, "/status/start"), map[string]any{})
}

// DeleteVM destroys a VM together with its disks.
func (s *ProxmoxService) DeleteVM(ctx context.Context, node string, vmid int) (UPID, error) {
	query := url.Values{}
	query.Set("purge", "1")
	query.Set("destroy-unreferenced-disks", "1")
	path := s.qemuPath(node, vmid, "") + "?" + query.Encode()

	var raw json.RawMessage
	err := s.call(ctx, "delete", func() error {
		return s.api.Delete(ctx, path, &raw)
	})
	if err != nil {
		return "", err
	}
	return s.normalizeUPID("delete", raw)
}

func (s *ProxmoxService) TaskStatus(ctx context.Context, node string, upid UPID) (TaskStatus, error) {
	task := proxmox.NewTask(proxmox.UPID(upid), s.api)
	task.Node = node
	err := s.call(ctx, "task status", func() error {
		return task.Ping(ctx)
	})
	if err != nil {
		return TaskStatus{}, err
	}
	return TaskStatus{Status: task.Status, ExitStatus: task.ExitStatus, Node: node}, nil
}

// WaitTask blocks until the task stops or timeout elapses.
// A task still running at the deadline returns ErrTaskTimeout; a failed
// status call aborts the wait with that error.
func (s *ProxmoxService) WaitTask(ctx context.Context, node string, upid UPID, timeout time.Duration) (TaskStatus, error) {
	var last TaskStatus
	err := wait.PollUntilContextTimeout(ctx, s.pollInterval, timeout, true, func(pollCtx context.Context) (bool, error) {
		st, err := s.TaskStatus(pollCtx, node, upid)
		if err != nil {
			if pollCtx.Err() != nil {
				// 타임아웃 중에 끊긴 요청은 실패가 아니라 타임아웃으로 처리
				return false, nil
			}
			return false, err
		}
		last = st
		return st.Stopped(), nil
	})
	switch {
	case err == nil:
		return last, nil
	case ctx.Err() != nil:
		return last, ctx.Err()
	case wait.Interrupted(err):
		return last, ErrTaskTimeout
	default:
		return last, err
	}
}

// GuestNetworkInterfaces asks the QEMU guest agent for the guest's interfaces.
func (s *ProxmoxService) GuestNetworkInterfaces(ctx context.Context, node string, vmid int) ([]GuestInterface, error) {
	var out struct {
		Result []GuestInterface `json:"result"`
	}
	err := s.call(ctx, "agent network-get-interfaces", func() error {
		return s.api.Get(ctx, s.qemuPath(node, vmid, "/agent/network-get-interfaces"), &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (s *ProxmoxService) GuestHostname(ctx context.Context, node string, vmid int) (string, error) {
	var out struct {
		Result struct {
			HostName string `json:"host-name"`
		} `json:"result"`
	}
	err := s.call(ctx, "agent get-host-name", func() error {
		return s.api.Get(ctx, s.qemuPath(node, vmid, "/agent/get-host-name"), &out)
	})
	if err != nil {
		return "", err
	}
	return out.Result.HostName, nil
}

func (s *ProxmoxService) VMConfig(ctx context.Context, node string, vmid int) (VMConfig, error) {
	cfg := VMConfig{}
	err := s.call(ctx, "vm config", func() error {
		return s.api.Get(ctx, s.qemuPath(node, vmid, "/config"), &cfg)
	})
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Version is used by the health check.
func (s *ProxmoxService) Version(ctx context.Context) (Version, error) {
	var v *proxmox.Version
	err := s.call(ctx, "version", func() error {
		var err error
		v, err = s.api.Version(ctx)
		return err
	})
	if err != nil || v == nil {
		return Version{}, err
	}
	return Version{Version: v.Version, Release: v.Release, RepoID: v.RepoID}, nil
}

func (s *ProxmoxService) qemuPath(node string, vmid int, suffix string) string {
	return fmt.Sprintf("/nodes/%s/qemu/%d%s", url.PathEscape(node), vmid, suffix)
}

// postTask performs a POST whose data is a task handle and normalizes it.
func (s *ProxmoxService) postTask(ctx context.Context, op, path string, params map[string]any) (UPID, error) {
	var raw json.RawMessage
	err := s.call(ctx, op, func() error {
		return s.api.Post(ctx, path, params, &raw)
	})
	if err != nil {
		return "", err
	}
	return s.normalizeUPID(op, raw)
}

func (s *ProxmoxService) normalizeUPID(op string, raw json.RawMessage) (UPID, error) {
	upid, err := parseUPID(raw)
	if err != nil {
		return "", &RemoteAPIError{Op: op, StatusCode: http.StatusOK, Message: err.Error()}
	}
	return upid, nil
}

// call runs one library request and classifies its error. With user/password
// auth a 401 (no ticket yet, or ticket expired after 2h) logs in once and retries.
func (s *ProxmoxService) call(ctx context.Context, op string, fn func() error) error {
	logrus.WithField("op", op).Debug("proxmox request")

	err := classifyError(ctx, op, fn())
	if s.creds == nil || !IsRemoteAPIError(err, http.StatusUnauthorized) {
		return err
	}
	if _, loginErr := s.api.Ticket(ctx, s.creds); loginErr != nil {
		return classifyError(ctx, "login", loginErr)
	}
	return classifyError(ctx, op, fn())
}

// classifyError maps library errors onto TransientNetworkError / RemoteAPIError,
// except cancellation by the caller which is returned as is.
func classifyError(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("proxmox %s: %w", op, ctxErr)
	}

	var apiErr *RemoteAPIError
	if errors.As(err, &apiErr) {
		classified := *apiErr
		classified.Op = op
		return &classified
	}
	var netErr *TransientNetworkError
	if errors.As(err, &netErr) {
		return &TransientNetworkError{Op: op, Err: netErr.Err}
	}
	var urlErr *url.Error
	var opErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &opErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &TransientNetworkError{Op: op, Err: err}
	}
	// 응답은 받았지만 해석할 수 없음 (malformed body 등)
	return &RemoteAPIError{Op: op, Message: err.Error()}
}

// statusTransport turns HTTP error responses into typed errors before the
// library sees them, so the status code and Proxmox's reason survive.
type statusTransport struct {
	next http.RoundTripper
}

func (t *statusTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.next.RoundTrip(req)
	if err != nil || resp.StatusCode < http.StatusBadRequest {
		return resp, err
	}
	defer resp.Body.Close()

	var env struct {
		Errors  map[string]string `json:"errors,omitempty"`
		Message string            `json:"message,omitempty"`
	}
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = json.Unmarshal(payload, &env)

	// Proxmox 는 오류 사유를 HTTP status line 에 담아 보냄 ("500 VM 100 already exists")
	msg := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if env.Message != "" {
		msg = strings.TrimSpace(env.Message)
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, &TransientNetworkError{Err: fmt.Errorf("HTTP %d %s", resp.StatusCode, msg)}
	}
	return nil, &RemoteAPIError{StatusCode: resp.StatusCode, Message: msg, Errors: env.Errors}
}

// parseUPID flattens the shapes Proxmox uses for task handles:
// a bare string, null, or an object carrying "upid" or "data".
func parseUPID(raw json.RawMessage) (UPID, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}

	var s string
	if err := json.Unmarshal([]byte(trimmed), &s); err == nil {
		return UPID(s), nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return "", fmt.Errorf("unexpected task handle %s", trimmed)
	}
	for _, key := range []string{"upid", "data"} {
		if v, ok := obj[key]; ok {
			return parseUPID(v)
		}
	}
	return "", nil
}
