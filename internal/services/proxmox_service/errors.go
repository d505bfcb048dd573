package proxmox_service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrTaskTimeout is returned by WaitTask when the task is still running at the deadline.
var ErrTaskTimeout = errors.New("proxmox task did not stop before timeout")

// TransientNetworkError 는 타임아웃, 연결 거부 등 재시도할 가치가 있는 네트워크 오류입니다.
type TransientNetworkError struct {
	Op  string
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("proxmox %s: network error: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// Transient marks the error as retryable for the retry package.
func (e *TransientNetworkError) Transient() bool { return true }

// RemoteAPIError 는 Proxmox 가 요청을 거부한 경우입니다 (잘못된 파라미터, 인증, 충돌 등).
// 재시도하지 않습니다.
type RemoteAPIError struct {
	Op         string
	StatusCode int
	Message    string
	Errors     map[string]string // per-parameter validation errors
}

func (e *RemoteAPIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "proxmox %s: HTTP %d", e.Op, e.StatusCode)
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if len(e.Errors) > 0 {
		keys := make([]string, 0, len(e.Errors))
		for k := range e.Errors {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "; %s: %s", k, strings.TrimSpace(e.Errors[k]))
		}
	}
	return b.String()
}

// IsRemoteAPIError reports whether err is an API rejection with the given status code.
// A code of 0 matches any status.
func IsRemoteAPIError(err error, code int) bool {
	var apiErr *RemoteAPIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return code == 0 || apiErr.StatusCode == code
}
