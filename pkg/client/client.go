package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/charlie0129/fwlimit/pkg/config"
	"github.com/charlie0129/fwlimit/pkg/types"
)

// requestTimeout covers two tool runs at the daemon's largest timeout, the
// refresh-then-set path of a toggle, plus some slack.
const requestTimeout = 2*config.MaxTimeout + 6*time.Second

// Client is a struct for communicating with the fwlimit daemon
type Client struct {
	socketPath string
	httpClient *http.Client
	// streamClient has no timeout, for long-lived event streams.
	streamClient *http.Client
}

// NewClient is a constructor for creating a new Client
func NewClient(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			conn, err := d.DialContext(ctx, "unix", socketPath)
			if err != nil {
				if errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ECONNREFUSED) {
					return nil, ErrDaemonNotRunning
				}
				if errors.Is(err, os.ErrPermission) {
					return nil, ErrPermissionDenied
				}
				logrus.Errorf("failed to connect to unix socket: %v", err)
				return nil, err
			}
			return conn, nil
		},
	}

	return &Client{
		socketPath:   socketPath,
		httpClient:   &http.Client{Transport: transport, Timeout: requestTimeout},
		streamClient: &http.Client{Transport: transport},
	}
}

// Send is a method for sending a request to the fwlimit daemon
func (c *Client) Send(method string, path string, data string) (string, error) {
	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"data":   data,
		"unix":   c.socketPath,
	}).Debug("sending request")

	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut:
	default:
		return "", fmt.Errorf("unknown method: %s", method)
	}

	var body io.Reader
	if data != "" {
		body = strings.NewReader(data)
	}
	req, err := http.NewRequest(method, "http://unix"+path, body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if data != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"code": resp.StatusCode,
		"body": string(b),
	}).Debug("got response")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", responseError(resp.StatusCode, b)
	}

	return string(b), nil
}

// APIError is a non-2xx answer from the daemon. Kind is the daemon's
// error class, such as "busy" or "timeout".
type APIError struct {
	StatusCode int
	Message    string
	Kind       string

	sentinel error
}

func (e *APIError) Error() string {
	if e.sentinel != nil {
		return fmt.Sprintf("%v: %s", e.sentinel, e.Message)
	}
	return fmt.Sprintf("got %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.sentinel
}

func responseError(code int, body []byte) error {
	apiErr := &APIError{
		StatusCode: code,
		Message:    strings.TrimSpace(string(body)),
	}
	var e types.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		apiErr.Message = e.Error
		apiErr.Kind = e.Kind
	}

	switch code {
	case http.StatusNotFound:
		apiErr.sentinel = ErrNotFound
	case http.StatusConflict:
		apiErr.sentinel = ErrBusy
	}
	return apiErr
}

// Get is a method for sending a GET request to the fwlimit daemon
func (c *Client) Get(path string) (string, error) {
	return c.Send(http.MethodGet, path, "")
}

// Put is a method for sending a PUT request to the fwlimit daemon
func (c *Client) Put(path string, data string) (string, error) {
	return c.Send(http.MethodPut, path, data)
}

// Post is a method for sending a POST request to the fwlimit daemon
func (c *Client) Post(path string, data string) (string, error) {
	return c.Send(http.MethodPost, path, data)
}
