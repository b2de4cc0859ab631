package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/charlie0129/fwlimit/pkg/config"
	"github.com/charlie0129/fwlimit/pkg/fwtool"
	"github.com/charlie0129/fwlimit/pkg/limit"
	"github.com/charlie0129/fwlimit/pkg/powerinfo"
	"github.com/charlie0129/fwlimit/pkg/types"
)

type fakeRunner struct {
	mu      sync.Mutex
	stdout  string
	setRes  *fwtool.CommandResult
	setErr  error
	calls   []string
	gate    chan struct{}
	entered chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) (*fwtool.CommandResult, error) {
	r.mu.Lock()
	r.calls = append(r.calls, strings.Join(append([]string{name}, args...), " "))
	gate, entered := r.gate, r.entered
	r.mu.Unlock()

	if gate != nil {
		entered <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, fwtool.ErrToolTimeout
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(args) >= 3 && args[len(args)-3] == "--charge-limit" { // query has no limit argument
		return &fwtool.CommandResult{Success: true, Stdout: r.stdout}, nil
	}
	if r.setErr != nil {
		return nil, r.setErr
	}
	if r.setRes != nil {
		return r.setRes, nil
	}
	return &fwtool.CommandResult{Success: true}, nil
}

func newTestDaemon(t *testing.T, r *fakeRunner) *Daemon {
	t.Helper()
	conf, err := config.NewFile(filepath.Join(t.TempDir(), "fwlimit.json"))
	require.NoError(t, err)
	return newDaemon(conf, r, filepath.Join(t.TempDir(), "fwlimit.sock"), false)
}

func do(t *testing.T, d *Daemon, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	d.srv.Handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestGetLimitBeforeStart(t *testing.T) {
	d := newTestDaemon(t, &fakeRunner{stdout: "Maximum 60%"})

	w := do(t, d, http.MethodGet, "/limit", "")
	require.Equal(t, http.StatusOK, w.Code)
	st := decode[types.LimitStatus](t, w)
	assert.Equal(t, limit.Standard, st.State)
	assert.False(t, st.Known)

	w = do(t, d, http.MethodGet, "/limit?refresh=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	st = decode[types.LimitStatus](t, w)
	assert.Equal(t, limit.Limited, st.State)
	assert.Equal(t, 60, st.Percent)
	assert.Equal(t, "battery-good-symbolic", st.Icon)
	assert.True(t, st.Known)

	w = do(t, d, http.MethodGet, "/limit?refresh=maybe", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestToggle(t *testing.T) {
	r := &fakeRunner{stdout: "Maximum 100%"}
	d := newTestDaemon(t, r)
	d.ctrl.Start(context.Background())

	w := do(t, d, http.MethodPost, "/toggle", "")
	require.Equal(t, http.StatusCreated, w.Code)
	st := decode[types.LimitStatus](t, w)
	assert.Equal(t, limit.Limited, st.State)
	assert.Equal(t, "The charging limit is now set to 60%", st.Message)
	assert.Contains(t, r.calls, "sudo framework_tool --charge-limit 60 --driver portio")
}

func TestToggleFailures(t *testing.T) {
	tests := []struct {
		name     string
		setRes   *fwtool.CommandResult
		setErr   error
		wantCode int
		wantKind string
	}{
		{"missing tool", nil, fwtool.ErrToolInvocation, http.StatusInternalServerError, "invocation"},
		{"timeout", nil, fwtool.ErrToolTimeout, http.StatusGatewayTimeout, "timeout"},
		{"rejected", &fwtool.CommandResult{Success: true, Stderr: "secret EC detail"}, nil, http.StatusBadGateway, "rejected"},
		{"exit code", &fwtool.CommandResult{ExitCode: 1, Stderr: "secret EC detail"}, nil, http.StatusInternalServerError, "execution"},
		{"unknown", nil, errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestDaemon(t, &fakeRunner{stdout: "Maximum 100%", setRes: tt.setRes, setErr: tt.setErr})
			d.ctrl.Start(context.Background())

			w := do(t, d, http.MethodPost, "/toggle", "")
			assert.Equal(t, tt.wantCode, w.Code)
			assert.NotContains(t, w.Body.String(), "secret")
			resp := decode[types.ErrorResponse](t, w)
			assert.Equal(t, tt.wantKind, resp.Kind)
			assert.Equal(t, limit.Standard, d.ctrl.State())
		})
	}
}

func TestRefreshParseError(t *testing.T) {
	d := newTestDaemon(t, &fakeRunner{stdout: "garbage"})
	w := do(t, d, http.MethodGet, "/limit?refresh=1", "")
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "parse", decode[types.ErrorResponse](t, w).Kind)
}

func TestSetLimit(t *testing.T) {
	r := &fakeRunner{stdout: "Maximum 100%"}
	d := newTestDaemon(t, r)

	w := do(t, d, http.MethodPut, "/limit", `"limited"`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, limit.Limited, decode[types.LimitStatus](t, w).State)

	w = do(t, d, http.MethodPut, "/limit", `100`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, limit.Standard, d.ctrl.State())

	w = do(t, d, http.MethodPut, "/limit", `80`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "invalid", decode[types.ErrorResponse](t, w).Kind)
}

func TestOverlappingToggleConflicts(t *testing.T) {
	r := &fakeRunner{stdout: "Maximum 100%"}
	d := newTestDaemon(t, r)
	d.ctrl.Start(context.Background())

	r.mu.Lock()
	r.gate, r.entered = make(chan struct{}), make(chan struct{}, 1)
	r.mu.Unlock()

	first := d.ctrl.ToggleAsync(context.Background())
	<-r.entered

	w := do(t, d, http.MethodPost, "/toggle", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "busy", decode[types.ErrorResponse](t, w).Kind)

	close(r.gate)
	require.NoError(t, (<-first).Err)
}

func TestBatteryInfoAndConfig(t *testing.T) {
	d := newTestDaemon(t, &fakeRunner{})
	d.batteryInfo = func() (*powerinfo.Battery, error) {
		return &powerinfo.Battery{State: "charging", Percent: 55}, nil
	}

	w := do(t, d, http.MethodGet, "/battery-info", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "charging", decode[powerinfo.Battery](t, w).State)

	d.batteryInfo = func() (*powerinfo.Battery, error) { return nil, errors.New("no batteries found") }
	w = do(t, d, http.MethodGet, "/battery-info", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = do(t, d, http.MethodGet, "/config", "")
	require.Equal(t, http.StatusOK, w.Code)
	raw := decode[config.RawFileConfig](t, w)
	require.NotNil(t, raw.Driver)
	assert.Equal(t, "portio", *raw.Driver)
}

func TestEventStream(t *testing.T) {
	d := newTestDaemon(t, &fakeRunner{stdout: "Maximum 100%"})
	d.ctrl.Start(context.Background())
	srv := httptest.NewServer(d.srv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	_, err = d.ctrl.Toggle(context.Background())
	require.NoError(t, err)

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	var got []string
	timeout := time.After(5 * time.Second)
	for len(got) < 2 {
		select {
		case l := <-lines:
			if l != "" {
				got = append(got, l)
			}
		case <-timeout:
			t.Fatalf("no event received, got %v", got)
		}
	}
	assert.Equal(t, "event:limit.changed", got[0])
	assert.Contains(t, got[1], `"percent":60`)

	d.hub.Close()
	for range lines {
	}
}

func TestStartStop(t *testing.T) {
	d := newTestDaemon(t, &fakeRunner{stdout: "Maximum 60%"})
	require.NoError(t, d.Start(context.Background()))
	assert.Equal(t, limit.Limited, d.ctrl.State())

	// A second daemon must not steal a live socket.
	other := newDaemon(d.conf, &fakeRunner{}, d.socketPath, false)
	assert.Error(t, other.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
	_, err := os.Stat(d.socketPath)
	assert.True(t, os.IsNotExist(err))
}

func TestStartRemovesStaleSocket(t *testing.T) {
	d := newTestDaemon(t, &fakeRunner{stdout: "Maximum 100%"})
	require.NoError(t, os.WriteFile(d.socketPath, nil, 0600))

	require.NoError(t, d.Start(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Stop(ctx))
}

func TestReload(t *testing.T) {
	d := newTestDaemon(t, &fakeRunner{})
	path := d.conf.Path()
	require.NoError(t, os.WriteFile(path, []byte(`{"toolPath": "/opt/framework_tool", "useSudo": false, "refreshBeforeToggle": true}`), 0644))

	require.NoError(t, d.Reload())
	assert.Equal(t, []string{"/opt/framework_tool", "--charge-limit", "--driver", "portio"}, d.tool.QueryCommand())

	require.NoError(t, os.WriteFile(path, []byte(`{`), 0644))
	assert.Error(t, d.Reload())
}

func TestConfigFileChangeReloads(t *testing.T) {
	d := newTestDaemon(t, &fakeRunner{stdout: "Maximum 100%"})
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})

	require.NoError(t, os.WriteFile(d.conf.Path(), []byte(`{"driver": "lpc"}`), 0644))

	assert.Eventually(t, func() bool {
		return d.tool.Options().Driver == "lpc"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestMetrics(t *testing.T) {
	d := newTestDaemon(t, &fakeRunner{stdout: "Maximum 60%"})
	d.ctrl.Start(context.Background())

	w := do(t, d, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fwlimit_charge_limit_percent 60")
	assert.Contains(t, w.Body.String(), `fwlimit_operations_total{op="query",result="ok"}`)
}
