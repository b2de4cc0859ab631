package controller

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/charlie0129/fwlimit/pkg/events"
	"github.com/charlie0129/fwlimit/pkg/fwtool"
	"github.com/charlie0129/fwlimit/pkg/limit"
)

const (
	queryArgv = "sudo framework_tool --charge-limit --driver portio"
	set60Argv = "sudo framework_tool --charge-limit 60 --driver portio"
	set100    = "sudo framework_tool --charge-limit 100 --driver portio"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type scriptedRunner struct {
	mu      sync.Mutex
	calls   []string
	results map[string]*fwtool.CommandResult
	errs    map[string]error

	// When gate is set, Run signals entered and blocks until gate is closed.
	gate    chan struct{}
	entered chan struct{}
}

func newRunner(queryStdout string) *scriptedRunner {
	ok := &fwtool.CommandResult{Success: true}
	return &scriptedRunner{
		results: map[string]*fwtool.CommandResult{
			queryArgv: {Success: true, Stdout: queryStdout},
			set60Argv: ok,
			set100:    ok,
		},
		errs: map[string]error{},
	}
}

func (r *scriptedRunner) Run(ctx context.Context, name string, args ...string) (*fwtool.CommandResult, error) {
	argv := strings.Join(append([]string{name}, args...), " ")

	r.mu.Lock()
	r.calls = append(r.calls, argv)
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
	if err, ok := r.errs[argv]; ok {
		return nil, err
	}
	if res, ok := r.results[argv]; ok {
		return res, nil
	}
	return &fwtool.CommandResult{ExitCode: 127}, nil
}

func (r *scriptedRunner) block() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gate = make(chan struct{})
	r.entered = make(chan struct{}, 4)
}

func (r *scriptedRunner) setCalls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ret []string
	for _, c := range r.calls {
		if c != queryArgv {
			ret = append(ret, c)
		}
	}
	return ret
}

func newController(r *scriptedRunner, opts ...Option) *Controller {
	return New(fwtool.New(r, fwtool.DefaultOptions()), opts...)
}

func TestQueryCurrentLimit(t *testing.T) {
	tests := []struct {
		stdout string
		want   limit.State
	}{
		{"Charger\n  Maximum 100%\n", limit.Standard},
		{"Maximum 60%", limit.Limited},
		{"Maximum 80%", limit.Limited},
	}
	for _, tt := range tests {
		c := newController(newRunner(tt.stdout))
		got, err := c.QueryCurrentLimit(context.Background())
		require.NoError(t, err, tt.stdout)
		assert.Equal(t, tt.want, got, tt.stdout)
		assert.Equal(t, tt.want, c.State())
		assert.True(t, c.Known())
	}
}

func TestQueryParseErrorNeverDefaults(t *testing.T) {
	c := newController(newRunner("Maximum 60%"))
	_, err := c.QueryCurrentLimit(context.Background())
	require.NoError(t, err)

	r := newRunner("no charge limit here")
	c.tool = fwtool.New(r, fwtool.DefaultOptions())
	_, err = c.QueryCurrentLimit(context.Background())
	assert.ErrorIs(t, err, fwtool.ErrParse)
	assert.Equal(t, limit.Limited, c.State())
}

func TestToggleArguments(t *testing.T) {
	r := newRunner("Maximum 100%")
	c := newController(r)
	ctx := context.Background()

	assert.Equal(t, limit.Standard, c.Start(ctx))

	s, err := c.Toggle(ctx)
	require.NoError(t, err)
	assert.Equal(t, limit.Limited, s)

	s, err = c.Toggle(ctx)
	require.NoError(t, err)
	assert.Equal(t, limit.Standard, s)

	assert.Equal(t, []string{set60Argv, set100}, r.setCalls())
}

func TestToggleRefreshBeforeToggle(t *testing.T) {
	r := newRunner("Maximum 60%")
	c := newController(r, WithRefreshBeforeToggle(true))

	// Cached state is the Standard default, the tool says Limited.
	s, err := c.Toggle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, limit.Standard, s)
	assert.Equal(t, []string{set100}, r.setCalls())
}

func TestSetLimitRejected(t *testing.T) {
	r := newRunner("Maximum 100%")
	r.results[set60Argv] = &fwtool.CommandResult{Success: true, Stderr: "EC response: busy"}
	c := newController(r)
	c.Start(context.Background())

	err := c.SetLimit(context.Background(), limit.Limited)
	assert.ErrorIs(t, err, fwtool.ErrLimitRejected)
	assert.Equal(t, limit.Standard, c.State())

	r.results[set60Argv] = &fwtool.CommandResult{ExitCode: 1}
	_, err = c.Toggle(context.Background())
	assert.ErrorIs(t, err, fwtool.ErrToolExecution)
	assert.Equal(t, limit.Standard, c.State())
}

func TestStartFallsBackToStandard(t *testing.T) {
	r := newRunner("")
	r.errs[queryArgv] = fwtool.ErrToolInvocation
	c := newController(r)

	assert.Equal(t, limit.Standard, c.Start(context.Background()))
	assert.False(t, c.Known())
}

func TestOverlappingTogglesRejected(t *testing.T) {
	r := newRunner("Maximum 100%")
	c := newController(r)
	c.Start(context.Background())
	r.block()

	first := c.ToggleAsync(context.Background())
	<-r.entered

	second := c.ToggleAsync(context.Background())
	res := <-second
	assert.ErrorIs(t, res.Err, ErrBusy)
	assert.Equal(t, limit.Standard, res.State)

	_, err := c.Toggle(context.Background())
	assert.ErrorIs(t, err, ErrBusy)
	_, err = c.QueryCurrentLimit(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(r.gate)
	res = <-first
	require.NoError(t, res.Err)
	assert.Equal(t, limit.Limited, res.State)
	assert.Equal(t, []string{set60Argv}, r.setCalls())
}

func TestAsyncDoesNotBlockCaller(t *testing.T) {
	r := newRunner("Maximum 60%")
	r.block()
	c := newController(r)

	start := time.Now()
	ch := c.QueryAsync(context.Background())
	assert.Less(t, time.Since(start), time.Second)

	<-r.entered
	close(r.gate)
	res := <-ch
	require.NoError(t, res.Err)
	assert.Equal(t, limit.Limited, res.State)

	res = <-c.SetLimitAsync(context.Background(), limit.Standard)
	require.NoError(t, res.Err)
	assert.Equal(t, limit.Standard, res.State)
}

func TestScenarioInitialStandard(t *testing.T) {
	c := newController(newRunner("... Maximum 100% ..."))
	s := c.Start(context.Background())
	assert.Equal(t, limit.Standard, s)
	assert.Equal(t, "battery-full-symbolic", s.IconName())
}

func TestScenarioToggleToLimited(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()
	r := newRunner("Maximum 100%")
	c := newController(r, WithEventHub(hub))
	c.Start(context.Background())

	sub := hub.Subscribe()
	s, err := c.Toggle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, limit.Limited, s)
	assert.Equal(t, []string{set60Argv}, r.setCalls())

	ev := <-sub
	require.Equal(t, events.LimitChanged, ev.Name)
	payload, err := events.DecodeAs[events.LimitChangedEvent](ev)
	require.NoError(t, err)
	assert.Equal(t, 60, payload.Percent)
	assert.Equal(t, "standard", payload.From)
	assert.Equal(t, "limited", payload.To)
}

func TestScenarioToolMissingOnSet(t *testing.T) {
	hub := events.NewHub()
	defer hub.Close()
	r := newRunner("Maximum 100%")
	r.errs[set60Argv] = fwtool.ErrToolInvocation
	c := newController(r, WithEventHub(hub))
	c.Start(context.Background())

	sub := hub.Subscribe()
	s, err := c.Toggle(context.Background())
	assert.ErrorIs(t, err, fwtool.ErrToolInvocation)
	assert.Equal(t, limit.Standard, s)
	assert.Equal(t, limit.Standard, c.State())

	ev := <-sub
	assert.Equal(t, events.LimitError, ev.Name)
	payload, err := events.DecodeAs[events.LimitErrorEvent](ev)
	require.NoError(t, err)
	assert.Equal(t, "toggle", payload.Op)
	assert.Equal(t, "invocation", payload.Message)
	assert.Empty(t, sub, "no confirmation after a failed toggle")
}
