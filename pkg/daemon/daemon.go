package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/fwlimit/pkg/config"
	"github.com/charlie0129/fwlimit/pkg/controller"
	"github.com/charlie0129/fwlimit/pkg/events"
	"github.com/charlie0129/fwlimit/pkg/fwtool"
	"github.com/charlie0129/fwlimit/pkg/powerinfo"
)

const shutdownTimeout = 5 * time.Second

// Daemon serves the charge limit controller on a unix socket.
type Daemon struct {
	conf         *config.File
	tool         *fwtool.Tool
	ctrl         *controller.Controller
	hub          *events.Hub
	socketPath   string
	allowNonRoot bool

	batteryInfo func() (*powerinfo.Battery, error)

	srv      *http.Server
	listener net.Listener
	served   chan struct{}

	stopWatch    context.CancelFunc
	watchStopped <-chan struct{}
}

// New wires a daemon that runs framework_tool as configured in conf.
func New(conf *config.File, socketPath string, allowNonRoot bool) *Daemon {
	return newDaemon(conf, nil, socketPath, allowNonRoot)
}

func newDaemon(conf *config.File, runner fwtool.Runner, socketPath string, allowNonRoot bool) *Daemon {
	hub := events.NewHub()
	tool := fwtool.New(runner, conf.ToolOptions())
	d := &Daemon{
		conf: conf,
		tool: tool,
		ctrl: controller.New(tool,
			controller.WithEventHub(hub),
			controller.WithRefreshBeforeToggle(conf.RefreshBeforeToggle()),
		),
		hub:          hub,
		socketPath:   socketPath,
		allowNonRoot: allowNonRoot,
		batteryInfo:  powerinfo.Get,
	}
	d.srv = &http.Server{
		Handler:           d.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return d
}

func (d *Daemon) setupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logrus.StandardLogger()))
	router.GET("/limit", d.getLimit)
	router.PUT("/limit", d.setLimit)
	router.POST("/toggle", d.toggle)
	router.GET("/config", d.getConfig)
	router.GET("/battery-info", d.getBatteryInfo)
	router.GET("/events", d.streamEvents)
	router.GET("/version", getVersion)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// Start listens on the socket, determines the initial charge limit and
// starts serving. It returns once the daemon accepts requests.
func (d *Daemon) Start(ctx context.Context) error {
	if err := removeStaleSocket(d.socketPath); err != nil {
		return err
	}

	l, err := net.Listen("unix", d.socketPath)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to listen on %s", d.socketPath)
	}
	d.listener = l

	if d.conf.AllowNonRootAccess() || d.allowNonRoot {
		logrus.Infof("non-root access is allowed, changing permissions of %s to 0777", d.socketPath)
		if err := os.Chmod(d.socketPath, 0777); err != nil {
			_ = l.Close()
			return pkgerrors.Wrapf(err, "failed to chmod %s", d.socketPath)
		}
	}

	d.ctrl.Start(ctx)
	d.watchConfig()

	d.served = make(chan struct{})
	go func() {
		defer close(d.served)
		logrus.Infof("http server listening on %s", l.Addr().String())
		if err := d.srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Errorf("http server stopped: %v", err)
		}
	}()

	return nil
}

// Stop ends event streams, shuts the server down and removes the socket.
func (d *Daemon) Stop(ctx context.Context) error {
	if d.stopWatch != nil {
		d.stopWatch()
		<-d.watchStopped
	}
	d.hub.Close()

	logrus.Info("shutting down http server")
	err := d.srv.Shutdown(ctx)
	if err != nil {
		logrus.Errorf("failed to shutdown http server: %v", err)
	}
	if d.served != nil {
		<-d.served
	}

	if rmErr := os.Remove(d.socketPath); rmErr != nil && !os.IsNotExist(rmErr) {
		logrus.Warnf("failed to remove %s: %v", d.socketPath, rmErr)
	}

	return err
}

// Reload re-reads the config file and applies it to later invocations.
func (d *Daemon) Reload() error {
	if err := d.conf.Load(); err != nil {
		return err
	}
	d.tool.SetOptions(d.conf.ToolOptions())
	d.ctrl.SetRefreshBeforeToggle(d.conf.RefreshBeforeToggle())
	logrus.WithFields(d.conf.LogrusFields()).Info("config reloaded")
	return nil
}

// watchConfig reloads the config whenever its file changes. A daemon that
// cannot watch still reloads on SIGHUP.
func (d *Daemon) watchConfig() {
	if d.conf.Path() == "" {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	stopped, err := config.Watch(ctx, d.conf.Path(), func() {
		if err := d.Reload(); err != nil {
			logrus.Errorf("failed to reload config: %v", err)
		}
	})
	if err != nil {
		cancel()
		logrus.WithError(err).Warn("config file will only be reloaded on SIGHUP")
		return
	}
	d.stopWatch, d.watchStopped = cancel, stopped
}

// removeStaleSocket deletes a socket left behind by a daemon that did not
// exit cleanly. A socket that still accepts connections is left alone.
func removeStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if conn, err := net.DialTimeout("unix", path, time.Second); err == nil {
		_ = conn.Close()
		return pkgerrors.Errorf("%s is in use, is another daemon running?", path)
	}
	logrus.Warnf("removing stale socket %s", path)
	return os.Remove(path)
}

// Run starts the daemon and blocks until SIGINT or SIGTERM. SIGHUP reloads
// the config.
func Run(configPath string, unixSocketPath string, allowNonRoot bool) error {
	conf, err := config.NewFile(configPath)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to parse config during startup")
	}
	logrus.WithFields(conf.LogrusFields()).Info("config loaded")

	d := New(conf, unixSocketPath, allowNonRoot)
	if err := d.Start(context.Background()); err != nil {
		return err
	}

	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	defer signal.Stop(sighup)
	go func() {
		for range sighup {
			if err := d.Reload(); err != nil {
				logrus.Errorf("failed to reload config: %v", err)
			}
		}
	}()

	// Handle common process-killing signals, so we can gracefully shut down:
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigc
	logrus.Infof("caught signal \"%s\": shutting down.", sig)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		return err
	}

	logrus.Info("exiting")
	return nil
}
