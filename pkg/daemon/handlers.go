package daemon

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/fwlimit/pkg/config"
	"github.com/charlie0129/fwlimit/pkg/controller"
	"github.com/charlie0129/fwlimit/pkg/fwtool"
	"github.com/charlie0129/fwlimit/pkg/limit"
	"github.com/charlie0129/fwlimit/pkg/types"
	"github.com/charlie0129/fwlimit/pkg/version"
)

func (d *Daemon) status(s limit.State) *types.LimitStatus {
	return types.NewLimitStatus(s, d.ctrl.Known())
}

func (d *Daemon) getLimit(c *gin.Context) {
	refresh := false
	if q := c.Query("refresh"); q != "" {
		var err error
		refresh, err = strconv.ParseBool(q)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, "refresh must be a boolean", "invalid", err)
			return
		}
	}

	if refresh {
		s, err := d.ctrl.QueryCurrentLimit(c.Request.Context())
		if err != nil {
			abortWithToolError(c, err)
			return
		}
		c.IndentedJSON(http.StatusOK, d.status(s))
		return
	}

	c.IndentedJSON(http.StatusOK, d.status(d.ctrl.State()))
}

func (d *Daemon) setLimit(c *gin.Context) {
	var s limit.State
	if err := c.ShouldBindJSON(&s); err != nil {
		abortWithError(c, http.StatusBadRequest, "limit must be one of standard, limited, 100 or 60", "invalid", err)
		return
	}

	// A firmware write is not abandoned because the client went away.
	if err := d.ctrl.SetLimit(context.WithoutCancel(c.Request.Context()), s); err != nil {
		abortWithToolError(c, err)
		return
	}

	ret := d.status(s)
	ret.Message = s.Confirmation()
	c.IndentedJSON(http.StatusCreated, ret)
}

func (d *Daemon) toggle(c *gin.Context) {
	s, err := d.ctrl.Toggle(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		abortWithToolError(c, err)
		return
	}

	ret := d.status(s)
	ret.Message = s.Confirmation()
	c.IndentedJSON(http.StatusCreated, ret)
}

func (d *Daemon) getConfig(c *gin.Context) {
	fc, err := config.NewRawFileConfigFromConfig(d.conf)
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "failed to read config", "internal", err)
		return
	}
	c.IndentedJSON(http.StatusOK, fc)
}

func (d *Daemon) getBatteryInfo(c *gin.Context) {
	bat, err := d.batteryInfo()
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, "failed to read battery info", "battery", err)
		return
	}
	c.IndentedJSON(http.StatusOK, bat)
}

// streamEvents relays hub events as server-sent events until the client
// goes away or the daemon stops.
func (d *Daemon) streamEvents(c *gin.Context) {
	ch := d.hub.Subscribe()
	defer d.hub.Unsubscribe(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	// Flush headers so clients know the subscription is live.
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}

// abortWithToolError maps controller and tool errors to a status code. The
// body names the error category only; details are logged.
func abortWithToolError(c *gin.Context, err error) {
	var code int
	var msg, kind string

	switch {
	case errors.Is(err, controller.ErrBusy):
		code, msg, kind = http.StatusConflict, controller.ErrBusy.Error(), "busy"
	case errors.Is(err, fwtool.ErrToolTimeout):
		code, msg = http.StatusGatewayTimeout, fwtool.ErrToolTimeout.Error()
	case errors.Is(err, fwtool.ErrParse):
		code, msg = http.StatusBadGateway, fwtool.ErrParse.Error()
	case errors.Is(err, fwtool.ErrLimitRejected):
		code, msg = http.StatusBadGateway, fwtool.ErrLimitRejected.Error()
	case errors.Is(err, fwtool.ErrToolInvocation):
		code, msg = http.StatusInternalServerError, fwtool.ErrToolInvocation.Error()
	case errors.Is(err, fwtool.ErrToolExecution):
		code, msg = http.StatusInternalServerError, fwtool.ErrToolExecution.Error()
	default:
		code, msg, kind = http.StatusInternalServerError, "internal error", "internal"
	}
	if kind == "" {
		kind = fwtool.Kind(err)
	}

	abortWithError(c, code, msg, kind, err)
}

func abortWithError(c *gin.Context, code int, msg, kind string, err error) {
	logrus.WithFields(logrus.Fields{
		"path": c.Request.URL.Path,
		"kind": kind,
	}).Debugf("request failed: %v", err)
	c.IndentedJSON(code, types.ErrorResponse{Error: msg, Kind: kind})
	_ = c.AbortWithError(code, err)
}
