package client

import (
	"encoding/json"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/fwlimit/pkg/config"
	"github.com/charlie0129/fwlimit/pkg/limit"
	"github.com/charlie0129/fwlimit/pkg/powerinfo"
	"github.com/charlie0129/fwlimit/pkg/types"
)

// GetLimit returns the daemon's last known limit. With refresh the daemon
// asks framework_tool first.
func (c *Client) GetLimit(refresh bool) (*types.LimitStatus, error) {
	path := "/limit"
	if refresh {
		path += "?refresh=true"
	}
	ret, err := c.Get(path)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get charge limit")
	}
	return parseLimitStatus(ret)
}

func (c *Client) SetLimit(s limit.State) (*types.LimitStatus, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	ret, err := c.Put("/limit", string(payload))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to set charge limit")
	}
	return parseLimitStatus(ret)
}

func (c *Client) Toggle() (*types.LimitStatus, error) {
	ret, err := c.Post("/toggle", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to toggle charge limit")
	}
	return parseLimitStatus(ret)
}

func (c *Client) GetConfig() (*config.RawFileConfig, error) {
	ret, err := c.Get("/config")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get config")
	}

	var conf config.RawFileConfig
	if err := json.Unmarshal([]byte(ret), &conf); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal config")
	}

	return &conf, nil
}

func (c *Client) GetBatteryInfo() (*powerinfo.Battery, error) {
	ret, err := c.Get("/battery-info")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get battery info")
	}

	var bat powerinfo.Battery
	if err := json.Unmarshal([]byte(ret), &bat); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal battery info")
	}

	return &bat, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}

	var v string
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return "", pkgerrors.Wrapf(err, "failed to unmarshal version")
	}
	return v, nil
}

func parseLimitStatus(resp string) (*types.LimitStatus, error) {
	var st types.LimitStatus
	if err := json.Unmarshal([]byte(resp), &st); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to unmarshal limit status")
	}
	return &st, nil
}
