package powerinfo

import (
	"strings"

	"github.com/distatus/battery"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Get reads the first battery. Partial read errors are logged and the
// available fields returned.
func Get() (*Battery, error) {
	batteries, err := battery.GetAll()
	if len(batteries) == 0 || batteries[0] == nil {
		if err != nil {
			return nil, pkgerrors.Wrap(err, "failed to read battery info")
		}
		return nil, pkgerrors.New("no batteries found")
	}
	if err != nil {
		logrus.WithError(err).Debug("partial battery info")
	}

	// Framework laptops only have one battery.
	return FromBattery(batteries[0]), nil
}

// FromBattery converts a distatus/battery reading.
func FromBattery(b *battery.Battery) *Battery {
	ret := &Battery{
		State:         strings.ToLower(b.State.String()),
		Current:       b.Current,
		Full:          b.Full,
		Design:        b.Design,
		ChargeRate:    b.ChargeRate,
		Voltage:       b.Voltage,
		DesignVoltage: b.DesignVoltage,
	}
	if b.State == battery.Discharging {
		ret.ChargeRate = -ret.ChargeRate
	}
	if b.Full > 0 {
		ret.Percent = b.Current / b.Full * 100
	}
	return ret
}
