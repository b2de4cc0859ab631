package powerinfo

import (
	"testing"

	"github.com/distatus/battery"
	"github.com/stretchr/testify/assert"
)

func TestFromBattery(t *testing.T) {
	b := FromBattery(&battery.Battery{
		State:      battery.Discharging,
		Current:    30000,
		Full:       50000,
		Design:     55000,
		ChargeRate: 8000,
		Voltage:    15.4,
	})

	assert.Equal(t, "discharging", b.State)
	assert.InDelta(t, 60, b.Percent, 0.001)
	assert.InDelta(t, -8000, b.ChargeRate, 0.001)
	assert.InDelta(t, 90.9, b.Health(), 0.1)
}

func TestFromBatteryNoCapacity(t *testing.T) {
	b := FromBattery(&battery.Battery{State: battery.Charging, ChargeRate: 20000})
	assert.Equal(t, "charging", b.State)
	assert.Zero(t, b.Percent)
	assert.Zero(t, b.Health())
	assert.InDelta(t, 20000, b.ChargeRate, 0.001)
}
