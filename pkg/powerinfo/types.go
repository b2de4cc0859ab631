package powerinfo

// Battery is a JSON-friendly snapshot of the first system battery.
// Units:
// - Current, Full, Design: mWh
// - ChargeRate: mW (negative when discharging)
// - Voltage, DesignVoltage: Volts
type Battery struct {
	State         string  `json:"state"`
	Percent       float64 `json:"percent"`
	Current       float64 `json:"current"`
	Full          float64 `json:"full"`
	Design        float64 `json:"design"`
	ChargeRate    float64 `json:"chargeRate"`
	Voltage       float64 `json:"voltage"`
	DesignVoltage float64 `json:"designVoltage"`
}

// Health returns full capacity as a percentage of design capacity.
func (b *Battery) Health() float64 {
	if b.Design <= 0 {
		return 0
	}
	return b.Full / b.Design * 100
}
