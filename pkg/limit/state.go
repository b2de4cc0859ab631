package limit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// State is one of the two charge limit presets.
type State int

const (
	// Standard lets the battery charge to 100%.
	Standard State = iota
	// Limited stops charging at 60%.
	Limited
)

const (
	StandardPercent = 100
	LimitedPercent  = 60
)

// FromPercent maps a maximum reported by the firmware to a State.
// Anything other than 100 counts as Limited.
func FromPercent(p int) State {
	if p == StandardPercent {
		return Standard
	}
	return Limited
}

// ParseState accepts "standard", "limited", "100" or "60".
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", strconv.Itoa(StandardPercent):
		return Standard, nil
	case "limited", strconv.Itoa(LimitedPercent):
		return Limited, nil
	}
	return Standard, fmt.Errorf("invalid charge limit %q, expected standard, limited, 100 or 60", s)
}

// Percent returns the charge limit the firmware should enforce.
func (s State) Percent() int {
	switch s {
	case Standard:
		return StandardPercent
	case Limited:
		return LimitedPercent
	}
	panic(fmt.Sprintf("invalid charge limit state %d", int(s)))
}

// Opposite returns the state a toggle moves to.
func (s State) Opposite() State {
	if s == Standard {
		return Limited
	}
	return Standard
}

// IconName is the symbolic icon a panel should show for this state.
func (s State) IconName() string {
	if s == Standard {
		return "battery-full-symbolic"
	}
	return "battery-good-symbolic"
}

func (s State) String() string {
	switch s {
	case Standard:
		return "standard"
	case Limited:
		return "limited"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *State) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		var n int
		if err2 := json.Unmarshal(b, &n); err2 != nil {
			return fmt.Errorf("charge limit must be a string or a number: %w", err)
		}
		str = strconv.Itoa(n)
	}
	v, err := ParseState(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Confirmation is the message shown after the limit has been applied.
func (s State) Confirmation() string {
	return fmt.Sprintf("The charging limit is now set to %d%%", s.Percent())
}
