package types

import "time"

// DateKeyFormat is the layout of a calendar day key (provider-local).
const DateKeyFormat = "2006-01-02"

// Sample is one timestamped grid-state observation. Immutable once created.
type Sample struct {
	Timestamp      time.Time `json:"timestamp"`
	HasElectricity bool      `json:"hasElectricity"`
}

// GridStatus is the live grid state derived from the inverter runtime
// endpoint. GridPowerW is positive when exporting to the grid and negative
// when importing.
type GridStatus struct {
	HasElectricity bool      `json:"hasElectricity"`
	GridVoltage    float64   `json:"gridVoltage"`
	GridFrequency  float64   `json:"gridFrequency"`
	GridPowerW     float64   `json:"gridPowerW"`
	Timestamp      time.Time `json:"timestamp"`
}

// Stats holds duration-weighted on/off totals for a timeline window.
// Percentages are pre-formatted to one decimal place and report "0.0" when
// the total duration is zero.
type Stats struct {
	OnTime     time.Duration `json:"onTime"`
	OffTime    time.Duration `json:"offTime"`
	OnPercent  string        `json:"onPercent"`
	OffPercent string        `json:"offPercent"`
}

// MonitorState is the persisted state of the transition monitor so running
// totals survive restarts.
type MonitorState struct {
	// CurrentStatus is nil until the first successful poll.
	CurrentStatus    *bool         `json:"currentStatus"`
	StatusChangeTime time.Time     `json:"statusChangeTime"`
	TotalOnTime      time.Duration `json:"totalOnTime"`
	TotalOffTime     time.Duration `json:"totalOffTime"`
	SessionStartTime time.Time     `json:"sessionStartTime"`
}
