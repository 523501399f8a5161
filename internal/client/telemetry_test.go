package client

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVehicleOf(t *testing.T) {
	tests := []struct {
		name   string
		want   Vehicle
		wantOK bool
	}{
		{"B13", Booster, true},
		{"B", Booster, true},
		{"S30", Ship, true},
		{"Tower", "", false},
		{"", "", false},
		{"b13", "", false},
	}
	for _, tt := range tests {
		got, ok := VehicleOf(tt.name)
		assert.Equal(t, tt.wantOK, ok, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestTelemetryPercentages(t *testing.T) {
	tests := []struct {
		name     string
		vehicle  Vehicle
		fuel     float64
		lox      float64
		wantFuel float64
		wantLOX  float64
	}{
		{"booster full", Booster, 739160, 2660840, 100, 100},
		{"booster empty", Booster, 0, 0, 0, 0},
		{"ship half", Ship, 163050, 586925.5, 50, 50},
		{"object name uses booster capacity", "B0", 369580, 0, 50, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tel := Telemetry{FuelMass: tt.fuel, OxidizerMass: tt.lox}
			assert.InDelta(t, tt.wantFuel, tel.FuelPercent(tt.vehicle), 1e-9)
			assert.InDelta(t, tt.wantLOX, tel.LOXPercent(tt.vehicle), 1e-9)
		})
	}
}

func TestTelemetryKinematics(t *testing.T) {
	tel := Telemetry{Location: []float64{10, 20, 1234.5}, Velocity: []float64{1, 2, 2}}
	assert.InDelta(t, 1234.5, tel.Altitude(), 1e-9)
	assert.InDelta(t, 3, tel.Speed(), 1e-9)

	var empty Telemetry
	assert.Zero(t, empty.Altitude())
	assert.Zero(t, empty.Speed())
	assert.Zero(t, Telemetry{Location: []float64{1, 2}}.Altitude())
}

func TestTotalPropellant(t *testing.T) {
	tel := Telemetry{FuelMass: 500000, OxidizerMass: 1500000}
	assert.InDelta(t, 2000, tel.TotalPropellant(), 1e-9)
}

func TestParseTelemetry(t *testing.T) {
	raw := json.RawMessage(`{"objectname":"S30","fuelMass":1,"extra":{"a":1}}`)
	tel, err := ParseTelemetry(raw)
	require.NoError(t, err)
	assert.Equal(t, "S30", tel.ObjectName)
	assert.Equal(t, 1.0, tel.FuelMass)
	assert.Equal(t, raw, tel.Raw)

	_, err = ParseTelemetry(json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}

func TestClientHelpersWithoutTelemetry(t *testing.T) {
	c := &Client{telemetry: map[Vehicle]Telemetry{}}
	assert.Zero(t, c.Altitude(Booster))
	assert.Zero(t, c.FuelPercent(Ship))
	assert.Equal(t, [3]float64{}, c.Velocity(Ship))
	assert.False(t, c.SimConnected())
}
