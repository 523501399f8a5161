package client

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Vehicle selects a stage. Commands also accept a full object name such
// as "B13" as the target.
type Vehicle string

const (
	Booster Vehicle = "booster"
	Ship    Vehicle = "ship"
)

// Full-load propellant capacities in tons.
const (
	BoosterFuelCapacity = 739.160
	BoosterLOXCapacity  = 2660.840
	ShipFuelCapacity    = 326.100
	ShipLOXCapacity     = 1173.851
)

const kgPerTon = 1000

// VehicleOf maps a simulation object name to the stage it belongs to.
func VehicleOf(objectName string) (Vehicle, bool) {
	switch {
	case strings.HasPrefix(objectName, "B"):
		return Booster, true
	case strings.HasPrefix(objectName, "S"):
		return Ship, true
	}
	return "", false
}

func (v Vehicle) capacities() (fuel, lox float64) {
	if v == Ship {
		return ShipFuelCapacity, ShipLOXCapacity
	}
	return BoosterFuelCapacity, BoosterLOXCapacity
}

// Telemetry is one simulation frame for a vehicle. Masses are in kg,
// positions in m and velocities in m/s.
type Telemetry struct {
	ObjectName   string    `json:"objectname"`
	Location     []float64 `json:"location"`
	Velocity     []float64 `json:"velocity"`
	FuelMass     float64   `json:"fuelMass"`
	OxidizerMass float64   `json:"oxidizerMass"`

	// Raw is the frame exactly as the simulation sent it.
	Raw json.RawMessage `json:"-"`
}

// ParseTelemetry decodes the fields the client understands. Unknown
// fields are kept only in Raw.
func ParseTelemetry(data json.RawMessage) (Telemetry, error) {
	var t Telemetry
	if err := json.Unmarshal(data, &t); err != nil {
		return Telemetry{}, fmt.Errorf("decode telemetry: %w", err)
	}
	t.Raw = data
	return t, nil
}

// Altitude is the vertical component of the location.
func (t Telemetry) Altitude() float64 {
	if len(t.Location) < 3 {
		return 0
	}
	return t.Location[2]
}

// Speed is the magnitude of the velocity vector.
func (t Telemetry) Speed() float64 {
	var sum float64
	for _, c := range t.Velocity {
		sum += c * c
	}
	return math.Sqrt(sum)
}

// TotalPropellant is fuel plus oxidizer in tons.
func (t Telemetry) TotalPropellant() float64 {
	return (t.FuelMass + t.OxidizerMass) / kgPerTon
}

// FuelPercent is the fuel load relative to v's capacity.
func (t Telemetry) FuelPercent(v Vehicle) float64 {
	fuel, _ := v.capacities()
	return t.FuelMass / (fuel * kgPerTon) * 100
}

// LOXPercent is the oxidizer load relative to v's capacity.
func (t Telemetry) LOXPercent(v Vehicle) float64 {
	_, lox := v.capacities()
	return t.OxidizerMass / (lox * kgPerTon) * 100
}

// The helpers below read the latest frame for a vehicle and return zero
// values when none has arrived yet.

func (c *Client) Altitude(v Vehicle) float64 {
	t, _ := c.Telemetry(v)
	return t.Altitude()
}

// Velocity returns [vx, vy, vz].
func (c *Client) Velocity(v Vehicle) [3]float64 {
	t, _ := c.Telemetry(v)
	var out [3]float64
	copy(out[:], t.Velocity)
	return out
}

func (c *Client) Speed(v Vehicle) float64 {
	t, _ := c.Telemetry(v)
	return t.Speed()
}

func (c *Client) FuelPercent(v Vehicle) float64 {
	t, _ := c.Telemetry(v)
	return t.FuelPercent(v)
}

func (c *Client) LOXPercent(v Vehicle) float64 {
	t, _ := c.Telemetry(v)
	return t.LOXPercent(v)
}

func (c *Client) TotalPropellant(v Vehicle) float64 {
	t, _ := c.Telemetry(v)
	return t.TotalPropellant()
}
