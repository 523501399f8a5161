package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// GameCommand is the integer code the simulation uses to select an
// operation. The numeric values are fixed by the simulation and must not
// be reordered.
type GameCommand int

const (
	None GameCommand = iota
	SendDataTick
	SetWhoSendsData
	SetRocketSetting
	SpawnAtLocation
	Engines
	Raptor
	Throttle
	RCS
	Flaps
	FoldFlaps
	GridFins
	Gimbals
	SetRCSManual
	SetDragManual
	SetGimbalManual
	Propellant
	CryotankPressure
	HotStage
	DetachHSR
	FTS
	OuterGimbalEngines
	BoosterClamps
	ControllerAltitude
	ControllerEastNorth
	ControllerAttitude
	AttitudeTarget
	ChillValve
	DumpFuel
	PopEngine
	BigFlame
	Chopsticks
	PadADeluge
	PadASQDQuickRetract
	PadAOLMQuickRetract
	PadABQDQuickRetract
	MasseyDeluge
	PadAOLMClampsExtend
	PadAOLMRQDExtend
	PadASpawnStack
)

var commandNames = [...]string{
	None:                "NONE",
	SendDataTick:        "SendDataTick",
	SetWhoSendsData:     "SetWhoSendsData",
	SetRocketSetting:    "SetRocketSetting",
	SpawnAtLocation:     "SpawnAtLocation",
	Engines:             "Engines",
	Raptor:              "Raptor",
	Throttle:            "Throttle",
	RCS:                 "RCS",
	Flaps:               "Flaps",
	FoldFlaps:           "FoldFlaps",
	GridFins:            "GridFins",
	Gimbals:             "Gimbals",
	SetRCSManual:        "SetRCSManual",
	SetDragManual:       "SetDragManual",
	SetGimbalManual:     "SetGimbalManual",
	Propellant:          "Propellant",
	CryotankPressure:    "CryotankPressure",
	HotStage:            "HotStage",
	DetachHSR:           "DetachHSR",
	FTS:                 "FTS",
	OuterGimbalEngines:  "OuterGimbalEngines",
	BoosterClamps:       "BoosterClamps",
	ControllerAltitude:  "ControllerAltitude",
	ControllerEastNorth: "ControllerEastNorth",
	ControllerAttitude:  "ControllerAttitude",
	AttitudeTarget:      "AttitudeTarget",
	ChillValve:          "ChillValve",
	DumpFuel:            "DumpFuel",
	PopEngine:           "PopEngine",
	BigFlame:            "BigFlame",
	Chopsticks:          "Chopsticks",
	PadADeluge:          "PadADeluge",
	PadASQDQuickRetract: "PadASQDQuickRetract",
	PadAOLMQuickRetract: "PadAOLMQuickRetract",
	PadABQDQuickRetract: "PadABQDQuickRetract",
	MasseyDeluge:        "MasseyDeluge",
	PadAOLMClampsExtend: "PadAOLMClampsExtend",
	PadAOLMRQDExtend:    "PadAOLMRQDExtend",
	PadASpawnStack:      "PadASpawnStack",
}

// String returns the simulation's name for the command, or the decimal
// code if it is outside the known vocabulary.
func (c GameCommand) String() string {
	if c >= 0 && int(c) < len(commandNames) {
		return commandNames[c]
	}
	return strconv.Itoa(int(c))
}

// Known reports whether c is part of the known vocabulary.
func (c GameCommand) Known() bool {
	return c >= 0 && int(c) < len(commandNames)
}

// GameCommands returns the full vocabulary in code order.
func GameCommands() []GameCommand {
	out := make([]GameCommand, len(commandNames))
	for i := range out {
		out[i] = GameCommand(i)
	}
	return out
}

// ParseGameCommand accepts either a decimal code or a command name
// (case-insensitive). Unknown numeric codes are accepted as-is since the
// relay does not validate the vocabulary.
func ParseGameCommand(s string) (GameCommand, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return None, fmt.Errorf("empty command")
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return None, fmt.Errorf("negative command code %d", n)
		}
		return GameCommand(n), nil
	}
	for i, name := range commandNames {
		if strings.EqualFold(name, s) {
			return GameCommand(i), nil
		}
	}
	return None, fmt.Errorf("unknown command %q", s)
}

// Command is the structured record the simulation accepts. Only Command
// is required; which of the optional fields matter depends on the code.
// The relay itself forwards commands as raw JSON and never decodes them
// into this type.
type Command struct {
	Command GameCommand `json:"command"`
	Target  string      `json:"target,omitempty"`
	Value   *float64    `json:"value,omitempty"`
	Pitch   *float64    `json:"pitch,omitempty"`
	Yaw     *float64    `json:"yaw,omitempty"`
	Roll    *float64    `json:"roll,omitempty"`
	State   *bool       `json:"state,omitempty"`
}

// Float returns a pointer to v, for filling optional Command fields.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v, for filling optional Command fields.
func Bool(v bool) *bool { return &v }
