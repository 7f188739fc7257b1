// Package hardware models smart glasses capabilities and app hardware
// requirements.
//
// Devices report what they physically have when they connect; app
// manifests declare what they need. Check compares the two so sessions
// can warn about (optional) or refuse (required) mismatches before an
// app is started.
package hardware

import "strings"

// Type identifies one piece of glasses hardware.
type Type string

const (
	TypeCamera     Type = "CAMERA"
	TypeDisplay    Type = "DISPLAY"
	TypeMicrophone Type = "MICROPHONE"
	TypeSpeaker    Type = "SPEAKER"
	TypeIMU        Type = "IMU"
	TypeButton     Type = "BUTTON"
	TypeLight      Type = "LIGHT"
	TypeWifi       Type = "WIFI"
)

// RequirementLevel says how hard a hardware requirement is.
type RequirementLevel string

const (
	LevelRequired RequirementLevel = "REQUIRED"
	LevelOptional RequirementLevel = "OPTIONAL"
)

// Requirement is one hardware need declared by an app manifest.
type Requirement struct {
	Type        Type             `json:"type" yaml:"type"`
	Level       RequirementLevel `json:"level" yaml:"level"`
	Description string           `json:"description,omitempty" yaml:"description,omitempty"`
}

// Capabilities is the hardware a connected device reports.
type Capabilities struct {
	ModelName     string `json:"modelName,omitempty"`
	HasCamera     bool   `json:"camera"`
	HasDisplay    bool   `json:"display"`
	HasMicrophone bool   `json:"microphone"`
	HasSpeaker    bool   `json:"speaker"`
	HasIMU        bool   `json:"imu"`
	HasButton     bool   `json:"button"`
	HasLight      bool   `json:"light"`
	HasWifi       bool   `json:"wifi"`
}

// Has reports whether the device has the given hardware type.
func (c Capabilities) Has(t Type) bool {
	switch t {
	case TypeCamera:
		return c.HasCamera
	case TypeDisplay:
		return c.HasDisplay
	case TypeMicrophone:
		return c.HasMicrophone
	case TypeSpeaker:
		return c.HasSpeaker
	case TypeIMU:
		return c.HasIMU
	case TypeButton:
		return c.HasButton
	case TypeLight:
		return c.HasLight
	case TypeWifi:
		return c.HasWifi
	default:
		return false
	}
}

// Compatibility is the result of checking an app against a device.
type Compatibility struct {
	Compatible      bool   `json:"compatible"`
	MissingRequired []Type `json:"missingRequired,omitempty"`
	MissingOptional []Type `json:"missingOptional,omitempty"`
}

// Check compares app requirements against device capabilities. Missing
// required hardware makes the result incompatible; missing optional
// hardware is reported but allowed.
func Check(reqs []Requirement, caps Capabilities) Compatibility {
	result := Compatibility{Compatible: true}

	for _, req := range reqs {
		if caps.Has(req.Type) {
			continue
		}
		if req.Level == LevelRequired {
			result.Compatible = false
			result.MissingRequired = append(result.MissingRequired, req.Type)
		} else {
			result.MissingOptional = append(result.MissingOptional, req.Type)
		}
	}

	return result
}

// knownProfiles maps device model names to their factory capabilities.
// Devices that report their own capabilities override these.
var knownProfiles = map[string]Capabilities{
	"even realities g1": {
		HasDisplay: true, HasMicrophone: true, HasButton: true, HasIMU: true,
	},
	"vuzix z100": {
		HasDisplay: true, HasButton: true,
	},
	"mentra live": {
		HasCamera: true, HasMicrophone: true, HasSpeaker: true,
		HasButton: true, HasWifi: true,
	},
	"mentra mach1": {
		HasDisplay: true, HasMicrophone: true, HasButton: true,
	},
}

// ProfileFor returns the factory capability profile for a device model,
// falling back to a conservative display-plus-microphone profile for
// unknown models.
func ProfileFor(model string) Capabilities {
	if caps, ok := knownProfiles[strings.ToLower(strings.TrimSpace(model))]; ok {
		caps.ModelName = model
		return caps
	}
	return Capabilities{
		ModelName:     model,
		HasDisplay:    true,
		HasMicrophone: true,
		HasButton:     true,
	}
}
