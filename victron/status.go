package victron

import (
	"fmt"
	"strings"

	"github.com/mjasion/balena-home/victron/decoder"
)

var deviceStates = map[uint8]string{
	0:   "Off",
	1:   "Low power",
	2:   "Fault",
	3:   "Bulk",
	4:   "Absorption",
	5:   "Float",
	6:   "Storage",
	7:   "Equalize",
	9:   "Inverting",
	11:  "Power supply",
	245: "Starting up",
	246: "Repeated absorption",
	247: "Recondition",
	248: "Battery safe",
	252: "External control",
	255: "Not available",
}

var chargerErrors = map[uint8]string{
	0:   "No error",
	1:   "Battery temperature too high",
	2:   "Battery voltage too high",
	3:   "Battery temperature sensor miswired (+)",
	4:   "Battery temperature sensor miswired (-)",
	5:   "Battery temperature sensor disconnected",
	6:   "Battery voltage sense miswired (+)",
	7:   "Battery voltage sense miswired (-)",
	8:   "Battery voltage sense disconnected",
	11:  "Battery high ripple voltage",
	14:  "Battery temperature too low",
	17:  "Charger temperature too high",
	18:  "Charger over current",
	19:  "Charger current polarity reversed",
	20:  "Bulk time limit exceeded",
	21:  "Current sensor issue",
	26:  "Terminals overheated",
	27:  "Charger short circuit",
	28:  "Power stage issue",
	29:  "Over-charge protection",
	33:  "Input voltage too high",
	34:  "Input current too high",
	38:  "Input shutdown due to battery voltage",
	39:  "Input shutdown due to current flow in off mode",
	65:  "Lost communication",
	66:  "Synchronised charging configuration issue",
	67:  "BMS connection lost",
	68:  "Network misconfigured",
	116: "Calibration data lost",
	117: "Incompatible firmware",
	119: "Settings data lost",
}

type bitName struct {
	bit  uint32
	name string
}

var offReasons = []bitName{
	{0x0001, "No input power"},
	{0x0002, "Switched off (power switch)"},
	{0x0004, "Switched off (device mode)"},
	{0x0008, "Remote input"},
	{0x0010, "Protection active"},
	{0x0020, "Pay-as-you-go"},
	{0x0040, "BMS"},
	{0x0080, "Engine shutdown detection"},
	{0x0100, "Analysing input voltage"},
}

var alarms = []bitName{
	{0x0001, "Low voltage"},
	{0x0002, "High voltage"},
	{0x0004, "Low SOC"},
	{0x0008, "Low starter voltage"},
	{0x0010, "High starter voltage"},
	{0x0020, "Low temperature"},
	{0x0040, "High temperature"},
	{0x0080, "Mid voltage"},
	{0x0100, "Overload"},
	{0x0200, "DC ripple"},
	{0x0400, "Low AC out voltage"},
	{0x0800, "High AC out voltage"},
	{0x1000, "Short circuit"},
	{0x2000, "BMS lockout"},
}

// DeviceStateString returns the display name of a charger/inverter state
func DeviceStateString(state uint8) string {
	if name, ok := deviceStates[state]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (0x%02X)", state)
}

// ChargerErrorString returns the display name of a charger error code
func ChargerErrorString(code uint8) string {
	if name, ok := chargerErrors[code]; ok {
		return name
	}
	return fmt.Sprintf("Unknown (0x%02X)", code)
}

// OffReasonString lists the reasons set in an off-reason bitmask
func OffReasonString(mask uint32) string {
	return bitmaskString(mask, offReasons)
}

// AlarmString lists the alarms set in an alarm bitmask
func AlarmString(mask uint16) string {
	return bitmaskString(uint32(mask), alarms)
}

// AuxModeString names what the shunt auxiliary input measures
func AuxModeString(mode decoder.AuxMode) string {
	switch mode {
	case decoder.AuxModeVoltage:
		return "Starter voltage"
	case decoder.AuxModeMidpoint:
		return "Midpoint voltage"
	case decoder.AuxModeTemperature:
		return "Temperature"
	case decoder.AuxModeNone:
		return "None"
	default:
		return fmt.Sprintf("Unknown (0x%02X)", uint8(mode))
	}
}

func bitmaskString(mask uint32, names []bitName) string {
	if mask == 0 {
		return "None"
	}

	var parts []string
	rest := mask
	for _, n := range names {
		if mask&n.bit != 0 {
			parts = append(parts, n.name)
			rest &^= n.bit
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("Unknown (0x%02X)", rest))
	}
	return strings.Join(parts, ", ")
}
