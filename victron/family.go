package victron

import (
	"strings"

	"github.com/mjasion/balena-home/victron/decoder"
)

// DeviceFamily groups Victron products that share an advertisement layout
type DeviceFamily int

const (
	FamilyUnknown DeviceFamily = iota
	FamilySmartShunt
	FamilySmartSolar
	FamilyBlueSmartCharger
	FamilyInverter
	FamilyDCDCConverter
	FamilyBatteryProtect
	FamilySmartLithium
	FamilyLynxBMS
	FamilyMultiRS
	FamilyVEBus
	FamilyOrionXS
	FamilyBatterySense
)

var familyNames = map[DeviceFamily]string{
	FamilyUnknown:          "Unknown",
	FamilySmartShunt:       "SmartShunt",
	FamilySmartSolar:       "SmartSolar",
	FamilyBlueSmartCharger: "Blue Smart Charger",
	FamilyInverter:         "Inverter",
	FamilyDCDCConverter:    "DC-DC Converter",
	FamilyBatteryProtect:   "Battery Protect",
	FamilySmartLithium:     "Smart Lithium",
	FamilyLynxBMS:          "Lynx Smart BMS",
	FamilyMultiRS:          "Multi RS",
	FamilyVEBus:            "VE.Bus",
	FamilyOrionXS:          "Orion XS",
	FamilyBatterySense:     "Smart Battery Sense",
}

// String returns the display name of the family
func (f DeviceFamily) String() string {
	if name, ok := familyNames[f]; ok {
		return name
	}
	return familyNames[FamilyUnknown]
}

// Layout returns the payload layout used by the family
func (f DeviceFamily) Layout() decoder.Layout {
	switch f {
	case FamilySmartShunt:
		return decoder.LayoutShunt
	case FamilySmartSolar, FamilyBlueSmartCharger:
		return decoder.LayoutSolar
	case FamilyDCDCConverter, FamilyOrionXS:
		return decoder.LayoutDCDC
	default:
		return decoder.LayoutGeneric
	}
}

type classifierRule struct {
	patterns []string
	family   DeviceFamily
}

// Evaluated top to bottom; a name containing several patterns takes the
// first family that matches, so more specific patterns must stay above the
// generic ones they contain.
var classifierRules = []classifierRule{
	{[]string{"battery protect", "batteryprotect"}, FamilyBatteryProtect},
	{[]string{"smartshunt", "shunt", "bmv", "battery monitor"}, FamilySmartShunt},
	{[]string{"battery sense"}, FamilyBatterySense},
	{[]string{"smart lithium", "lithium", "battery"}, FamilySmartLithium},
	{[]string{"lynx"}, FamilyLynxBMS},
	{[]string{"multi rs"}, FamilyMultiRS},
	{[]string{"multiplus", "quattro"}, FamilyVEBus},
	{[]string{"inverter", "phoenix"}, FamilyInverter},
	{[]string{"orion xs"}, FamilyOrionXS},
	{[]string{"orion", "dc-dc", "dcdc", "converter"}, FamilyDCDCConverter},
	{[]string{"solar", "mppt"}, FamilySmartSolar},
	{[]string{"charger", "blue smart", "blue"}, FamilyBlueSmartCharger},
}

// Classify maps an advertised device name to its family
func Classify(name string) DeviceFamily {
	lower := strings.ToLower(name)
	for _, rule := range classifierRules {
		for _, pattern := range rule.patterns {
			if strings.Contains(lower, pattern) {
				return rule.family
			}
		}
	}
	return FamilyUnknown
}
