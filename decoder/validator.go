package decoder

import (
	"fmt"
	"math"
)

const (
	DefaultMaxVoltage     = 30.0
	DefaultMaxTemperature = 50.0
)

// Validator rejects physically implausible readings
type Validator struct {
	MaxVoltage     float64 // symmetric, |V| must not exceed it
	MaxTemperature float64 // °C ceiling
}

// DefaultValidator returns the 30 V / 50 °C limits
func DefaultValidator() Validator {
	return Validator{
		MaxVoltage:     DefaultMaxVoltage,
		MaxTemperature: DefaultMaxTemperature,
	}
}

// ValidationError reports the field that failed a range check
type ValidationError struct {
	Field string
	Value float64
	Limit float64
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %.2f (limit %.2f)", e.Field, e.Value, e.Limit)
}

// ValidateVoltage reports whether v is within ±MaxVoltage
func (v Validator) ValidateVoltage(volts float64) bool {
	return math.Abs(volts) <= v.MaxVoltage
}

// ValidateTemperature reports whether t does not exceed MaxTemperature
func (v Validator) ValidateTemperature(celsius float64) bool {
	return celsius <= v.MaxTemperature
}

func (v Validator) checkVoltage(field string, volts float64) error {
	if !v.ValidateVoltage(volts) {
		return &ValidationError{Field: field, Value: volts, Limit: v.MaxVoltage}
	}
	return nil
}

func (v Validator) checkTemperature(celsius float64) error {
	if !v.ValidateTemperature(celsius) {
		return &ValidationError{Field: "temperature", Value: celsius, Limit: v.MaxTemperature}
	}
	return nil
}
