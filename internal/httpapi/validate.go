package httpapi

import (
	"fmt"

	"github.com/kstaniek/cz2gate/internal/errs"
	"github.com/kstaniek/cz2gate/internal/model"
)

// Setpoint bounds, grounded on the original's ZoneTemperatureArgs
// validators: a heat setpoint below 45 or a cool setpoint above 99
// is outside what the controller's thermostats can represent, and the
// two-degree gap keeps the equipment from short-cycling.
const (
	minHeatSetpoint = 45
	maxHeatSetpoint = 85
	minCoolSetpoint = 64
	maxCoolSetpoint = 99
	minSetpointGap  = 2
)

func validateSetpoints(heat, cool *int) error {
	if heat != nil && (*heat < minHeatSetpoint || *heat > maxHeatSetpoint) {
		return fmt.Errorf("%w: heat setpoint %d out of range [%d, %d]", errs.ErrValidation, *heat, minHeatSetpoint, maxHeatSetpoint)
	}
	if cool != nil && (*cool < minCoolSetpoint || *cool > maxCoolSetpoint) {
		return fmt.Errorf("%w: cool setpoint %d out of range [%d, %d]", errs.ErrValidation, *cool, minCoolSetpoint, maxCoolSetpoint)
	}
	if heat != nil && cool != nil && *cool-*heat < minSetpointGap {
		return fmt.Errorf("%w: cool setpoint must be at least %d above heat setpoint", errs.ErrValidation, minSetpointGap)
	}
	return nil
}

func validateZone(zoneID, zoneCount int) error {
	if zoneID < 1 || zoneID > zoneCount {
		return fmt.Errorf("%w: zone %d out of range [1, %d]", errs.ErrNotFound, zoneID, zoneCount)
	}
	return nil
}

func validateZones(zones []int, zoneCount int) error {
	if len(zones) == 0 {
		return fmt.Errorf("%w: zones must not be empty", errs.ErrValidation)
	}
	for _, z := range zones {
		if err := validateZone(z, zoneCount); err != nil {
			return err
		}
	}
	return nil
}

func parseSystemMode(raw string) (model.SystemMode, error) {
	switch model.SystemMode(raw) {
	case model.ModeHeat, model.ModeCool, model.ModeAuto, model.ModeEHeat, model.ModeOff:
		return model.SystemMode(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown system mode %q", errs.ErrValidation, raw)
	}
}

func parseFanMode(raw string) (model.FanMode, error) {
	switch model.FanMode(raw) {
	case model.FanAuto, model.FanOn:
		return model.FanMode(raw), nil
	default:
		return "", fmt.Errorf("%w: unknown fan mode %q", errs.ErrValidation, raw)
	}
}
