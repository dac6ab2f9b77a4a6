package signals

import (
	"fmt"
	"math"
	"strings"

	"inventory-decision-engine/internal/models"
)

// Reasons returned when no rule contributes
const (
	ReasonNoSignal     = "no external signal"
	ReasonNoApplicable = "no applicable signal"
	ReasonDisabled     = "disabled"
)

// NeutralMultiplier leaves demand unchanged
const NeutralMultiplier = 1.0

// Engine evaluates a rule table. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	rules *RuleTable
}

// NewEngine creates an engine over the given table; nil means the embedded one
func NewEngine(rules *RuleTable) *Engine {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Engine{rules: rules}
}

// RulesVersion returns the version of the table in use
func (e *Engine) RulesVersion() int {
	return e.rules.Version
}

// ContextualMultiplier maps a product kind and the day's context to a demand
// multiplier and a human-readable reason. Weather rules do not compound with
// each other (the strongest wins); a relevant holiday compounds on top.
func (e *Engine) ContextualMultiplier(kind string, weather *models.WeatherSnapshot, holiday *models.HolidaySignal) (float64, string) {
	if weather == nil && holiday == nil {
		return NeutralMultiplier, ReasonNoSignal
	}

	multiplier := NeutralMultiplier
	var reasons []string

	if weather != nil {
		if rule := e.bestWeatherRule(kind, weather); rule != nil {
			multiplier = rule.Multiplier
			reasons = append(reasons, fmt.Sprintf("%s (%.1f°C)", rule.Reason, weather.TemperatureC))
		}
	}

	if holiday != nil && e.holidayApplies(kind, holiday) {
		multiplier *= e.rules.Holidays.Multiplier
		reasons = append(reasons, fmt.Sprintf("%s in %d days", holiday.Name, holiday.DaysUntil))
	}

	if len(reasons) == 0 {
		return NeutralMultiplier, ReasonNoApplicable
	}
	return math.Round(multiplier*1e4) / 1e4, strings.Join(reasons, "; ")
}

// Evaluate is ContextualMultiplier over a bundled signal
func (e *Engine) Evaluate(kind string, signal *models.ContextualSignal) (float64, string) {
	if signal == nil {
		return NeutralMultiplier, ReasonNoSignal
	}
	return e.ContextualMultiplier(kind, signal.Weather, signal.Holiday)
}

func (e *Engine) bestWeatherRule(kind string, w *models.WeatherSnapshot) *WeatherRule {
	var best *WeatherRule
	for i := range e.rules.Weather {
		rule := &e.rules.Weather[i]
		if !matchesKeyword(kind, rule.Keywords) {
			continue
		}
		if rule.Precipitation && !w.HasPrecipitation() {
			continue
		}
		if !rule.matchesTemperature(w.TemperatureC) {
			continue
		}
		if best == nil || rule.Multiplier > best.Multiplier {
			best = rule
		}
	}
	return best
}

func (e *Engine) holidayApplies(kind string, h *models.HolidaySignal) bool {
	cfg := e.rules.Holidays
	if cfg.Multiplier == 0 || h.DaysUntil < 0 || h.DaysUntil > cfg.WindowDays {
		return false
	}
	name := strings.ToLower(h.Name)
	for _, rel := range cfg.Relevance {
		if strings.Contains(name, rel.Holiday) {
			return matchesKeyword(kind, rel.Keywords)
		}
	}
	return matchesKeyword(kind, cfg.DefaultKeywords)
}
