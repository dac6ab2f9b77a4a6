package models

import "time"

// Weather conditions reported by the weather provider
const (
	ConditionClear  = "CLEAR"
	ConditionCloudy = "CLOUDY"
	ConditionRain   = "RAIN"
	ConditionSnow   = "SNOW"
	ConditionSleet  = "SLEET"
	ConditionStorm  = "STORM"
)

// WeatherSnapshot is the weather for a locale on one day
type WeatherSnapshot struct {
	Locale        string    `json:"locale"`
	TemperatureC  float64   `json:"temperature_c"`
	Condition     string    `json:"condition"`
	Precipitation bool      `json:"precipitation"`
	Day           time.Time `json:"day"`
	ObservedAt    time.Time `json:"observed_at"`
}

// HasPrecipitation reports rain, snow or similar either from the explicit flag
// or from the condition name.
func (w *WeatherSnapshot) HasPrecipitation() bool {
	if w.Precipitation {
		return true
	}
	switch w.Condition {
	case ConditionRain, ConditionSnow, ConditionSleet, ConditionStorm:
		return true
	}
	return false
}

// HolidaySignal is the nearest upcoming holiday for a locale
type HolidaySignal struct {
	Locale    string    `json:"locale"`
	Name      string    `json:"name"`
	Date      time.Time `json:"date"`
	DaysUntil int       `json:"days_until"`
}

// ContextualSignal bundles the external context for one locale and day
type ContextualSignal struct {
	Locale  string           `json:"locale"`
	Day     time.Time        `json:"day"`
	Weather *WeatherSnapshot `json:"weather,omitempty"`
	Holiday *HolidaySignal   `json:"holiday,omitempty"`
}

// ValidFor reports whether the signal was captured for the calendar day of t
func (c *ContextualSignal) ValidFor(t time.Time) bool {
	y1, m1, d1 := c.Day.UTC().Date()
	y2, m2, d2 := t.UTC().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
