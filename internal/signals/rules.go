// Package signals turns weather and holiday context into demand multipliers.
//
// The rule table lives in rules.yaml (embedded) and can be replaced at runtime
// through SIGNAL_RULES_PATH. Tables are versioned so a multiplier in a
// simulation narrative can be traced back to the table that produced it.
package signals

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
	"unicode"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var embeddedRules []byte

// RuleTable is the parsed, validated multiplier configuration
type RuleTable struct {
	Version  int            `yaml:"version"`
	Weather  []WeatherRule  `yaml:"weather"`
	Holidays HolidayRules   `yaml:"holidays"`
	Calendar []CalendarDate `yaml:"calendar"`
}

// WeatherRule matches a temperature band and/or precipitation.
// MinTempC is inclusive unless MinExclusive is set; MaxTempC is exclusive.
type WeatherRule struct {
	Name          string   `yaml:"name"`
	Reason        string   `yaml:"reason"`
	MinTempC      *float64 `yaml:"min_temp_c"`
	MinExclusive  bool     `yaml:"min_exclusive"`
	MaxTempC      *float64 `yaml:"max_temp_c"`
	Precipitation bool     `yaml:"precipitation"`
	Multiplier    float64  `yaml:"multiplier"`
	Keywords      []string `yaml:"keywords"`
}

// HolidayRules configures the holiday-proximity uplift
type HolidayRules struct {
	WindowDays      int                `yaml:"window_days"`
	Multiplier      float64            `yaml:"multiplier"`
	DefaultKeywords []string           `yaml:"default_keywords"`
	Relevance       []HolidayRelevance `yaml:"relevance"`
}

// HolidayRelevance lists the kinds a named holiday lifts
type HolidayRelevance struct {
	Holiday  string   `yaml:"holiday"`
	Keywords []string `yaml:"keywords"`
}

// CalendarDate is a holiday used by the calendar provider. It is either a
// fixed month/day or, when Weekday is set, the Week-th such weekday of the
// month (-1 for the last one). Locales entries match a locale exactly or as
// its country prefix ("CA" matches "CA-ON").
type CalendarDate struct {
	Name    string   `yaml:"name"`
	Month   int      `yaml:"month"`
	Day     int      `yaml:"day"`
	Weekday string   `yaml:"weekday"`
	Week    int      `yaml:"week"`
	Locales []string `yaml:"locales"`
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Occurrence returns the holiday's date in year
func (c CalendarDate) Occurrence(year int) time.Time {
	month := time.Month(c.Month)
	if c.Weekday == "" {
		return time.Date(year, month, c.Day, 0, 0, 0, 0, time.UTC)
	}

	wd := weekdays[strings.ToLower(c.Weekday)]
	if c.Week < 0 {
		last := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
		back := (int(last.Weekday()) - int(wd) + 7) % 7
		return last.AddDate(0, 0, -back)
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	ahead := (int(wd) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, ahead+7*(c.Week-1))
}

// ParseRules decodes and validates a rule table
func ParseRules(data []byte) (*RuleTable, error) {
	var table RuleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to decode signal rules: %w", err)
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	table.normalize()
	return &table, nil
}

// LoadRules reads the table at path, or the embedded table when path is empty
func LoadRules(path string) (*RuleTable, error) {
	if strings.TrimSpace(path) == "" {
		return ParseRules(embeddedRules)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signal rules %s: %w", path, err)
	}
	return ParseRules(data)
}

var (
	defaultOnce  sync.Once
	defaultTable *RuleTable
)

// DefaultRules returns the embedded table. It panics if the embedded file is
// invalid, which can only happen through a bad build.
func DefaultRules() *RuleTable {
	defaultOnce.Do(func() {
		t, err := ParseRules(embeddedRules)
		if err != nil {
			panic(fmt.Sprintf("embedded signal rules invalid: %v", err))
		}
		defaultTable = t
	})
	return defaultTable
}

// Validate checks the table for values the engine cannot use
func (t *RuleTable) Validate() error {
	if t.Version <= 0 {
		return errors.New("signal rules: version must be positive")
	}
	for i, r := range t.Weather {
		if r.Name == "" {
			return fmt.Errorf("signal rules: weather rule %d has no name", i)
		}
		if r.Multiplier < 1 {
			return fmt.Errorf("signal rules: weather rule %s multiplier %.2f below 1.0", r.Name, r.Multiplier)
		}
		if len(r.Keywords) == 0 {
			return fmt.Errorf("signal rules: weather rule %s has no keywords", r.Name)
		}
		if r.MinTempC == nil && r.MaxTempC == nil && !r.Precipitation {
			return fmt.Errorf("signal rules: weather rule %s has no condition", r.Name)
		}
		if r.MinTempC != nil && r.MaxTempC != nil && *r.MinTempC >= *r.MaxTempC {
			return fmt.Errorf("signal rules: weather rule %s has an empty temperature band", r.Name)
		}
	}
	if t.Holidays.WindowDays < 0 {
		return errors.New("signal rules: holiday window must not be negative")
	}
	if t.Holidays.Multiplier != 0 && t.Holidays.Multiplier < 1 {
		return fmt.Errorf("signal rules: holiday multiplier %.2f below 1.0", t.Holidays.Multiplier)
	}
	for _, c := range t.Calendar {
		if c.Month < 1 || c.Month > 12 {
			return fmt.Errorf("signal rules: calendar date %q out of range", c.Name)
		}
		if c.Weekday == "" {
			if c.Day < 1 || c.Day > 31 {
				return fmt.Errorf("signal rules: calendar date %q out of range", c.Name)
			}
			continue
		}
		if _, ok := weekdays[strings.ToLower(c.Weekday)]; !ok {
			return fmt.Errorf("signal rules: calendar date %q has unknown weekday %q", c.Name, c.Weekday)
		}
		if c.Week == 0 || c.Week < -1 || c.Week > 5 {
			return fmt.Errorf("signal rules: calendar date %q week must be 1-5 or -1", c.Name)
		}
	}
	return nil
}

func (t *RuleTable) normalize() {
	for i := range t.Weather {
		t.Weather[i].Keywords = lowerAll(t.Weather[i].Keywords)
	}
	t.Holidays.DefaultKeywords = lowerAll(t.Holidays.DefaultKeywords)
	for i := range t.Holidays.Relevance {
		t.Holidays.Relevance[i].Holiday = strings.ToLower(t.Holidays.Relevance[i].Holiday)
		t.Holidays.Relevance[i].Keywords = lowerAll(t.Holidays.Relevance[i].Keywords)
	}
}

func (r *WeatherRule) matchesTemperature(tempC float64) bool {
	if r.MinTempC == nil && r.MaxTempC == nil {
		return true
	}
	if r.MinTempC != nil {
		if r.MinExclusive && tempC <= *r.MinTempC {
			return false
		}
		if !r.MinExclusive && tempC < *r.MinTempC {
			return false
		}
	}
	if r.MaxTempC != nil && tempC >= *r.MaxTempC {
		return false
	}
	return true
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// matchesKeyword reports whether any keyword appears in kind as a whole word
// or word sequence. The last word of a keyword also matches its plural.
func matchesKeyword(kind string, keywords []string) bool {
	words := tokenize(kind)
	for _, k := range keywords {
		if containsPhrase(words, tokenize(k)) {
			return true
		}
	}
	return false
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsPhrase(words, phrase []string) bool {
	n := len(phrase)
	if n == 0 {
		return false
	}
	for i := 0; i+n <= len(words); i++ {
		match := true
		for j := 0; j < n-1; j++ {
			if words[i+j] != phrase[j] {
				match = false
				break
			}
		}
		if match && pluralOf(words[i+n-1], phrase[n-1]) {
			return true
		}
	}
	return false
}

func pluralOf(word, singular string) bool {
	switch word {
	case singular, singular + "s", singular + "es":
		return true
	}
	return strings.HasSuffix(singular, "y") && word == singular[:len(singular)-1]+"ies"
}
