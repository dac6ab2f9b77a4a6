package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"inventory-decision-engine/internal/models"
	"inventory-decision-engine/internal/util"

	"go.uber.org/zap"
)

// ContextProvider fetches raw external context. Implementations may fail;
// SafeProvider is what the engine actually talks to.
type ContextProvider interface {
	Weather(ctx context.Context, locale string, day time.Time) (*models.WeatherSnapshot, error)
	UpcomingHoliday(ctx context.Context, locale string, asOf time.Time) (*models.HolidaySignal, error)
}

// Cache stores JSON values with a TTL; the Redis client satisfies it
type Cache interface {
	GetJSON(ctx context.Context, key string, dest interface{}) (bool, error)
	SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// HTTPWeatherProvider reads weather from a JSON endpoint:
// GET {endpoint}?locale=XX&date=YYYY-MM-DD -> {"temperature_c":-3.5,"condition":"SNOW","precipitation":true}
// A 404 means the endpoint has nothing for that locale and day.
type HTTPWeatherProvider struct {
	endpoint string
	client   *http.Client
}

// NewHTTPWeatherProvider creates a weather provider with its own client timeout
func NewHTTPWeatherProvider(endpoint string, timeout time.Duration) *HTTPWeatherProvider {
	return &HTTPWeatherProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

type weatherPayload struct {
	TemperatureC  *float64 `json:"temperature_c"`
	Condition     string   `json:"condition"`
	Precipitation bool     `json:"precipitation"`
}

// Weather fetches the snapshot for locale on day
func (p *HTTPWeatherProvider) Weather(ctx context.Context, locale string, day time.Time) (*models.WeatherSnapshot, error) {
	day = truncateDay(day)
	q := url.Values{}
	q.Set("locale", locale)
	q.Set("date", day.Format("2006-01-02"))
	u := p.endpoint + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build weather request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("weather request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("weather endpoint returned %d", resp.StatusCode)
	}

	var payload weatherPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode weather payload: %w", err)
	}
	if payload.TemperatureC == nil {
		return nil, fmt.Errorf("weather payload for %s has no temperature", locale)
	}

	return &models.WeatherSnapshot{
		Locale:        locale,
		TemperatureC:  *payload.TemperatureC,
		Condition:     strings.ToUpper(payload.Condition),
		Precipitation: payload.Precipitation,
		Day:           day,
		ObservedAt:    time.Now().UTC(),
	}, nil
}

// UpcomingHoliday is not served by the weather endpoint
func (p *HTTPWeatherProvider) UpcomingHoliday(context.Context, string, time.Time) (*models.HolidaySignal, error) {
	return nil, nil
}

// CalendarProvider answers holiday lookups from the rule table's calendar
type CalendarProvider struct {
	dates []CalendarDate
}

// NewCalendarProvider creates a holiday provider over the table's calendar
func NewCalendarProvider(rules *RuleTable) *CalendarProvider {
	if rules == nil {
		rules = DefaultRules()
	}
	return &CalendarProvider{dates: rules.Calendar}
}

// Weather is not served by the calendar
func (p *CalendarProvider) Weather(context.Context, string, time.Time) (*models.WeatherSnapshot, error) {
	return nil, nil
}

// UpcomingHoliday returns the nearest holiday on or after asOf's day
func (p *CalendarProvider) UpcomingHoliday(_ context.Context, locale string, asOf time.Time) (*models.HolidaySignal, error) {
	day := truncateDay(asOf)

	type candidate struct {
		name string
		date time.Time
	}
	var candidates []candidate
	for _, d := range p.dates {
		if !appliesToLocale(d.Locales, locale) {
			continue
		}
		date := d.Occurrence(day.Year())
		if date.Before(day) {
			date = d.Occurrence(day.Year() + 1)
		}
		candidates = append(candidates, candidate{name: d.Name, date: date})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].date.Before(candidates[j].date) })
	next := candidates[0]

	return &models.HolidaySignal{
		Locale:    locale,
		Name:      next.name,
		Date:      next.date,
		DaysUntil: int(next.date.Sub(day).Hours() / 24),
	}, nil
}

// CompositeProvider takes weather from one provider and holidays from another
type CompositeProvider struct {
	weather  ContextProvider
	holidays ContextProvider
}

// NewCompositeProvider combines a weather source and a holiday source
func NewCompositeProvider(weather, holidays ContextProvider) *CompositeProvider {
	return &CompositeProvider{weather: weather, holidays: holidays}
}

func (p *CompositeProvider) Weather(ctx context.Context, locale string, day time.Time) (*models.WeatherSnapshot, error) {
	return p.weather.Weather(ctx, locale, day)
}

func (p *CompositeProvider) UpcomingHoliday(ctx context.Context, locale string, asOf time.Time) (*models.HolidaySignal, error) {
	return p.holidays.UpcomingHoliday(ctx, locale, asOf)
}

// CachedProvider memoizes lookups per locale and calendar day
type CachedProvider struct {
	next  ContextProvider
	cache Cache
	ttl   time.Duration
}

// NewCachedProvider wraps next with a day-keyed cache
func NewCachedProvider(next ContextProvider, cache Cache, ttl time.Duration) *CachedProvider {
	return &CachedProvider{next: next, cache: cache, ttl: ttl}
}

func (p *CachedProvider) Weather(ctx context.Context, locale string, day time.Time) (*models.WeatherSnapshot, error) {
	key := fmt.Sprintf("signal:weather:%s:%s", locale, day.UTC().Format("2006-01-02"))

	var cached models.WeatherSnapshot
	if ok, err := p.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		util.SignalCacheHitsTotal.WithLabelValues("hit").Inc()
		return &cached, nil
	}
	util.SignalCacheHitsTotal.WithLabelValues("miss").Inc()

	w, err := p.next.Weather(ctx, locale, day)
	if err != nil || w == nil {
		return w, err
	}
	_ = p.cache.SetJSON(ctx, key, w, p.ttl)
	return w, nil
}

func (p *CachedProvider) UpcomingHoliday(ctx context.Context, locale string, asOf time.Time) (*models.HolidaySignal, error) {
	key := fmt.Sprintf("signal:holiday:%s:%s", locale, asOf.UTC().Format("2006-01-02"))

	var cached models.HolidaySignal
	if ok, err := p.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		util.SignalCacheHitsTotal.WithLabelValues("hit").Inc()
		return &cached, nil
	}
	util.SignalCacheHitsTotal.WithLabelValues("miss").Inc()

	h, err := p.next.UpcomingHoliday(ctx, locale, asOf)
	if err != nil || h == nil {
		return h, err
	}
	_ = p.cache.SetJSON(ctx, key, h, p.ttl)
	return h, nil
}

// SafeProvider bounds every lookup by a timeout and converts failures into an
// absent signal. It never returns an error.
type SafeProvider struct {
	next    ContextProvider
	timeout time.Duration
	logger  *zap.Logger
}

// NewSafeProvider wraps next; a nil next always yields an empty signal
func NewSafeProvider(next ContextProvider, timeout time.Duration) *SafeProvider {
	return &SafeProvider{
		next:    next,
		timeout: timeout,
		logger:  util.ComponentLogger("signals"),
	}
}

// Context gathers weather and holiday for locale on asOf's day
func (p *SafeProvider) Context(ctx context.Context, locale string, asOf time.Time) *models.ContextualSignal {
	signal := &models.ContextualSignal{Locale: locale, Day: truncateDay(asOf)}
	if p.next == nil || locale == "" {
		return signal
	}

	signal.Weather = p.weather(ctx, locale, signal.Day)
	signal.Holiday = p.holiday(ctx, locale, asOf)
	return signal
}

func (p *SafeProvider) weather(ctx context.Context, locale string, day time.Time) *models.WeatherSnapshot {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		w   *models.WeatherSnapshot
		err error
	}
	ch := make(chan result, 1)
	go func() {
		w, err := p.next.Weather(ctx, locale, day)
		ch <- result{w, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			p.degrade("weather", "error", locale, r.err)
			return nil
		}
		if r.w != nil && !r.w.Day.IsZero() && !r.w.Day.Equal(day) {
			p.degrade("weather", "stale", locale, fmt.Errorf("snapshot for %s, wanted %s",
				r.w.Day.Format("2006-01-02"), day.Format("2006-01-02")))
			return nil
		}
		return r.w
	case <-ctx.Done():
		p.degrade("weather", "timeout", locale, ctx.Err())
		return nil
	}
}

func (p *SafeProvider) holiday(ctx context.Context, locale string, asOf time.Time) *models.HolidaySignal {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		h   *models.HolidaySignal
		err error
	}
	ch := make(chan result, 1)
	go func() {
		h, err := p.next.UpcomingHoliday(ctx, locale, asOf)
		ch <- result{h, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			p.degrade("holiday", "error", locale, r.err)
			return nil
		}
		return r.h
	case <-ctx.Done():
		p.degrade("holiday", "timeout", locale, ctx.Err())
		return nil
	}
}

func (p *SafeProvider) degrade(source, reason, locale string, err error) {
	util.SignalFallbacksTotal.WithLabelValues(source, reason).Inc()
	p.logger.Warn("External signal unavailable, using neutral multiplier",
		zap.String("source", source),
		zap.String("locale", locale),
		zap.Error(err))
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func appliesToLocale(locales []string, locale string) bool {
	if len(locales) == 0 {
		return true
	}
	for _, l := range locales {
		if strings.EqualFold(l, locale) {
			return true
		}
		if len(locale) > len(l) && locale[len(l)] == '-' && strings.EqualFold(locale[:len(l)], l) {
			return true
		}
	}
	return false
}
