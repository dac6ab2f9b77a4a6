package signals

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"inventory-decision-engine/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	weather    *models.WeatherSnapshot
	holiday    *models.HolidaySignal
	err        error
	delay      time.Duration
	mu         sync.Mutex
	weatherHit int
	days       []time.Time
}

func (s *stubProvider) Weather(ctx context.Context, locale string, day time.Time) (*models.WeatherSnapshot, error) {
	s.mu.Lock()
	s.weatherHit++
	s.days = append(s.days, day)
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.weather, s.err
}

func (s *stubProvider) UpcomingHoliday(ctx context.Context, locale string, asOf time.Time) (*models.HolidaySignal, error) {
	return s.holiday, s.err
}

type mapCache struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (c *mapCache) GetJSON(_ context.Context, key string, dest interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *mapCache) SetJSON(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = raw
	return nil
}

func TestSafeProviderDegradesOnError(t *testing.T) {
	p := NewSafeProvider(&stubProvider{err: errors.New("boom")}, time.Second)

	signal := p.Context(context.Background(), "CA-ON", time.Now())

	assert.Nil(t, signal.Weather)
	assert.Nil(t, signal.Holiday)
	m, reason := NewEngine(nil).Evaluate("jacket", signal)
	assert.Equal(t, NeutralMultiplier, m)
	assert.Equal(t, ReasonNoSignal, reason)
}

func TestSafeProviderDegradesOnTimeout(t *testing.T) {
	slow := &stubProvider{weather: weather(-20, "CLEAR"), delay: time.Second}
	p := NewSafeProvider(slow, 20*time.Millisecond)

	start := time.Now()
	signal := p.Context(context.Background(), "CA-ON", time.Now())

	assert.Nil(t, signal.Weather)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSafeProviderNilUpstream(t *testing.T) {
	signal := NewSafeProvider(nil, time.Second).Context(context.Background(), "CA-ON", time.Now())
	assert.Nil(t, signal.Weather)
	assert.Nil(t, signal.Holiday)
}

func TestSafeProviderPassesThrough(t *testing.T) {
	up := &stubProvider{weather: weather(-20, "CLEAR"), holiday: &models.HolidaySignal{Name: "Christmas", DaysUntil: 4}}
	asOf := time.Date(2026, 12, 21, 15, 0, 0, 0, time.UTC)

	signal := NewSafeProvider(up, time.Second).Context(context.Background(), "CA-ON", asOf)

	require.NotNil(t, signal.Weather)
	require.NotNil(t, signal.Holiday)
	assert.True(t, signal.ValidFor(asOf))
	assert.False(t, signal.ValidFor(asOf.AddDate(0, 0, 1)))
	require.Len(t, up.days, 1)
	assert.Equal(t, time.Date(2026, 12, 21, 0, 0, 0, 0, time.UTC), up.days[0])
}

func TestSafeProviderDropsWeatherForAnotherDay(t *testing.T) {
	asOf := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	snapshot := weather(-20, "CLEAR")
	snapshot.Day = time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

	signal := NewSafeProvider(&stubProvider{weather: snapshot}, time.Second).Context(context.Background(), "CA-ON", asOf)

	assert.Nil(t, signal.Weather)
	assert.True(t, signal.ValidFor(asOf))
}

func TestCalendarProviderNearestHoliday(t *testing.T) {
	p := NewCalendarProvider(nil)

	h, err := p.UpcomingHoliday(context.Background(), "CA-ON", time.Date(2026, 12, 15, 18, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "Christmas", h.Name)
	assert.Equal(t, 10, h.DaysUntil)

	h, err = p.UpcomingHoliday(context.Background(), "CA-ON", time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "Thanksgiving", h.Name)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), h.Date)
	assert.Equal(t, 11, h.DaysUntil)

	h, err = p.UpcomingHoliday(context.Background(), "US-NY", time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "Thanksgiving", h.Name)
	assert.Equal(t, time.Date(2026, 11, 26, 0, 0, 0, 0, time.UTC), h.Date)

	h, err = p.UpcomingHoliday(context.Background(), "CA-ON", time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "Christmas", h.Name)

	h, err = p.UpcomingHoliday(context.Background(), "CA-ON", time.Date(2026, 12, 26, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "Valentine's Day", h.Name)
	assert.Equal(t, 2027, h.Date.Year())
}

func TestCachedProviderServesSecondLookupFromCache(t *testing.T) {
	up := &stubProvider{weather: weather(3, "RAIN")}
	p := NewCachedProvider(up, &mapCache{data: map[string][]byte{}}, time.Hour)

	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	first, err := p.Weather(context.Background(), "CA-ON", day)
	require.NoError(t, err)
	second, err := p.Weather(context.Background(), "CA-ON", day.Add(6*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 1, up.weatherHit)
	assert.Equal(t, first.TemperatureC, second.TemperatureC)

	_, err = p.Weather(context.Background(), "CA-ON", day.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Equal(t, 2, up.weatherHit)
}

func TestHTTPWeatherProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("date") != "2026-02-03" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch r.URL.Query().Get("locale") {
		case "CA-ON":
			_, _ = w.Write([]byte(`{"temperature_c": -18.5, "condition": "snow", "precipitation": true}`))
		case "XX":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	p := NewHTTPWeatherProvider(srv.URL, time.Second)
	day := time.Date(2026, 2, 3, 14, 30, 0, 0, time.UTC)

	w, err := p.Weather(context.Background(), "CA-ON", day)
	require.NoError(t, err)
	assert.Equal(t, -18.5, w.TemperatureC)
	assert.Equal(t, time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC), w.Day)
	assert.Equal(t, models.ConditionSnow, w.Condition)
	assert.True(t, w.HasPrecipitation())

	w, err = p.Weather(context.Background(), "XX", day)
	assert.NoError(t, err)
	assert.Nil(t, w)

	_, err = p.Weather(context.Background(), "YY", day)
	assert.Error(t, err)
}
