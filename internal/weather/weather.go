package weather

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

const (
	defaultBaseURL   = "https://api.open-meteo.com/v1"
	defaultLatitude  = -34.6118
	defaultLongitude = -58.3960
	defaultLocation  = "Buenos Aires"
)

type Data struct {
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
	WeatherCode int       `json:"weatherCode"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Timestamp   time.Time `json:"timestamp"`
	Fallback    bool      `json:"fallback,omitempty"`
}

type forecastResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		Humidity    float64 `json:"relative_humidity_2m"`
		WindSpeed   float64 `json:"wind_speed_10m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
}

// Client fetches current outdoor conditions and caches them for ttl.
type Client struct {
	http      *resty.Client
	latitude  float64
	longitude float64
	location  string
	ttl       time.Duration

	mu        sync.Mutex
	cached    *Data
	fetchedAt time.Time
}

// swappable for tests
var now = time.Now

func NewClient(latitude, longitude float64, ttl time.Duration) *Client {
	return NewClientWithBaseURL(defaultBaseURL, latitude, longitude, ttl)
}

func NewClientWithBaseURL(baseURL string, latitude, longitude float64, ttl time.Duration) *Client {
	location := fmt.Sprintf("%.4f,%.4f", latitude, longitude)
	if latitude == 0 && longitude == 0 {
		latitude, longitude, location = defaultLatitude, defaultLongitude, defaultLocation
	}
	return &Client{
		http:      resty.New().SetBaseURL(baseURL).SetTimeout(10 * time.Second),
		latitude:  latitude,
		longitude: longitude,
		location:  location,
		ttl:       ttl,
	}
}

// Current returns cached data when fresh. Upstream failures yield a fixed
// fallback so the dashboard always has something to show.
func (c *Client) Current(ctx context.Context) Data {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && now().Sub(c.fetchedAt) < c.ttl {
		return *c.cached
	}

	data, err := c.fetch(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch weather data")
		return Data{
			Temperature: 22.0,
			Humidity:    60,
			WindSpeed:   5.0,
			WeatherCode: 0,
			Description: Describe(0),
			Location:    c.location,
			Timestamp:   now(),
			Fallback:    true,
		}
	}

	c.cached = &data
	c.fetchedAt = now()
	log.Info().Float64("temperature", data.Temperature).Float64("humidity", data.Humidity).Msg("Weather updated")
	return data
}

func (c *Client) fetch(ctx context.Context) (Data, error) {
	var body forecastResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"latitude":  strconv.FormatFloat(c.latitude, 'f', -1, 64),
			"longitude": strconv.FormatFloat(c.longitude, 'f', -1, 64),
			"current":   "temperature_2m,relative_humidity_2m,wind_speed_10m,weather_code",
			"timezone":  "auto",
		}).
		SetResult(&body).
		Get("/forecast")
	if err != nil {
		return Data{}, err
	}
	if resp.IsError() {
		return Data{}, fmt.Errorf("weather api error: %d", resp.StatusCode())
	}

	return Data{
		Temperature: math.Round(body.Current.Temperature*10) / 10,
		Humidity:    math.Round(body.Current.Humidity),
		WindSpeed:   math.Round(body.Current.WindSpeed*10) / 10,
		WeatherCode: body.Current.WeatherCode,
		Description: Describe(body.Current.WeatherCode),
		Location:    c.location,
		Timestamp:   now(),
	}, nil
}

var descriptions = map[int]string{
	0:  "Clear sky",
	1:  "Mainly clear",
	2:  "Partly cloudy",
	3:  "Overcast",
	45: "Fog",
	48: "Depositing rime fog",
	51: "Light drizzle",
	53: "Moderate drizzle",
	55: "Dense drizzle",
	61: "Light rain",
	63: "Moderate rain",
	65: "Heavy rain",
	71: "Light snow",
	73: "Moderate snow",
	75: "Heavy snow",
	95: "Thunderstorm",
	96: "Thunderstorm with light hail",
	99: "Thunderstorm with heavy hail",
}

// Describe maps a WMO weather code to text.
func Describe(code int) string {
	if d, ok := descriptions[code]; ok {
		return d
	}
	return "Unknown"
}
