package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/i474232898/quarter-sensor-simulator/internal/weather"
	"github.com/sony/gobreaker"
)

const DefaultWeatherstackURL = "http://api.weatherstack.com/current"

// WeatherstackConfig holds the fixed query sent on every refresh.
type WeatherstackConfig struct {
	BaseURL    string
	APIKey     string
	Query      string
	MaxRetries int
}

// WeatherstackProvider implements the weather.Provider interface for weatherstack.com.
type WeatherstackProvider struct {
	name    string
	apiKey  string
	query   string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherstackProvider(client *http.Client, cfg WeatherstackConfig) *WeatherstackProvider {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "weatherstack",
		MaxRequests: 1,
		Interval:    1 * time.Hour,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultWeatherstackURL
	}

	return &WeatherstackProvider{
		name:    "weatherstack",
		apiKey:  cfg.APIKey,
		query:   cfg.Query,
		baseURL: baseURL,
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      cfg.MaxRetries,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
		},
		circuit: cb,
	}
}

func (p *WeatherstackProvider) Name() string {
	return p.name
}

func (p *WeatherstackProvider) Fetch(ctx context.Context) (weather.Reading, error) {
	if p.apiKey == "" {
		return weather.Reading{}, fmt.Errorf("weatherstack access key is not configured")
	}
	if p.query == "" {
		return weather.Reading{}, fmt.Errorf("weatherstack location query is not configured")
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("access_key", p.apiKey)
		values.Set("query", p.query)
		// "m" selects metric units on weatherstack.
		values.Set("units", "m")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return weather.Reading{}, err
	}
	defer resp.Body.Close()

	// weatherstack reports failures as HTTP 200 with success=false and an error object.
	var payload struct {
		Success *bool `json:"success"`
		Error   *struct {
			Code int    `json:"code"`
			Type string `json:"type"`
			Info string `json:"info"`
		} `json:"error"`
		Location struct {
			LocaltimeEpoch int64 `json:"localtime_epoch"`
		} `json:"location"`
		Current *struct {
			Temperature *float64 `json:"temperature"`
		} `json:"current"`
	}

	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return weather.Reading{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if payload.Error != nil || (payload.Success != nil && !*payload.Success) {
		if payload.Error != nil {
			return weather.Reading{}, fmt.Errorf("%w: weatherstack error %d (%s): %s",
				ErrMalformedResponse, payload.Error.Code, payload.Error.Type, payload.Error.Info)
		}
		return weather.Reading{}, fmt.Errorf("%w: weatherstack reported success=false", ErrMalformedResponse)
	}

	if payload.Current == nil || payload.Current.Temperature == nil {
		return weather.Reading{}, fmt.Errorf("%w: missing current.temperature", ErrMalformedResponse)
	}

	ts := time.Now().UTC()
	if payload.Location.LocaltimeEpoch > 0 {
		ts = time.Unix(payload.Location.LocaltimeEpoch, 0).UTC()
	}

	return weather.Reading{
		ProviderName: p.name,
		Query:        p.query,
		TemperatureC: *payload.Current.Temperature,
		ObservedAt:   ts,
	}, nil
}
