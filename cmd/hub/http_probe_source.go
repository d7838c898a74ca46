package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/farmsense/hub/internal/orchestrator"
)

// httpProbeSource reads a field's sensors from a gateway's HTTP API, the
// production counterpart to simulatedProbeSource. Grounded on the same
// HTTPRequestExecutor pattern as valve.HTTPTransport: a plain *http.Client,
// JSON in, JSON out.
type httpProbeSource struct {
	client  *http.Client
	baseURL string
}

func newHTTPProbeSource(baseURL string) *httpProbeSource {
	return &httpProbeSource{client: &http.Client{Timeout: 10 * time.Second}, baseURL: baseURL}
}

type gatewayReading struct {
	SensorID      string   `json:"sensor_id"`
	Depth         int      `json:"depth"`
	VWC           float64  `json:"vwc"`
	Temperature   *float64 `json:"temperature,omitempty"`
	Potential     *float64 `json:"potential,omitempty"`
	SignalQuality float64  `json:"signal_quality"`
}

func (p *httpProbeSource) ReadField(ctx context.Context, field orchestrator.Field) ([]orchestrator.RawReading, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/fields/"+field.ID+"/readings", nil)
	if err != nil {
		return nil, fmt.Errorf("http probe source: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http probe source: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http probe source: unexpected status %d", resp.StatusCode)
	}

	var gatewayReadings []gatewayReading
	if err := json.NewDecoder(resp.Body).Decode(&gatewayReadings); err != nil {
		return nil, fmt.Errorf("http probe source: decode response: %w", err)
	}

	readings := make([]orchestrator.RawReading, 0, len(gatewayReadings))
	for _, gr := range gatewayReadings {
		readings = append(readings, orchestrator.RawReading{
			SensorID:      gr.SensorID,
			Depth:         gr.Depth,
			VWC:           gr.VWC,
			Temperature:   gr.Temperature,
			Potential:     gr.Potential,
			SignalQuality: gr.SignalQuality,
		})
	}
	return readings, nil
}
