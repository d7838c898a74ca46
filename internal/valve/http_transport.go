package valve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPTransport is a Transport over plain HTTP, grounded on the teacher's
// HTTPRequestExecutor: one *http.Client, a JSON body, the response decoded
// into a fixed shape rather than passed through untyped. Every valve
// controller is addressed as baseURL + "/valves/{id}/open" or "/close".
type HTTPTransport struct {
	client  *http.Client
	baseURL string
}

// NewHTTPTransport constructs an HTTPTransport. The client timeout is left
// to the caller via ctx deadlines — the dispatcher's own CommandDeadline
// governs how long a call is allowed to run (§4.8), so this transport must
// not impose a shorter one of its own.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		client:  &http.Client{},
		baseURL: baseURL,
	}
}

type valveCommandRequest struct {
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
}

type valveCommandResponse struct {
	Status string `json:"status"`
}

func (t *HTTPTransport) do(ctx context.Context, path string, body valveCommandRequest) (CommandOutcome, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Fault, fmt.Errorf("valve http transport: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return Fault, fmt.Errorf("valve http transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Timeout, ctx.Err()
		}
		return Fault, fmt.Errorf("valve http transport: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Fault, fmt.Errorf("valve http transport: unexpected status %d", resp.StatusCode)
	}

	var decoded valveCommandResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Fault, fmt.Errorf("valve http transport: decode response: %w", err)
	}

	switch decoded.Status {
	case "acked":
		return Acked, nil
	case "timeout":
		return Timeout, nil
	default:
		return Fault, nil
	}
}

// Open sends an open command for duration to the valve controller at
// valveID's endpoint.
func (t *HTTPTransport) Open(ctx context.Context, valveID string, duration time.Duration) (CommandOutcome, error) {
	return t.do(ctx, "/valves/"+valveID+"/open", valveCommandRequest{DurationSeconds: duration.Seconds()})
}

// Close sends a close command to the valve controller at valveID's endpoint.
func (t *HTTPTransport) Close(ctx context.Context, valveID string) (CommandOutcome, error) {
	return t.do(ctx, "/valves/"+valveID+"/close", valveCommandRequest{})
}
