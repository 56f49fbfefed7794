package stepup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"voicegate/internal/platform/config"
)

// HTTPProvider is the production push-approval client.
type HTTPProvider struct {
	baseURL string
	httpc   *http.Client
}

// NewHTTPProvider builds a provider client. Per-call timeouts come from the
// coordinator's poll context; the transport itself stays unbounded.
func NewHTTPProvider(cfg config.StepUp) *HTTPProvider {
	return &HTTPProvider{
		baseURL: cfg.ProviderURL,
		httpc:   &http.Client{},
	}
}

type dispatchRequest struct {
	SubjectID string `json:"subject_id"`
}

type dispatchResponse struct {
	RequestID string `json:"request_id"`
}

type pollResponse struct {
	Status string `json:"status"`
}

// Dispatch sends the push approval request.
func (p *HTTPProvider) Dispatch(ctx context.Context, subjectID string) (string, error) {
	body, err := json.Marshal(dispatchRequest{SubjectID: subjectID})
	if err != nil {
		return "", fmt.Errorf("marshal dispatch request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/push", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("dispatch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("provider rejected dispatch: %d: %s", resp.StatusCode, msg)
	}

	var parsed dispatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode dispatch response: %w", err)
	}
	if parsed.RequestID == "" {
		return "", fmt.Errorf("provider returned empty request id")
	}
	return parsed.RequestID, nil
}

// Poll fetches the current verdict.
func (p *HTTPProvider) Poll(ctx context.Context, requestID string) (Verdict, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/push/"+requestID, nil)
	if err != nil {
		return "", fmt.Errorf("build poll request: %w", err)
	}

	resp, err := p.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("poll: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("poll returned %d: %s", resp.StatusCode, msg)
	}

	var parsed pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode poll response: %w", err)
	}

	switch Verdict(parsed.Status) {
	case VerdictApproved, VerdictDenied, VerdictPending:
		return Verdict(parsed.Status), nil
	default:
		return "", fmt.Errorf("unknown poll status %q", parsed.Status)
	}
}
