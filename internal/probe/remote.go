package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// RemoteProbe delegates a probe to another server's POST /tools/<action> endpoint.
type RemoteProbe struct {
	action  Action
	baseURL string
	client  *http.Client
}

func NewRemoteProbe(action Action, baseURL string, client *http.Client) *RemoteProbe {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteProbe{action: action, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (p *RemoteProbe) Action() Action { return p.action }

// Run posts {"url": target} and decodes the JSON response. A non-2xx status
// fails with the response body as the error text.
func (p *RemoteProbe) Run(ctx context.Context, target string) (any, error) {
	body, err := json.Marshal(map[string]string{"url": target})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/tools/"+string(p.action), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s tool: %w", p.action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", p.action, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("tool call failed: %s", strings.TrimSpace(string(raw)))
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", p.action, err)
	}
	return out, nil
}
