package secret

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/wovenflow/engine/engine/core"
)

// Provider resolves a Reference's path (and optional key) to a secret
// value. Implementations are registered with a Manager under the name
// that appears as the reference's provider segment.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, ref Reference) (string, error)
}

// EnvProvider is the built-in provider named "env": it reads the
// process environment by path, optionally pulling a single field out
// of a `KEY=a,b=c`-shaped value when Key is set.
type EnvProvider struct{}

func NewEnvProvider() *EnvProvider { return &EnvProvider{} }

func (*EnvProvider) Name() string { return "env" }

func (*EnvProvider) Fetch(_ context.Context, ref Reference) (string, error) {
	val, ok := os.LookupEnv(ref.Path)
	if !ok {
		return "", core.Errorf(core.KindInvalidConfig, "secret %q not found in environment", ref.Path)
	}
	if ref.Key == "" {
		return val, nil
	}
	return extractField(val, ref.Key)
}

// extractField supports a lightweight `k=v,k2=v2` encoding so a single
// environment variable can back several keyed secrets (e.g. a JSON-ish
// credentials blob flattened at deploy time).
func extractField(blob, key string) (string, error) {
	for _, pair := range strings.Split(blob, ",") {
		k, v, found := strings.Cut(pair, "=")
		if found && strings.TrimSpace(k) == key {
			return strings.TrimSpace(v), nil
		}
	}
	return "", core.Errorf(core.KindInvalidConfig, "key %q not present in secret value", key)
}

// HTTPProvider is a remote secret provider named "http": it fetches a
// secret's value from a configured base URL, treating Path as the
// sub-path of the request and Key (if set) as a field to pull out of a
// JSON object response. Modeled on the teacher's resty-based HTTP
// clients (retry + timeout baked into the shared client), reused here
// for the one ambient-infra concern spec §4.7 calls "pluggable
// provider" without naming a transport.
type HTTPProvider struct {
	client  *resty.Client
	baseURL string
}

// NewHTTPProvider builds an HTTPProvider against baseURL, with a 10s
// timeout and resty's built-in retry (up to 3 retries after the first
// attempt, 200ms-1s backoff).
func NewHTTPProvider(baseURL string) *HTTPProvider {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second)
	return &HTTPProvider{client: client, baseURL: strings.TrimRight(baseURL, "/")}
}

func (*HTTPProvider) Name() string { return "http" }

func (p *HTTPProvider) Fetch(ctx context.Context, ref Reference) (string, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		Get(p.baseURL + "/" + strings.TrimLeft(ref.Path, "/"))
	if err != nil {
		return "", core.NewError(err, core.KindNetworkError, map[string]any{"provider": "http", "path": ref.Path})
	}
	if resp.IsError() {
		return "", core.Errorf(core.KindInvalidConfig, "secret fetch for %q returned status %d", ref.Path, resp.StatusCode())
	}
	body := strings.TrimSpace(resp.String())
	if ref.Key == "" {
		return body, nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return "", core.NewError(err, core.KindInvalidConfig, map[string]any{"provider": "http", "path": ref.Path})
	}
	v, ok := decoded[ref.Key]
	if !ok {
		return "", core.Errorf(core.KindInvalidConfig, "key %q not present in secret response", ref.Key)
	}
	return fmt.Sprintf("%v", v), nil
}
