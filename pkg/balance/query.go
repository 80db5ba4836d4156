package balance

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"apirelay-hq/relay/pkg/failure"
	"apirelay-hq/relay/pkg/protocol"
	"apirelay-hq/relay/pkg/storage"
)

const (
	creditGrantsPath = "/v1/dashboard/billing/credit_grants"
	deepSeekPath     = "/user/balance"
	anthropicPath    = "/v1/organizations/balance"

	maxBalanceBody = 1 << 20
)

// ErrUnsupported is returned for providers without a balance endpoint.
var ErrUnsupported = errors.New("balance query not supported for this provider")

// QueryError is a non-2xx answer from a balance endpoint.
type QueryError struct {
	StatusCode int
	Body       string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("balance endpoint returned %d: %s", e.StatusCode, e.Body)
}

// Kind classifies the failure the same way proxied requests are classified.
func (e *QueryError) Kind() failure.Kind {
	return failure.ClassifyStatus(e.StatusCode, e.Body).Kind
}

// Result is one balance lookup.
type Result struct {
	BackendID int64     `json:"backend_id"`
	Backend   string    `json:"backend"`
	Endpoint  string    `json:"endpoint"`
	Balance   Balance   `json:"balance"`
	QueriedAt time.Time `json:"queried_at"`
}

// Querier fetches balances from backends on demand.
type Querier struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewQuerier creates a querier. A nil client uses http.DefaultClient.
func NewQuerier(client *http.Client, timeout time.Duration) *Querier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Querier{
		client:  client,
		timeout: timeout,
		logger:  slog.Default().With("component", "balance"),
	}
}

// Endpoint returns the balance URL for b. OpenAI-compatible backends use the
// credit grants endpoint, except DeepSeek-hosted ones which expose
// /user/balance.
func Endpoint(b *storage.Backend) (string, error) {
	u, err := url.Parse(strings.TrimSpace(b.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base url %q", b.BaseURL)
	}
	base := strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/v1")
	u.RawQuery = ""
	u.Fragment = ""

	switch b.Provider {
	case storage.ProviderOpenAI:
		if strings.Contains(strings.ToLower(u.Hostname()), "deepseek") {
			u.Path = base + deepSeekPath
		} else {
			u.Path = base + creditGrantsPath
		}
	case storage.ProviderAnthropic:
		u.Path = base + anthropicPath
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, b.Provider)
	}
	return u.String(), nil
}

// Query fetches and parses the balance of b.
func (q *Querier) Query(ctx context.Context, b *storage.Backend) (*Result, error) {
	endpoint, err := Endpoint(b)
	if err != nil {
		return nil, err
	}

	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build balance request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	protocol.SetAuth(req.Header, protocol.Format(b.Provider), b.APIKey)

	resp, err := q.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query balance for %s: %w", b.Name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBalanceBody))
	if err != nil {
		return nil, fmt.Errorf("read balance response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := string(body)
		if len(text) > 512 {
			text = text[:512]
		}
		return nil, &QueryError{StatusCode: resp.StatusCode, Body: text}
	}

	bal, err := Parse(body)
	if err != nil {
		return nil, err
	}

	q.logger.DebugContext(ctx, "balance queried",
		"backend", b.Name,
		"schema", bal.Schema,
		"amount", bal.Amount,
	)
	return &Result{
		BackendID: b.ID,
		Backend:   b.Name,
		Endpoint:  endpoint,
		Balance:   bal,
		QueriedAt: time.Now(),
	}, nil
}
