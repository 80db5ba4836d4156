package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Provider identifies the upstream API family a backend speaks.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGemini    Provider = "gemini"
)

// Valid reports whether p is a known provider.
func (p Provider) Valid() bool {
	switch p {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini:
		return true
	}
	return false
}

// SwitchReason records why the active backend changed.
type SwitchReason string

const (
	ReasonConnectionFailed SwitchReason = "connection_failed"
	ReasonTimeout          SwitchReason = "timeout"
	ReasonQuota            SwitchReason = "quota"
	ReasonHighLatency      SwitchReason = "high_latency"
	ReasonManual           SwitchReason = "manual"
)

// DirectionBidirectional matches any conversion direction in model mappings.
const DirectionBidirectional = "bidirectional"

// Backend is one credentialed upstream endpoint.
type Backend struct {
	ID            int64     `json:"id"`
	GroupID       int64     `json:"group_id"`
	Name          string    `json:"name"`
	Provider      Provider  `json:"provider"`
	BaseURL       string    `json:"base_url"`
	APIKey        string    `json:"-"`
	SortOrder     int       `json:"sort_order"`
	Available     bool      `json:"available"`
	LastLatencyMs int64     `json:"last_latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Group is a failover pool of backends.
type Group struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	AutoSwitchEnabled bool      `json:"auto_switch_enabled"`
	CreatedAt         time.Time `json:"created_at"`
}

// SwitchEvent records one failover or manual switch. It is written once and
// never updated.
type SwitchEvent struct {
	ID              string       `json:"id"`
	Timestamp       time.Time    `json:"timestamp"`
	Reason          SwitchReason `json:"reason"`
	FromBackendID   *int64       `json:"from_backend_id,omitempty"`
	ToBackendID     int64        `json:"to_backend_id"`
	GroupID         int64        `json:"group_id"`
	CrossGroup      bool         `json:"cross_group"`
	LatencyBeforeMs int64        `json:"latency_before_ms"`
	LatencyAfterMs  int64        `json:"latency_after_ms"`
	ErrorMessage    string       `json:"error_message,omitempty"`
}

// RequestLog is the persisted summary of one proxied request.
type RequestLog struct {
	ID             string    `json:"id"`
	BackendID      int64     `json:"backend_id"`
	GroupID        int64     `json:"group_id"`
	Method         string    `json:"method"`
	Path           string    `json:"path"`
	ClientFormat   string    `json:"client_format"`
	UpstreamFormat string    `json:"upstream_format"`
	Model          string    `json:"model"`
	MappedModel    string    `json:"mapped_model,omitempty"`
	StatusCode     int       `json:"status_code"`
	Stream         bool      `json:"stream"`
	Attempts       int       `json:"attempts"`
	InputTokens    int64     `json:"input_tokens"`
	OutputTokens   int64     `json:"output_tokens"`
	DurationMs     int64     `json:"duration_ms"`
	ErrorType      string    `json:"error_type,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ModelMapping translates a model name for one conversion direction.
type ModelMapping struct {
	ID          int64  `json:"id"`
	SourceModel string `json:"source_model"`
	TargetModel string `json:"target_model"`
	Direction   string `json:"direction"`
	Priority    int    `json:"priority"`
	Enabled     bool   `json:"enabled"`
	Custom      bool   `json:"custom"`
}

// Store is the narrow persistence accessor used by the proxy core.
type Store interface {
	GetBackend(ctx context.Context, id int64) (*Backend, error)
	GetGroup(ctx context.Context, id int64) (*Group, error)

	// ListAvailableBackends returns the group's available backends ordered by
	// sort order (ties broken by id).
	ListAvailableBackends(ctx context.Context, groupID int64) ([]*Backend, error)

	UpdateBackendLatency(ctx context.Context, id int64, latencyMs int64) error
	InsertSwitchEvent(ctx context.Context, ev *SwitchEvent) error
	InsertRequestLog(ctx context.Context, rl *RequestLog) error
	ListModelMappings(ctx context.Context) ([]*ModelMapping, error)
}

// Common storage errors that can be checked with errors.Is().
var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTooFewBackends is returned when enabling auto-switch on a group with
	// fewer than two available backends.
	ErrTooFewBackends = errors.New("auto-switch requires at least two available backends")

	// ErrDuplicateMapping is returned when an enabled mapping already exists for
	// the same source model and direction.
	ErrDuplicateMapping = errors.New("an enabled mapping already exists for this source model and direction")

	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store is closed")
)

// StorageError wraps a driver error with the operation that failed.
type StorageError struct {
	Backend   string
	Operation string
	Err       error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %s failed: %v", e.Backend, e.Operation, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

func newStorageError(backend, op string, err error) *StorageError {
	return &StorageError{Backend: backend, Operation: op, Err: err}
}
