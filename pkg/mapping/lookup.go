// Package mapping resolves model-name substitutions for protocol conversion.
//
// Rules live in the store and are read on every lookup, so edits made through
// the CLI take effect on the next request without a restart.
package mapping

import (
	"context"
	"fmt"
	"log/slog"

	"apirelay-hq/relay/pkg/storage"
)

// Source is the read side of the mapping table.
type Source interface {
	ListModelMappings(ctx context.Context) ([]*storage.ModelMapping, error)
}

// Lookup finds target model names for a source model and direction.
type Lookup struct {
	source Source
	logger *slog.Logger
}

// New creates a lookup over source.
func New(source Source) *Lookup {
	return &Lookup{
		source: source,
		logger: slog.Default().With("component", "mapping"),
	}
}

// Direction builds the direction key used by mapping rules, for example
// "anthropic_to_openai".
func Direction(from, to string) string {
	return from + "_to_" + to
}

// Resolve returns the target model for source in the given direction. A rule
// matches when it is enabled, its source equals source, and its direction is
// either direction or bidirectional. Among matches the highest priority wins,
// ties going to the earliest-created rule. The second return is false when
// nothing matched.
func (l *Lookup) Resolve(ctx context.Context, source, direction string) (string, bool, error) {
	if source == "" {
		return "", false, nil
	}

	rules, err := l.source.ListModelMappings(ctx)
	if err != nil {
		return "", false, fmt.Errorf("load model mappings: %w", err)
	}

	var best *storage.ModelMapping
	for _, r := range rules {
		if !r.Enabled || r.SourceModel != source {
			continue
		}
		if r.Direction != direction && r.Direction != storage.DirectionBidirectional {
			continue
		}
		if best == nil || r.Priority > best.Priority || (r.Priority == best.Priority && r.ID < best.ID) {
			best = r
		}
	}

	if best == nil {
		return "", false, nil
	}

	l.logger.Debug("model mapped",
		"source", source,
		"target", best.TargetModel,
		"direction", direction,
		"rule_id", best.ID,
	)
	return best.TargetModel, true, nil
}

// Map returns the mapped model, or source unchanged when no rule applies or
// the lookup fails. Failures are logged, never surfaced to the client.
func (l *Lookup) Map(ctx context.Context, source, direction string) string {
	target, ok, err := l.Resolve(ctx, source, direction)
	if err != nil {
		l.logger.Warn("model mapping lookup failed", "source", source, "error", err)
		return source
	}
	if !ok {
		return source
	}
	return target
}
