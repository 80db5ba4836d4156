// Package logging builds the relay's slog logger.
//
// # Overview
//
// New returns a *Logger that embeds *slog.Logger and adds:
//   - JSON or text output selected by telemetry.logging.format
//   - a level that can be changed at runtime (SetLevel), used by config
//     hot reload
//   - request_id and backend fields copied from the context on every
//     *Context call
//   - masking of backend credentials (sk-, sk-ant-, AIza keys, bearer tokens,
//     api-key headers) in messages and attributes
//
// # Usage
//
//	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
//	if err != nil {
//	    return err
//	}
//	slog.SetDefault(logger.Logger)
//
//	ctx = logging.WithRequestID(ctx, "req-1700000000-00000000000000000001")
//	slog.InfoContext(ctx, "forwarding", "api_key", key) // request_id added, key masked
package logging
