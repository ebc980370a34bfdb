// Package logging provides structured logging for patternd.
//
// It wraps zap with a Trace level below Debug, optional OpenTelemetry log
// export, secret redaction and level-aware sampling in which errors are
// never dropped. Context-aware methods add correlation fields taken from
// the context:
//
//	ctx = logging.WithUserID(ctx, "user-42")
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "mining cycle started")
//
// produces
//
//	{"ts":"2025-03-03T03:00:00.000Z","level":"info","msg":"mining cycle started",
//	 "service":"patternd","trace_id":"...","user_id":"user-42","run_id":"..."}
//
// Library packages take a plain *zap.Logger; Logger.Underlying bridges the
// two. Tests use NewTestLogger and its assertion helpers.
package logging
