// Package logging provides structured logging for agentsearch.
//
// # Overview
//
// The package wraps Zap with:
//   - a custom Trace level (-2, below Debug)
//   - automatic context field injection (run id, agent slug)
//   - defense-in-depth secret redaction for log output
//   - level-aware sampling (errors never sampled)
//
// This program reads arbitrary files off a user's disk, including pasted
// tool output that may itself contain API keys or tokens; redaction
// exists so that scanning a transcript never leaks its contents back out
// through our own logs.
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	ctx := logging.WithRunID(ctx, "run_20260731_093000")
//	logger.Info(ctx, "scan started", zap.String("agent", "codex"))
//
// # Sampling
//
//   - Trace, Debug, Info, Warn: one shared sampler using the Info entry
//     of SamplingConfig.Levels (by default first 100 per tick, then 1
//     every 10); the Trace, Debug and Warn entries are not consulted
//   - Error+: never sampled
package logging
