// Package syncer mirrors all repositories of a GitHub account to a
// GitLab group. For every repository of the source account it applies
// the configured filters, makes sure the destination project exists and
// transfers the full ref set via a local bare mirror clone.
//
// The pipeline is sequential and idempotent: destination projects are
// only created when absent, local clones are refreshed rather than
// re-cloned, and a mirror push converges the destination ref set. A
// single repository's failure is counted and logged but never aborts
// the batch, so the job can simply be re-run as its retry mechanism.
//
// # Logging:
//
// package takes slog reference for logging and prints logs up to 'trace' level
//
// Example:
//
//	loggerLevel  = new(slog.LevelVar)
//	levelStrings = map[string]slog.Level{
//		"trace": slog.Level(-8),
//		"debug": slog.LevelDebug,
//		"info":  slog.LevelInfo,
//		"warn":  slog.LevelWarn,
//		"error": slog.LevelError,
//	}
//
//	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//		Level: loggerLevel,
//	}))
//	loggerLevel.Set(levelStrings["trace"])
//
//	s, err := syncer.New(conf, source, destination, logger.With("logger", "syncer"))
//	if err != nil {
//		panic(err)
//	}
package syncer
