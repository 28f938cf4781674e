/*
Package log provides structured logging for fedhub using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages (production default)
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: component-scoped child logger, chainable at call sites

# Usage

Initializing the Logger:

	import "github.com/cortexlab/fedhub/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("server started")
	log.Warn("blob store unreachable, running degraded")
	log.Error("training cycle failed")

Structured Logging:

	log.Logger.Info().
		Str("version", "1.0.1718000000").
		Float64("accuracy", 0.94).
		Msg("model published")

Component Loggers:

	trainerLog := log.WithComponent("trainer")
	trainerLog.Info().Int("rows", 1240).Msg("training started")
	trainerLog.Error().Err(err).Msg("export failed")

# Output Examples

JSON Format (Production):

	{"level":"info","component":"orchestrator","time":"2026-06-10T10:30:00Z","message":"cycle complete"}
	{"level":"error","component":"blob","error":"expired_access_token","time":"2026-06-10T10:30:02Z","message":"upload failed"}

Console Format (Development):

	10:30:00 INF cycle complete component=orchestrator
	10:30:02 ERR upload failed component=blob error="expired_access_token"

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() so aggregators can group them

Don't:
  - Log tokens or client message contents at Info level
  - Use Debug level in production
  - Concatenate strings (use .Str, .Int)
*/
package log
