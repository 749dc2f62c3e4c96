/*
Package log provides structured logging for BRindeX using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level.

# Usage

Initializing the Logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component Loggers:

	journalLog := log.WithComponent("journal")
	journalLog.Info().Str("mount", `C:\`).Msg("Journal consumer started")

	volLog := log.WithVolume("1a2b3c4d-ntfs")
	volLog.Warn().Msg("Journal wrapped, reconciling")

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at service start by the host harness
  - Accessible from all packages without passing

Context Logger Pattern:
  - Create child loggers with volume/mount/component fields
  - Pass context loggers to workers
  - Automatically includes context in all logs

Do not log query strings at error level for parse failures; those are returned
to the IPC caller instead.
*/
package log
