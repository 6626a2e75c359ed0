/*
Package log provides structured logging for fabric using zerolog.

The global Logger is configured once via Init, driven by the
logging.{level, mode} options of config.Config. Component-specific child
loggers are created with WithComponent and the domain-specific helpers
WithProcessID, WithTopic, and WithService, mirroring how every other
component attaches its identity to a logger instead of formatting it into
the message string.

# Modes

Console mode writes human-readable lines to stdout (or any io.Writer);
file mode writes JSON lines to an open file; udp mode writes the same
JSON lines to Config.Output, an io.Writer the caller supplies. This
package provides no UDP log writer of its own.

	log.Init(log.Config{Level: log.InfoLevel, Mode: log.ModeConsole})
	compLog := log.WithComponent("registry")
	compLog.Warn().Str("topic", "imu/accel").Msg("no matching subscriber")
*/
package log
