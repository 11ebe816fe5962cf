// Package logging configures the server's structured logger. Records are
// JSON lines written to a size-rotated log file and, unless running as an
// MCP stdio server, mirrored to stderr. The viewer reads them back for the
// logs command.
package logging
