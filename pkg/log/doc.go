/*
Package log provides structured logging for the collaboration server using
zerolog.

The root Logger is configured once via Init. Long-lived components derive a
child logger with WithComponent and attach per-event fields (document ids,
client ids, errors) as typed zerolog fields; WithField scopes a child logger
to a single entity. All output carries timestamps; level and JSON-vs-console
formatting are controlled by Config.
*/
package log
