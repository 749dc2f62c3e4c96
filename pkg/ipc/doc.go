/*
Package ipc exposes search and status to the separate UI process over a
locally named duplex channel.

The channel is a named pipe (\\.\pipe\brindex) on Windows and a unix
socket under the data directory elsewhere. Framing is a 4-byte
little-endian length followed by a UTF-8 JSON payload, capped at 16 MiB;
reads loop until the declared length is satisfied.

Each connection serves exactly one request: the server reads the
envelope, executes against a fresh store read snapshot, writes one
response, and closes. Accepting continues concurrently with in-flight
handlers; a per-request soft deadline aborts stuck connections, and
shutdown stops accepting then waits for handlers up to a bounded grace.

Errors cross the boundary as short machine-readable codes (parse_error
carries the offending position); implementation detail stays server
side.
*/
package ipc
