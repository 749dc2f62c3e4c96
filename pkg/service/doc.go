/*
Package service assembles the indexing core for a process host.

The host calls New (which opens the store first — a corrupt database is
surfaced rather than half-opened) and Run with a context whose
cancellation is the shutdown signal. Subsystems start in dependency
order and stop in reverse; the store closes last. SCM integration, log
rotation and the search UI live outside this module and embed or dial
the core through the contracts it exports.
*/
package service
