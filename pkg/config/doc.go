/*
Package config provides typed configuration for the BRindeX service.

Configuration is a YAML file with one keyed section per concern: the data
directory, per-volume records (explicit opt-in), journal polling and CPU
throttle settings, offline retention, batching, and excludes. Unknown keys
are ignored with a warning so newer config files degrade gracefully on older
binaries; missing keys take documented defaults. Configuration reload
requires a restart in v1 — the loaded Config is treated as immutable and is
shared by reference across subsystems.

Example:

	data_dir: C:\ProgramData\BRindeX
	journal_poll_interval: 30s
	volumes:
	  "C:\\":
	    enabled: true
	excludes:
	  paths:
	    - C:\Windows\WinSxS
	  extensions:
	    - tmp
*/
package config
