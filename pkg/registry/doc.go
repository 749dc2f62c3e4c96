/*
Package registry maintains the set of live volumes and drives each
volume's state machine.

Per-volume states are Uninitialized, Building, Live, Reconciling,
Offline and Disabled. Mount arrivals probe the filesystem's identity
(serial + classified kind); a mismatch against the identity stored at
that mount is a media swap — the prior volume goes Offline in place and
the newcomer starts Building. Remounts within the retention window
resume: a journaled volume whose checkpoint still replays goes straight
to Live and lets the consumer catch up, anything else validates with a
full rescan. Unmounts retain data Offline until the retention sweep.

The registry owns the per-volume workers: at most one enumeration or
rebuild worker per volume, at most one journal consumer, all feeding
the single applier. Reconciliation excludes journal application for its
volume — the consumer is stopped first and restarted from a freshly
bootstrapped checkpoint after the rescan commits. Volumes that lose raw
volume access demote to the walk/reconcile machinery, surfaced once.

Mount presence is polled (drive-letter bitmap on Windows, stat
elsewhere, with an fsnotify nudge on the mount-table parents) and
changes are debounced for 100 ms so boot-time bursts do not cascade
into parallel rebuilds.
*/
package registry
