/*
Package types defines the core data structures used throughout BRindeX.

The package holds the persisted data model (Volume, Entry), the change-event
shape flowing from enumerators and the journal consumer into the applier, and
the wire-facing result records served over IPC. It has no dependencies on
other BRindeX packages so every subsystem can import it freely.

# Data Model

Volume identity is the filesystem serial plus the classified kind; the mount
point is an attribute that may change between sessions. Entries carry leaf
names only — paths are reconstructed by walking parent_ref links within a
volume, which keeps renames of deep directories O(1) in the store.

(volume_id, node_ref) is immutable for the life of an entry. On journaled
volumes node_ref is the filesystem's own file reference; on generic volumes
it is a synthetic identifier minted during a scan, and a rename is observed
as delete+create.
*/
package types
