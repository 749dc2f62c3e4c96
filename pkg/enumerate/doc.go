/*
Package enumerate builds the initial name index for a volume.

Two producers share one emit-driven contract. The MFT enumerator is the
NTFS fast path: it scans the master file table over a raw volume handle
and yields entries carrying the filesystem's own file references, at
roughly 100k entries per second. It needs elevation; without it the
caller receives ErrPrivilege and demotes the volume to the walk path.

The walk enumerator is the universal path: a depth-first traversal from
the mount root that mints synthetic, monotonically increasing node_refs
(root is 0) and keeps a transient path→ref map only long enough to wire
parent links. Symlinks and junctions are not followed by default; when
following is enabled, a visited set keyed by the device+inode equivalent
breaks cycles. Unreadable entries are skipped with a warning.

Both enumerators check cancellation at least every 10 000 records.
*/
package enumerate
