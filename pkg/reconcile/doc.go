/*
Package reconcile rescans volumes back into agreement with the
filesystem.

A reconciliation pass enumerates the volume into a throwaway bbolt
staging file, then swaps it in under a single store transaction: clear
the old set, upsert the staged set, advance the checkpoint, return the
volume to Live. Readers observe either the old truth or the new one,
never a mix, and a scan that dies mid-way leaves the index untouched.

The schedule loop fires interval rescans for non-journaled volumes
(journaled volumes only reconcile on journal wrap/recreate or post-mount
drift) and runs the offline-retention sweep daily and at startup,
purging entries in chunks before dropping the volume record.
*/
package reconcile
