/*
Package applier batches change events into store transactions.

Journal consumers and the initial enumeration pump funnel through one
applier. Reconciliation passes, post-mount validation included, commit
their own swap transaction; every writer serializes on the store's
write token. Events dedup within a batch keyed by
(volume, node_ref): later events override earlier ones, a create
followed by a delete collapses to nothing, a rename supersedes a prior
create or modify while keeping the insert pending, and a modify only
merges size and mtime into whatever survives.

A batch commits when it reaches the configured batch size, when the
linger timeout fires, or when a producer demands durability
(ApplyAndFlush — the journal consumer will not advance its checkpoint
past events that are not committed). Within a commit, directory upserts
precede file upserts so same-batch children find their parents, and
deletes run last, cascading through directory subtrees in the same
transaction. Contended commits retry with exponential backoff up to a
short ceiling, after which ErrBusyTimeout surfaces to the producer with
the batch intact for wholesale retry.
*/
package applier
