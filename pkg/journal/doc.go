/*
Package journal consumes NTFS change journals into change events.

Each poll tick queries the journal's identity and bounds, classifies the
stored checkpoint against them — a changed identity is a recreate, a
checkpoint below the lowest valid position is a wrap, both of which hand
the volume to reconciliation — and otherwise reads records forward,
converts them to change events, applies them through the change applier,
and advances the persisted position. Transient errors retry on the next
tick without moving the checkpoint, so the persisted position is
non-decreasing for a given journal identity.

Tick pacing is the configured poll interval, stretched by the throttle
multiplier while CPU utilization sits above the threshold. The consumer
starts only once its volume reaches Live, after the initial enumeration
committed and Bootstrap pinned the checkpoint at the journal head.

The syscall surface lives behind the Reader interface; the Windows
implementation reads the USN journal over a raw volume handle, and the
classification logic is exercised against fakes everywhere else.
*/
package journal
