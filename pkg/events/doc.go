/*
Package events distributes volume lifecycle notifications.

The registry publishes mount, unmount, swap, demotion, journal
discontinuity and state-transition events. Subscriptions are scoped:
Subscribe observes every volume (the service's lifecycle log follower),
SubscribeVolume follows a single one. Delivery is best-effort by
design — a subscriber that falls behind its buffer loses events rather
than blocking a state transition, because every consumer can re-read
authoritative state from the store. Losses are counted (Dropped), never
silent.
*/
package events
