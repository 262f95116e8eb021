// Package scheduler owns the authoritative set of scheduled posts.
//
// It allocates posting slots (optimal-hour scan with spacing rules),
// arms one-shot triggers, hands due items to the posting executor, and
// reconciles persisted state after a restart. An item is removed from
// the registry after exactly one execution attempt; failures land in a
// persisted failed ledger and are never retried automatically.
package scheduler
