// Package turn queues player intents and advances sessions.
//
// Intake validates a proposed change against the committed state and
// stores it as a pending action. Orchestrator later folds pending actions
// into a new state through the session's ruleset.
//
// Commit protocol:
//
// An advance reads the stored state together with its concurrency tag,
// claims the pending actions (each action can be claimed by one writer
// only), runs the ruleset and writes the candidate with a compare-and-swap
// against the tag it read. When another writer committed first the
// candidate is dropped and the step is replayed on the fresh state with
// the same claimed actions plus any new ones. Conflicts never reach the
// caller; persistence failures do, after the claims are released.
package turn
