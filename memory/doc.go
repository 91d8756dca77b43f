// Package memory implements the CKP memory capability: the
// claw.memory.store, claw.memory.query and claw.memory.compact methods.
//
// An Executor validates parameters and hands them to a Handler. Two handlers
// ship with the package:
//
//   - InMemoryStore keeps entries in process memory. It is the default for
//     tests and for agents that do not need memory to survive a restart.
//   - RedisStore keeps each named store in a Redis list so several agent
//     processes can share it.
//
// Both apply the same query semantics:
//
//   - key: entries whose key equals query.key.
//   - time-range: entries stored between query.time_range.from and .to
//     (inclusive, RFC 3339).
//   - semantic: every entry, scored by how many query terms its content
//     contains and ordered by descending score. Stores are not backed by an
//     embedding model; the score is a term-overlap ratio between 0 and 1.
//
// Results are capped at query.top_k when it is positive. Semantic queries
// default to DefaultTopK.
//
// Example:
//
//	store := memory.NewInMemoryStore(memory.WithKeepLast(100))
//	exec := memory.NewExecutor(store)
//	for method, h := range exec.Methods() {
//		agentMethods[method] = h
//	}
package memory
