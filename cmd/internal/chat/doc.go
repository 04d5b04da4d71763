// Package chat implements per-pair message threads.
//
// A thread is a singly-linked chain of messages: every message points at its predecessor
// and the pair's Session points at the newest one (the head). Each party also owns a tail,
// a high-water mark below which that party no longer sees messages.
//
// All mutations of a thread run under a pairlock keyed by the sorted pair of user ids, so two
// concurrent sends can never both read the same head and lose a node.
//
// Stores are plain CRUD over records. Pointers and timestamps are encrypted by the Engine
// before they reach a store (seal -> persist -> open for the caller); stores only ever see
// opaque strings in those columns.
package chat
