// Package lock provides the mutual exclusion used around worker activation.
// The in-memory locker serves a single process; the Redis locker lets every
// proxy sharing a Redis storage agree on which instance purges old
// partitions. Locks carry a TTL so a crashed holder cannot block forever.
package lock
