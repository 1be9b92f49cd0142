// Package brokererr holds the broker's sentinel errors, compared with
// errors.Is at the call sites that care which failure they got.
package brokererr

import "errors"

var (
	// ErrQueueOwned is returned by register-consumer when the queue has
	// an exclusive owner that does not match the caller. (A competing
	// claim gets ErrLocked instead.)
	ErrQueueOwned = errors.New("queue-owned-by-another-connection")

	// ErrExclusiveConsumeUnavailable is returned by register-consumer
	// when an exclusive consumer already exists, or the caller requested
	// exclusive use but the queue already has a consumer.
	ErrExclusiveConsumeUnavailable = errors.New("exclusive-consume-unavailable")

	// ErrNotEmpty is returned by delete(if-empty=true) on a non-empty
	// queue.
	ErrNotEmpty = errors.New("not-empty")

	// ErrInUse is returned by delete(if-unused=true) on a queue that
	// still has consumers.
	ErrInUse = errors.New("in-use")

	// ErrUnknownDeliveryTag names an ack for a delivery id the channel
	// does not hold. The queue logs it with this sentinel and drops the
	// id; unknown ids in reject and requeue are skipped without a log.
	ErrUnknownDeliveryTag = errors.New("unknown-delivery-tag")

	// ErrPersisterCommitFailure is infrastructural: it terminates the
	// queue rather than bouncing back to the client.
	ErrPersisterCommitFailure = errors.New("persister-commit-failure")

	// ErrLocked is returned by claim when the queue is already in use by
	// another connection attempting exclusive ownership.
	ErrLocked = errors.New("locked")

	// ErrTerminating is returned by register-consumer once the queue has
	// begun terminating.
	ErrTerminating = errors.New("queue-terminating")
)
