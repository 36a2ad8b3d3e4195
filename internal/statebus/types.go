package statebus

import (
	"context"
	"errors"
)

var (
	ErrBusClosed          = errors.New("statebus: bus is closed")
	ErrSubscriberExists   = errors.New("statebus: subscriber already exists")
	ErrSubscriberNotFound = errors.New("statebus: subscriber not found")
	ErrNilChannel         = errors.New("statebus: nil channel provided")
	ErrReceiverClosed     = errors.New("statebus: receiver is closed")
)

// DropPolicy defines how the bus handles values when a subscriber cannot keep up
type DropPolicy int

const (
	// DropNew discards the value being published when the subscriber channel is full
	DropNew DropPolicy = iota
	// DropOld replaces the held value, so the subscriber always sees the latest
	DropOld
)

// String returns a human-readable string representation of the policy
func (p DropPolicy) String() string {
	if p == DropOld {
		return "drop-old"
	}
	return "drop-new"
}

// Receiver gives latest-value access to a DropOld subscription
type Receiver[T any] interface {
	// Receive blocks until a value is available; returns the zero value once closed
	Receive() T
	// TryReceive returns the latest value without blocking
	TryReceive() (T, bool)
	// Next blocks until a value newer than after is published.
	// It returns the value with its sequence number.
	Next(ctx context.Context, after uint64) (T, uint64, error)
	Close()
}

// SubscriberStats tracks distribution metrics for one subscriber
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// Stats tracks distribution metrics for the bus
type Stats struct {
	TotalPublished uint64
	Subscribers    map[string]SubscriberStats
}
