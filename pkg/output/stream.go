// Copyright 2025 ftp-scan Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package output

import "sync"

// OutputSubscriber receives events from an OutputEventStream.
// Implementations decide which events they care about via ShouldHandle and
// render them in Handle.
type OutputSubscriber interface {
	// Name returns a stable identifier for the subscriber.
	Name() string

	// ShouldHandle reports whether the subscriber wants this event.
	ShouldHandle(event OutputEvent) bool

	// Handle renders the event. Emitters call it synchronously.
	Handle(event OutputEvent)
}

// OutputEventStream fans out output events to registered subscribers.
// Emit delivers each event synchronously, in subscription order, to every
// subscriber whose ShouldHandle returns true.
type OutputEventStream struct {
	mu          sync.RWMutex
	subscribers []OutputSubscriber
}

// NewOutputEventStream creates an empty event stream.
func NewOutputEventStream() *OutputEventStream {
	return &OutputEventStream{
		subscribers: make([]OutputSubscriber, 0),
	}
}

// Subscribe registers a subscriber. Subscribers are notified in the order
// they were added.
func (s *OutputEventStream) Subscribe(subscriber OutputSubscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, subscriber)
}

// SubscriberCount returns the number of registered subscribers.
func (s *OutputEventStream) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Emit delivers the event to every interested subscriber.
// The subscriber list is copied so Handle runs without the lock held.
func (s *OutputEventStream) Emit(event OutputEvent) {
	s.mu.RLock()
	subs := make([]OutputSubscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.RUnlock()

	for _, sub := range subs {
		if sub.ShouldHandle(event) {
			sub.Handle(event)
		}
	}
}
