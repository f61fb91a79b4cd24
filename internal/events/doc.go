// Package events provides asynchronous named-topic publish/subscribe.
//
// Publishing is fire-and-forget: a publisher never blocks on subscriber
// completion and never observes subscriber failures. Delivery is
// at-least-once per currently registered subscriber, FIFO per subscriber,
// with no ordering guarantee across subscribers.
//
// Two implementations ship in tree: an in-process bus for single-binary
// deployments and tests, and a NATS-backed bus for clustered setups. An
// embedded NATS server can be started for the latter when no external
// broker is available.
package events
