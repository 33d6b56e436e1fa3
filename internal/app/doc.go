// Package app provides the application service layer.
//
// Orchestrates use cases: notification create and dispatch, least-loaded work
// assignment and reassignment, identity verification review, notification retention.
// Sits between HTTP handlers and domain repositories. Depends on domain interfaces, not concrete implementations.
package app
