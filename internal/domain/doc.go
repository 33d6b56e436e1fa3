// Package domain defines the core domain types and interfaces.
//
// Concept-oriented files (user.go, notification.go, work.go, event.go) hold shared
// types and the repository contracts the adapters implement. No implementation code.
package domain
