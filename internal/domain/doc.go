// Package domain holds the value types shared by the messaging services
// and repositories: messages, recipients, attachments, links, thread edges,
// block relationships and the calling principal.
//
// The package imports nothing from internal/. Methods here are pure:
// validation, normalization and state derivation only. Persistence and
// authorization live in the service and repository layers.
package domain
