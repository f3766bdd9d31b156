// Package services defines the business logic of the Telegram broadcast
// workflow. This file centralizes service-level error values so that they can
// be consistently returned by service methods and checked by callers.
//
// Translation into HTTP responses is performed at the handler layer.
package services

import "errors"

var (
	// ErrSubscriptionNotFound indicates that the requested listing does not
	// exist. It is wrapped with the listing id.
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrSubscriptionIDRequired is returned when a send is requested without
	// a listing id.
	ErrSubscriptionIDRequired = errors.New("subscriptionId is required")

	// ErrNotConfigured is returned when the bot token or destination id is
	// empty after applying overrides and stored settings.
	ErrNotConfigured = errors.New("telegram bot token and group id must be configured")

	// ErrRunInProgress is returned when another mutating run holds the
	// broadcast lock.
	ErrRunInProgress = errors.New("another telegram broadcast run is in progress")

	// ErrInvalidMessageID is returned when a delete is requested for a
	// non-positive message id.
	ErrInvalidMessageID = errors.New("messageId must be a positive integer")

	// ErrInvalidSetting is returned when a settings update carries a value
	// that cannot be stored (e.g. a non-boolean auto-post flag).
	ErrInvalidSetting = errors.New("invalid setting value")
)
