package report

import "errors"

var (
	// ErrNoRecipients means no valid recipient address is configured. The
	// report body is not built.
	ErrNoRecipients = errors.New("no valid email recipients configured")

	// ErrNoUsers means the privileged user snapshot is empty.
	ErrNoUsers = errors.New("no privileged users to include in the report")

	// ErrDelivery wraps failures of the mail transport. Nothing is retried.
	ErrDelivery = errors.New("report delivery failed")
)
