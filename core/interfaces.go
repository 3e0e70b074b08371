package core

// Notifier is the interface for delivering notifications about mutations
// on generated resources. Notifications are delivered asynchronously
// after the triggering transaction has been committed.
//
// A non-nil error marks the delivery as failed. Failed deliveries are
// retried until the notification runs out of attempts.
type Notifier interface {
	Notify(resource string, operation Operation, payload []byte) error
}
