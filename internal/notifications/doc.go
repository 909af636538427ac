// Package notifications emails a summary when a run finishes.
//
// Delivery goes through SMTP using the [notifications] settings and degrades to
// a no-op when notifications are disabled or incomplete. Callers depend only on
// the Service interface.
package notifications
