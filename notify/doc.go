// Package notify delivers lockout and suspicious-login notices.
//
// The engine calls a Notifier from its own goroutine with a bounded context;
// delivery failures are logged and never change an authentication result.
// SMTPNotifier sends plain-text mail through github.com/wneessen/go-mail.
package notify
