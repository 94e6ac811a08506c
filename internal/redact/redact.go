// Package redact sanitizes personally identifiable values before they reach
// log output. Phone numbers are the main concern: they are the end-user
// identifier on every inbound message and must never appear whole in logs.
package redact

// Phone masks a phone number, keeping only the last four digits.
// Short or empty values collapse to "***".
func Phone(phone string) string {
	if len(phone) <= 4 {
		return "***"
	}
	return "***" + phone[len(phone)-4:]
}
