// Package webhooks contains inbound request authentication for the Todoist
// webhook surface.
//
// Verification always runs over the exact raw body bytes as received; any
// re-serialization would invalidate the HMAC. All verifiers fail closed.
package webhooks
