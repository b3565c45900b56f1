// Package billing provides the domain model for app charges required by the gateway.
//
// Billing state is derived per request and never stored:
//   - Settings: the charge the app requires (name, amount, currency, interval)
//   - Charge: an existing charge reported by the platform
//   - Status / Result: the outcome of comparing the two
//
// The gate that evaluates these lives in the application layer and fails closed
// when the platform cannot be queried.
package billing
