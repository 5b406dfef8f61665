// Package extract turns the parking page into records.
//
// The page lists one container per beach. Inside each container a name label
// and a status label are told apart only by substrings of their element IDs,
// which is why pairing goes through a Matcher: when the markup changes, a new
// Matcher is configured and the pipeline stays untouched.
package extract
