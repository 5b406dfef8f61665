// Package main is the parking-monitor entrypoint.
//
// One invocation is one run: fetch the beach parking page (colly, or chromedp
// when source.mode is headless), extract a record per beach container that
// carries both a name and a status label, and write the batch to the
// configured sink in a single insert.
//
// Flags:
//   - --no-db skips the sink and prints the records as JSON on stdout.
//   - --json prints the JSON even when the batch is persisted.
//   - --config points at an optional YAML file; every key can also be set with
//     a PARKING_ environment variable, e.g. PARKING_SINK_PROVIDER=sqlite.
//
// Credentials for the default Supabase sink come from SUPABASE_URL and
// SUPABASE_KEY and are only checked when persisting. Under GitHub Actions
// (GITHUB_ACTIONS set) a markdown report is appended to GITHUB_STEP_SUMMARY.
//
// Logs go to stderr and to a rolling file; stdout only carries JSON.
// The process exits 1 on any failure.
package main
