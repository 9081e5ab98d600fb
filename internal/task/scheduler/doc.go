// Package scheduler triggers named jobs on cron or interval schedules.
//
// # Schedule formats
//
//   - Cron expressions: 5-field (min hour dom mon dow) or 6-field with leading
//     seconds, e.g. "0 0-35/5 13 * * 1-5".
//   - Cron descriptors: "@hourly", "@daily", "@every 55m".
//   - Interval durations: Go duration strings like "55m" or "2h30m".
//   - Interval HH:MM: "00:50" means every 50 minutes.
//
// A "cron:", "interval:" or "every:" prefix forces the interpretation.
//
// # Overlap
//
// A job whose previous run is still executing is skipped, not queued. Each
// run gets its own timeout; panics are recovered and logged.
//
// Jobs registered before Start are kept and scheduled when Start runs.
package scheduler
