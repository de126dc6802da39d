// Package watchdog surfaces hardware operations that never finish. The
// motion controller waits for its alarm without a deadline; if the timer
// dies the agent would hang silently, so every blocking operation runs
// under a guard that reports it once its budget plus a grace period is
// spent.
//
// Typical use:
//
//	done := wd.Guard("drive", duration)
//	defer done()
package watchdog
