// Package engine implements the provisioning orchestration core: an
// ordered task list driven by a single controller per run.
//
// A Controller executes its tasks strictly in order on one worker
// goroutine. Each task reports completion exactly once through a two-case
// result (success, or failure carrying a user-visible error code and a
// factory-reset flag). The controller emits progress signals at task
// boundaries and exactly one terminal signal per run: success, error or
// cancelled.
//
// Caller-facing signals are delivered on a Dispatcher, a serial run loop
// that stands in for the single-threaded UI context of the hosting
// component. Cancellation is cooperative: a running task is never
// interrupted, it is only prevented from being followed by another one.
package engine
