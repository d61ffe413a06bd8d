// Package scheduler resolves programs, run-once durations and the run-now
// program into concrete station intervals and executes them.
//
// PredictedSchedule is a pure function of the run log and one options
// snapshot: it gathers candidate intervals, scales them by the weather
// adjustment, removes station-local overlap, skips everything the run log
// already decided, applies the blocking rules and finally admits each
// interval against the usage capacity, shifting it later when needed.
//
// Tick is one transition of the controller: finish what ended (or got
// rained out), start what is due, then drive the master station and relay.
package scheduler
