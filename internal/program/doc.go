// Package program models watering programs: minute-offset schedules that
// repeat every modulo minutes from an anchor, the typed parameter variants
// that build them, the ordered program collection, and run-once overrides.
package program
