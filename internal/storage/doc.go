// Package storage journals unit outcomes (accomplished, aborted, reset,
// failed) so they survive restarts and can be listed with `gratwin history`.
//
// Drivers: "file" (JSON Lines) and "sqlite" (modernc.org/sqlite, pure Go).
package storage
