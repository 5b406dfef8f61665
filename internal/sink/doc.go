// Package sink holds the storage schema shared by the persistence backends.
// Each backend lives in its own subpackage and implements parking.Sink.
package sink
