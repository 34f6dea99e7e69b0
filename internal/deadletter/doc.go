// Package deadletter journals batches the delivery pipeline dropped, so an
// operator can inspect them and replay them by hand.
//
// Journal implements delivery.Recorder and writes entries through a
// Repository from a background goroutine; BatchDropped never blocks the
// pipeline. SQLiteRepository keeps them in the dead_letters table of the
// bridge's state database, oldest first.
package deadletter
