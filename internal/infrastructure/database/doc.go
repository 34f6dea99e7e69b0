// Package database provides the bridge's local SQLite store.
//
// The store is small and write-rarely: it journals batches the delivery
// pipeline had to drop so an operator can inspect or replay them. It runs
// in WAL mode with a busy timeout and a single connection, since SQLite
// allows only one writer.
//
// Schema changes are applied by Migrate from an fs.FS of paired
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql files, normally the
// embedded migrations package:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.DeadLetter.Path, BusyTimeout: 5})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// All queries use parameterised statements and the database file is
// restricted to 0600.
package database
