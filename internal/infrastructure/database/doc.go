// Package database provides SQLite connectivity for Gray Logic IoT.
//
// The database holds the device catalogue (tracked device identities, used
// to rebuild the worker hierarchy at startup) and the aggregate query log.
// Temperature readings are never persisted here.
//
// Usage:
//
//	db, err := database.Open(database.Config{
//	    Path:        cfg.Database.Path,
//	    WALMode:     cfg.Database.WALMode,
//	    BusyTimeout: cfg.Database.BusyTimeout,
//	})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are embedded by the migrations package and named
// YYYYMMDD_HHMMSS_description.up.sql / .down.sql. Each one runs in its own
// transaction and is recorded in schema_migrations.
package database
