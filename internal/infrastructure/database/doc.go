// Package database opens the SQLite file that backs the controller's
// latest-reading store.
//
// The connection is tuned for SQLite's single-writer model: one open
// connection, WAL journaling when enabled, and a busy timeout so
// concurrent cycle writes queue instead of failing with SQLITE_BUSY.
//
// Schema changes ship as paired YYYYMMDD_HHMMSS_name.{up,down}.sql files
// in an fs.FS (normally the embedded migrations package) and are applied
// with Migrate, one transaction per file.
//
//	db, err := database.Open(database.FromConfig(cfg.Database))
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
