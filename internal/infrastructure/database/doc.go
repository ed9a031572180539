// Package database provides the SQLite connection used for persisted
// session state.
//
// Open configures WAL mode, the busy timeout and a single-connection pool.
// Migrate applies versioned, additive .sql files from any fs.FS, normally
// the embedded migrations package.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is created with mode 0600
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
package database
