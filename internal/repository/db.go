package repository

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// InitDB opens (or creates) a SQLite database at the given path and ensures
// all required tables exist. Pass ":memory:" for an in-memory database.
func InitDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return db, nil
}

func createTables(db *sql.DB) error {
	stmts := []string{
		// The UNIQUE constraint on external_id is the idempotency guarantee;
		// the application-level existence check is only a fast path.
		`CREATE TABLE IF NOT EXISTS transactions (
			id TEXT PRIMARY KEY,
			external_id TEXT UNIQUE NOT NULL,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL,
			bank_code TEXT NOT NULL,
			pix_key TEXT,
			end_to_end_id TEXT,
			tx_id TEXT,
			branch TEXT,
			account_number TEXT,
			payee_tax_id TEXT,
			due_date DATETIME,
			payer_name TEXT,
			payer_tax_id TEXT,
			instructions TEXT,
			nosso_numero TEXT,
			asset_type TEXT,
			wallet_address TEXT,
			version INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_end_to_end ON transactions(end_to_end_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_nosso_numero ON transactions(nosso_numero)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_bank_created ON transactions(bank_code, created_at)`,

		`CREATE TABLE IF NOT EXISTS qrcodes (
			id TEXT PRIMARY KEY,
			external_id TEXT UNIQUE NOT NULL,
			kind TEXT NOT NULL,
			pix_key TEXT NOT NULL,
			amount TEXT,
			expires_in INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			image_base64 TEXT,
			created_at DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS events (
			aggregate_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			type TEXT NOT NULL,
			payload TEXT NOT NULL,
			occurred_at DATETIME NOT NULL,
			PRIMARY KEY (aggregate_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`,

		`CREATE TABLE IF NOT EXISTS reconciliation_batches (
			id TEXT PRIMARY KEY,
			bank_code TEXT NOT NULL,
			range_from DATETIME NOT NULL,
			range_to DATETIME NOT NULL,
			run_at DATETIME NOT NULL,
			source_note TEXT,
			total INTEGER NOT NULL,
			reconciled INTEGER NOT NULL,
			divergent INTEGER NOT NULL,
			missing_in_bank INTEGER NOT NULL,
			missing_in_internal INTEGER NOT NULL,
			rate REAL NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recon_batches_run_at ON reconciliation_batches(run_at)`,

		`CREATE TABLE IF NOT EXISTS reconciliation_items (
			id TEXT PRIMARY KEY,
			batch_id TEXT NOT NULL,
			classification TEXT NOT NULL,
			internal_tx_id TEXT,
			internal_external_id TEXT,
			bank_tx_id TEXT,
			end_to_end_id TEXT,
			nosso_numero TEXT,
			internal_amount TEXT,
			bank_amount TEXT,
			reason TEXT NOT NULL,
			FOREIGN KEY (batch_id) REFERENCES reconciliation_batches(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recon_items_batch ON reconciliation_items(batch_id)`,
		`CREATE INDEX IF NOT EXISTS idx_recon_items_class ON reconciliation_items(classification)`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:60], err)
		}
	}

	return nil
}
