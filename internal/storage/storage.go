// Package storage is the persistence port (C1): durable pegs, monitored
// transactions, and issued addresses, backed by SQLite.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sideswap-go/pegworker/internal/model"
)

// Storage provides persistent storage for the peg worker.
type Storage struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Config holds storage configuration.
type Config struct {
	DataDir string
}

// New opens (creating if necessary) the worker's SQLite database under
// cfg.DataDir.
func New(cfg *Config) (*Storage, error) {
	dataDir := expandPath(cfg.DataDir)

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "pegworker.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// SQLite only supports one writer; serialize through a single
	// connection rather than let database/sql pool writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Storage{db: db, dbPath: dbPath}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection.
func (s *Storage) DB() *sql.DB {
	return s.db
}

func (s *Storage) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pegs (
		order_id TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS monitored_txs (
		txid TEXT PRIMARY KEY,
		description TEXT,
		user_note TEXT
	);

	CREATE TABLE IF NOT EXISTS addresses (
		ind INTEGER PRIMARY KEY,
		address TEXT NOT NULL,
		user_note TEXT
	);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return err
	}

	return s.runMigrations()
}

// runMigrations applies ALTER TABLE statements needed by databases
// created under an earlier schema version. Errors are ignored since the
// column may already exist.
func (s *Storage) runMigrations() error {
	migrations := []string{
		"ALTER TABLE monitored_txs ADD COLUMN user_note TEXT",
	}

	for _, migration := range migrations {
		_, _ = s.db.Exec(migration)
	}

	return nil
}

// LoadPegs returns every persisted peg.
func (s *Storage) LoadPegs() ([]model.Peg, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT order_id FROM pegs`)
	if err != nil {
		return nil, fmt.Errorf("load pegs: %w", err)
	}
	defer rows.Close()

	var pegs []model.Peg
	for rows.Next() {
		var orderID string
		if err := rows.Scan(&orderID); err != nil {
			return nil, fmt.Errorf("scan peg: %w", err)
		}
		pegs = append(pegs, model.Peg{OrderID: model.OrderId(orderID)})
	}
	return pegs, rows.Err()
}

// AddPeg persists a new peg order id.
func (s *Storage) AddPeg(peg model.Peg) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT OR REPLACE INTO pegs (order_id) VALUES (?)`, string(peg.OrderID))
	if err != nil {
		return fmt.Errorf("add peg: %w", err)
	}
	return nil
}

// DeletePeg removes a peg order id from persistence.
func (s *Storage) DeletePeg(orderID model.OrderId) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM pegs WHERE order_id = ?`, string(orderID))
	if err != nil {
		return fmt.Errorf("delete peg: %w", err)
	}
	return nil
}

// LoadMonitoredTxs returns every persisted monitored transaction.
func (s *Storage) LoadMonitoredTxs() ([]model.MonitoredTx, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT txid, description, user_note FROM monitored_txs`)
	if err != nil {
		return nil, fmt.Errorf("load monitored txs: %w", err)
	}
	defer rows.Close()

	var out []model.MonitoredTx
	for rows.Next() {
		var txidHex string
		var description, userNote sql.NullString
		if err := rows.Scan(&txidHex, &description, &userNote); err != nil {
			return nil, fmt.Errorf("scan monitored tx: %w", err)
		}
		txid, err := chainhash.NewHashFromStr(txidHex)
		if err != nil {
			return nil, fmt.Errorf("parse monitored tx id %q: %w", txidHex, err)
		}
		out = append(out, model.MonitoredTx{
			Txid:        *txid,
			Description: description.String,
			UserNote:    userNote.String,
		})
	}
	return out, rows.Err()
}

// AddMonitoredTx persists a new monitored transaction record.
func (s *Storage) AddMonitoredTx(tx model.MonitoredTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO monitored_txs (txid, description, user_note) VALUES (?, ?, ?)`,
		tx.Txid.String(), tx.Description, tx.UserNote,
	)
	if err != nil {
		return fmt.Errorf("add monitored tx: %w", err)
	}
	return nil
}

// LoadAddresses returns every persisted issued address.
func (s *Storage) LoadAddresses() ([]model.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`SELECT ind, address, user_note FROM addresses ORDER BY ind`)
	if err != nil {
		return nil, fmt.Errorf("load addresses: %w", err)
	}
	defer rows.Close()

	var out []model.Address
	for rows.Next() {
		var ind int64
		var address string
		var userNote sql.NullString
		if err := rows.Scan(&ind, &address, &userNote); err != nil {
			return nil, fmt.Errorf("scan address: %w", err)
		}
		out = append(out, model.Address{
			Index:    uint32(ind),
			Address:  address,
			UserNote: userNote.String,
		})
	}
	return out, rows.Err()
}

// AddAddress persists a newly issued address.
func (s *Storage) AddAddress(addr model.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO addresses (ind, address, user_note) VALUES (?, ?, ?)`,
		addr.Index, addr.Address, addr.UserNote,
	)
	if err != nil {
		return fmt.Errorf("add address: %w", err)
	}
	return nil
}

func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
