// Package journal persists the settler's order and fill history to sqlite so
// operators can query lifecycle state across restarts. It is a write-behind
// record, not the source of truth; the settlement engine is.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type OrderRow struct {
	OrderID      string    `json:"order_id"`
	User         string    `json:"user"`
	OriginChain  string    `json:"origin_chain"`
	Expires      int64     `json:"expires"`
	FillDeadline int64     `json:"fill_deadline"`
	Status       string    `json:"status"`
	OpenedAt     time.Time `json:"opened_at"`
}

type FillRow struct {
	OrderID     string    `json:"order_id"`
	OutputIndex int64     `json:"output_index"`
	Solver      string    `json:"solver"`
	Timestamp   int64     `json:"timestamp"`
	PayloadHash string    `json:"payload_hash"`
	RecordedAt  time.Time `json:"recorded_at"`
}

// Journal wraps the sqlite handle.
type Journal struct {
	db *sql.DB
}

// Open opens (creating if needed) the journal database at path. Use
// ":memory:" for an ephemeral journal.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	j := &Journal{db: db}
	if err := j.init(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) init() error {
	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			user TEXT,
			origin_chain TEXT,
			expires INTEGER,
			fill_deadline INTEGER,
			status TEXT,
			opened_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create orders table: %w", err)
	}

	_, err = j.db.Exec(`
		CREATE TABLE IF NOT EXISTS fills (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			order_id TEXT,
			output_index INTEGER,
			solver TEXT,
			timestamp INTEGER,
			payload_hash TEXT,
			recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create fills table: %w", err)
	}
	return nil
}

// InsertOrder records a newly opened order.
func (j *Journal) InsertOrder(row OrderRow) error {
	_, err := j.db.Exec(`
		INSERT INTO orders (order_id, user, origin_chain, expires, fill_deadline, status, opened_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, row.OrderID, row.User, row.OriginChain, row.Expires, row.FillDeadline, row.Status, row.OpenedAt)
	return err
}

// SetStatus advances an order's recorded lifecycle state.
func (j *Journal) SetStatus(orderID, status string) error {
	_, err := j.db.Exec(`
		UPDATE orders SET status = ? WHERE order_id = ?
	`, status, orderID)
	return err
}

// OrderByID returns the journal row for one order.
func (j *Journal) OrderByID(orderID string) (OrderRow, error) {
	var row OrderRow
	err := j.db.QueryRow(`
		SELECT order_id, user, origin_chain, expires, fill_deadline, status, opened_at
		FROM orders
		WHERE order_id = ?
	`, orderID).Scan(&row.OrderID, &row.User, &row.OriginChain, &row.Expires, &row.FillDeadline, &row.Status, &row.OpenedAt)
	return row, err
}

// RecentOrders lists the newest orders first.
func (j *Journal) RecentOrders(limit int) ([]OrderRow, error) {
	rows, err := j.db.Query(`
		SELECT order_id, user, origin_chain, expires, fill_deadline, status, opened_at
		FROM orders
		ORDER BY opened_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []OrderRow
	for rows.Next() {
		var row OrderRow
		if err := rows.Scan(&row.OrderID, &row.User, &row.OriginChain, &row.Expires, &row.FillDeadline, &row.Status, &row.OpenedAt); err != nil {
			return nil, err
		}
		orders = append(orders, row)
	}
	return orders, rows.Err()
}

// InsertFill records one attested output fill.
func (j *Journal) InsertFill(row FillRow) error {
	_, err := j.db.Exec(`
		INSERT INTO fills (order_id, output_index, solver, timestamp, payload_hash, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, row.OrderID, row.OutputIndex, row.Solver, row.Timestamp, row.PayloadHash, row.RecordedAt)
	return err
}

// FillsByOrder lists the recorded fills of one order.
func (j *Journal) FillsByOrder(orderID string) ([]FillRow, error) {
	rows, err := j.db.Query(`
		SELECT order_id, output_index, solver, timestamp, payload_hash, recorded_at
		FROM fills
		WHERE order_id = ?
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var fills []FillRow
	for rows.Next() {
		var row FillRow
		if err := rows.Scan(&row.OrderID, &row.OutputIndex, &row.Solver, &row.Timestamp, &row.PayloadHash, &row.RecordedAt); err != nil {
			return nil, err
		}
		fills = append(fills, row)
	}
	return fills, rows.Err()
}
