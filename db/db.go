package db

import (
	"database/sql"
	"errors"

	"privchat/models"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// ErrDuplicate is returned when a registration collides with an
// existing username or phone.
var ErrDuplicate = errors.New("username or phone already exists")

type DB struct {
	conn   *sql.DB
	scheme CredentialScheme
}

// New opens (creating if needed) the SQLite database at path. A nil
// scheme defaults to plain equality.
func New(path string, scheme CredentialScheme) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	if scheme == nil {
		scheme = PlainScheme{}
	}

	db := &DB{conn: conn, scheme: scheme}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			country TEXT NOT NULL DEFAULT '',
			phone TEXT UNIQUE NOT NULL,
			username TEXT UNIQUE NOT NULL,
			secret TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			message TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			delivered INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_undelivered ON messages(recipient, delivered, id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// CreateAccount registers a new account. Uniqueness of username and
// phone is enforced by the schema, so a concurrent duplicate insert
// still comes back as ErrDuplicate.
func (db *DB) CreateAccount(country, phone, username, secret string) error {
	stored, err := db.scheme.Fingerprint(secret)
	if err != nil {
		return err
	}

	_, err = db.conn.Exec(
		"INSERT INTO users (country, phone, username, secret) VALUES (?, ?, ?, ?)",
		country, phone, username, stored,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// VerifyAccount checks a secret against the account matching identifier
// by either username or phone. On success it returns the canonical
// username.
func (db *DB) VerifyAccount(identifier, secret string) (string, bool, error) {
	var username, stored string
	err := db.conn.QueryRow(
		"SELECT username, secret FROM users WHERE phone = ? OR username = ?",
		identifier, identifier,
	).Scan(&username, &stored)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	if !db.scheme.Verify(stored, secret) {
		return "", false, nil
	}
	return username, true, nil
}

// EnqueueMessage appends an undelivered message and returns its id.
// Ids are assigned monotonically by AUTOINCREMENT, which is what the
// per-recipient delivery order rides on.
func (db *DB) EnqueueMessage(sender, recipient, body, sentAt string) (int64, error) {
	res, err := db.conn.Exec(
		"INSERT INTO messages (sender, recipient, message, timestamp, delivered) VALUES (?, ?, ?, ?, 0)",
		sender, recipient, body, sentAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FetchUndelivered returns the queued messages for recipient in
// ascending id order.
func (db *DB) FetchUndelivered(recipient string) ([]models.PendingMessage, error) {
	rows, err := db.conn.Query(
		"SELECT id, sender, recipient, message, timestamp, delivered FROM messages WHERE recipient = ? AND delivered = 0 ORDER BY id ASC",
		recipient,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.PendingMessage
	for rows.Next() {
		var m models.PendingMessage
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Body, &m.SentAt, &m.Delivered); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

// MarkDelivered flips delivered for exactly the given ids, in one
// transaction. Unknown ids are a no-op.
func (db *DB) MarkDelivered(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare("UPDATE messages SET delivered = 1 WHERE id = ?")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.Exec(id); err != nil {
			tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// ListAccounts returns all accounts ordered by username,
// case-insensitively.
func (db *DB) ListAccounts() ([]models.Account, error) {
	rows, err := db.conn.Query(
		"SELECT id, country, phone, username, secret FROM users ORDER BY username COLLATE NOCASE",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Country, &a.Phone, &a.Username, &a.Secret); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}

	return accounts, rows.Err()
}

// DeleteAccount removes the account. Messages are kept: delivery
// history survives account deletion.
func (db *DB) DeleteAccount(username string) error {
	_, err := db.conn.Exec("DELETE FROM users WHERE username = ?", username)
	return err
}

// CountAccounts reports the number of registered accounts.
func (db *DB) CountAccounts() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users").Scan(&count)
	return count, err
}

// CountUndelivered reports the number of queued, not yet delivered
// messages.
func (db *DB) CountUndelivered() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM messages WHERE delivered = 0").Scan(&count)
	return count, err
}
