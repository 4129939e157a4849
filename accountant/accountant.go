// Package accountant tracks what this node owes and is owed for routing
// and exit service, backed by a SQLite-persisted receivable/payable
// ledger. Grounded on original_source/node/src/accountant/receivable_dao.rs's
// try-update-else-insert pattern, translated to Go with modernc.org/sqlite
// (the pack's one SQLite-driver repo, keysaver-server's storage.go) in
// place of rusqlite.
package accountant

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cvsouth/corenet/hopper"
	"github.com/cvsouth/corenet/proxyclient"
	"github.com/cvsouth/corenet/wallet"
)

// ReportRoutingServiceConsumed and ReportExitServiceConsumed mirror the
// Provided messages from the consuming side — this node paid a peer for
// routing or exit service it used.
type ReportRoutingServiceConsumed struct {
	EarningWallet wallet.Wallet
	PayloadSize   int
}

type ReportExitServiceConsumed struct {
	EarningWallet wallet.Wallet
	PayloadSize   int
	ServiceRate   int64
	ByteRate      int64
}

// Accountant is the sole owner of the accounting database (spec §5); no
// other actor ever touches it directly.
type Accountant struct {
	logger *slog.Logger
	db     *sql.DB
}

// Open opens (creating if absent) the SQLite-backed ledger at dbPath and
// ensures its schema exists.
func Open(dbPath string, logger *slog.Logger) (*Accountant, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("accountant: open database: %w", err)
	}
	a := &Accountant{logger: logger, db: db}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("accountant: init schema: %w", err)
	}
	return a, nil
}

func (a *Accountant) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS receivable (
		wallet_address TEXT PRIMARY KEY,
		balance INTEGER NOT NULL,
		last_received_timestamp INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS payable (
		wallet_address TEXT PRIMARY KEY,
		balance INTEGER NOT NULL,
		last_paid_timestamp INTEGER NOT NULL
	);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (a *Accountant) Close() error { return a.db.Close() }

// OnRoutingServiceProvided credits w's receivable balance by payloadSize
// bytes' worth of routing service. A nil wallet (the zero-hop/free case)
// is a no-op — there is no one to bill.
func (a *Accountant) OnRoutingServiceProvided(_ context.Context, msg hopper.RoutingServiceProvided) {
	if msg.ConsumingWallet == nil {
		return
	}
	a.moreMoneyReceivable(*msg.ConsumingWallet, int64(msg.PayloadSize))
}

// OnExitServiceProvided credits w's receivable balance by a rate-weighted
// amount for exit service.
func (a *Accountant) OnExitServiceProvided(_ context.Context, msg proxyclient.ReportExitServiceProvided) {
	if msg.ConsumingWallet == nil {
		return
	}
	amount := msg.ServiceRate + int64(msg.PayloadSize)*msg.ByteRate
	a.moreMoneyReceivable(*msg.ConsumingWallet, amount)
}

// OnRoutingServiceConsumed debits this node's payable balance for routing
// service it used from w.
func (a *Accountant) OnRoutingServiceConsumed(_ context.Context, msg ReportRoutingServiceConsumed) {
	a.moreMoneyPayable(msg.EarningWallet, int64(msg.PayloadSize))
}

// OnExitServiceConsumed debits this node's payable balance for exit
// service it used from w.
func (a *Accountant) OnExitServiceConsumed(_ context.Context, msg ReportExitServiceConsumed) {
	amount := msg.ServiceRate + int64(msg.PayloadSize)*msg.ByteRate
	a.moreMoneyPayable(msg.EarningWallet, amount)
}

// moreMoneyReceivable implements the try-update-else-insert pattern from
// receivable_dao.rs's more_money_receivable: a corrupt database is a
// fatal panic per spec §7, since the process can safely restart and
// replay its view from gossip.
func (a *Accountant) moreMoneyReceivable(w wallet.Wallet, amount int64) {
	updated, err := a.tryUpdate("receivable", "last_received_timestamp", w, amount)
	if err != nil {
		panic(fmt.Sprintf("Database is corrupt: %s", err))
	}
	if updated {
		return
	}
	if err := a.tryInsert("receivable", "last_received_timestamp", w, amount); err != nil {
		panic(fmt.Sprintf("Database is corrupt: %s", err))
	}
}

func (a *Accountant) moreMoneyPayable(w wallet.Wallet, amount int64) {
	updated, err := a.tryUpdate("payable", "last_paid_timestamp", w, amount)
	if err != nil {
		panic(fmt.Sprintf("Database is corrupt: %s", err))
	}
	if updated {
		return
	}
	if err := a.tryInsert("payable", "last_paid_timestamp", w, amount); err != nil {
		panic(fmt.Sprintf("Database is corrupt: %s", err))
	}
}

func (a *Accountant) tryUpdate(table, tsColumn string, w wallet.Wallet, amount int64) (bool, error) {
	query := fmt.Sprintf("UPDATE %s SET balance = balance + ?, %s = ? WHERE wallet_address = ?", table, tsColumn)
	res, err := a.db.Exec(query, amount, time.Now().Unix(), w.Address)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (a *Accountant) tryInsert(table, tsColumn string, w wallet.Wallet, amount int64) error {
	query := fmt.Sprintf("INSERT INTO %s (wallet_address, balance, %s) VALUES (?, ?, ?)", table, tsColumn)
	_, err := a.db.Exec(query, w.Address, amount, time.Now().Unix())
	return err
}

// AccountStatus is the read-side counterpart to the receivable/payable
// tables, used by tests and any future reporting surface.
type AccountStatus struct {
	WalletAddress string
	Balance       int64
	LastTimestamp int64
}

// ReceivableStatus reads back w's receivable balance, if any row exists.
func (a *Accountant) ReceivableStatus(w wallet.Wallet) (AccountStatus, bool, error) {
	return a.status("receivable", "last_received_timestamp", w)
}

// PayableStatus reads back w's payable balance, if any row exists.
func (a *Accountant) PayableStatus(w wallet.Wallet) (AccountStatus, bool, error) {
	return a.status("payable", "last_paid_timestamp", w)
}

func (a *Accountant) status(table, tsColumn string, w wallet.Wallet) (AccountStatus, bool, error) {
	query := fmt.Sprintf("SELECT balance, %s FROM %s WHERE wallet_address = ?", tsColumn, table)
	row := a.db.QueryRow(query, w.Address)
	var status AccountStatus
	status.WalletAddress = w.Address
	if err := row.Scan(&status.Balance, &status.LastTimestamp); err != nil {
		if err == sql.ErrNoRows {
			return AccountStatus{}, false, nil
		}
		return AccountStatus{}, false, fmt.Errorf("accountant: query %s: %w", table, err)
	}
	return status, true, nil
}
