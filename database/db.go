package database

import (
	"database/sql"
	"log"
	"sync"

	_ "github.com/lib/pq"

	"github.com/clearhold/clearhold/config"
	"github.com/clearhold/clearhold/internal/cache"
)

var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Cache cache.Cache
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and
// initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		newCache, errCache := cache.NewCache()
		if errCache != nil {
			// Cache misses fall through to the database, so run without one.
			log.Printf("cache unavailable, reads go straight to the database: %v", errCache)
			newCache = nil
		}
		instance = &Datasource{Conn: con, Cache: newCache}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	for _, create := range []func(*sql.DB) error{
		createSchema,
		createLedgerEntryTable,
		createOrderTable,
		createSellerProfileTable,
		createDisputeTable,
		createPayoutScheduleTable,
		createPayoutTable,
		createPaymentOperationTable,
		createWebhookEventTable,
	} {
		if err := create(db); err != nil {
			return nil, err
		}
	}
	return db, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`CREATE SCHEMA IF NOT EXISTS clearhold`)
	return err
}

// createLedgerEntryTable creates the append-only entry store. There is no
// UPDATE or DELETE path against this table anywhere in the codebase.
func createLedgerEntryTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS clearhold.ledger_entries (
			id SERIAL PRIMARY KEY,
			entry_id TEXT NOT NULL UNIQUE,
			user_uid TEXT NOT NULL,
			role TEXT NOT NULL,
			type TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			related_order_id TEXT,
			external_id TEXT UNIQUE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			meta_data JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_currency
			ON clearhold.ledger_entries (user_uid, currency, status);
	`)
	return err
}

func createOrderTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS clearhold.orders (
			id SERIAL PRIMARY KEY,
			order_id TEXT NOT NULL UNIQUE,
			seller_id TEXT NOT NULL,
			buyer_id TEXT NOT NULL,
			total_amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT,
			delivery_status TEXT,
			delivered_at TIMESTAMP,
			processed_at TIMESTAMP,
			escrow_status TEXT NOT NULL DEFAULT 'held',
			eligibility_status TEXT NOT NULL DEFAULT 'PENDING_MATURITY',
			hold_start_at TIMESTAMP,
			release_expected_at TIMESTAMP,
			meta_data JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_orders_seller_eligibility
			ON clearhold.orders (seller_id, currency, eligibility_status);
	`)
	return err
}

func createSellerProfileTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS clearhold.seller_profiles (
			id SERIAL PRIMARY KEY,
			seller_id TEXT NOT NULL UNIQUE,
			risk_status TEXT NOT NULL DEFAULT 'ACTIVE',
			seller_level TEXT NOT NULL DEFAULT 'TIER_C',
			processor_account_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func createDisputeTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS clearhold.disputes (
			id SERIAL PRIMARY KEY,
			dispute_id TEXT NOT NULL UNIQUE,
			seller_id TEXT NOT NULL,
			order_id TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_disputes_seller ON clearhold.disputes (seller_id, status);
	`)
	return err
}

// createPayoutScheduleTable enforces scheduler idempotency with a unique
// constraint on (seller_id, currency, window_date). The constraint, not a
// lock, is the serialization point for concurrent scheduling passes.
func createPayoutScheduleTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS clearhold.payout_schedules (
			id SERIAL PRIMARY KEY,
			schedule_id TEXT NOT NULL UNIQUE,
			seller_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			window_date DATE NOT NULL,
			status TEXT NOT NULL,
			eligibility_snapshot JSONB,
			included_order_ids JSONB,
			total_count INT NOT NULL DEFAULT 0,
			total_amount BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			UNIQUE (seller_id, currency, window_date)
		)
	`)
	return err
}

func createPayoutTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS clearhold.payouts (
			id SERIAL PRIMARY KEY,
			payout_id TEXT NOT NULL UNIQUE,
			order_id TEXT NOT NULL,
			schedule_id TEXT,
			seller_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			amount BIGINT NOT NULL,
			fee BIGINT NOT NULL DEFAULT 0,
			net_amount BIGINT NOT NULL,
			status TEXT NOT NULL,
			transfer_id TEXT,
			failure_reason TEXT,
			reserved_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_payouts_order ON clearhold.payouts (order_id, status);
		CREATE INDEX IF NOT EXISTS idx_payouts_seller ON clearhold.payouts (seller_id, currency, status);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_payouts_order_active ON clearhold.payouts (order_id)
			WHERE status NOT IN ('FAILED', 'CANCELLED');
	`)
	return err
}

func createPaymentOperationTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS clearhold.payment_operations (
			id SERIAL PRIMARY KEY,
			operation_id TEXT NOT NULL UNIQUE,
			processor_ref TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			status TEXT NOT NULL,
			destination_account TEXT,
			order_id TEXT,
			payout_id TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}

func createWebhookEventTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS clearhold.webhook_events (
			id SERIAL PRIMARY KEY,
			event_id TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL,
			payload JSONB,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			attempts INT NOT NULL DEFAULT 0,
			last_attempt_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	return err
}
