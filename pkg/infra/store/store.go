// pkg/infra/store/store.go
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/r-umemoto/crossbot/pkg/domain/ledger"
	"github.com/r-umemoto/crossbot/pkg/domain/market"
)

// maxCASAttempts bounds the read/compare-and-swap loop of AddFree.
const maxCASAttempts = 10

// Store is the GORM-backed ledger.Ledger. A Store returned by Transact is bound
// to that transaction; the root Store runs every call in its own transaction.
type Store struct {
	db   *gorm.DB
	mode string
	now  func() time.Time
}

var (
	_ ledger.Ledger     = (*Store)(nil)
	_ ledger.Transactor = (*Store)(nil)
)

// Open connects to the configured database and migrates the schema.
// mode partitions the trades table (dry vs live).
func Open(cfg Config, mode string) (*Store, error) {
	dialector, err := dialect(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	if cfg.Driver == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// SQLite has a single writer; one connection serialises transactions instead of failing with SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}

	s := New(db, mode)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func dialect(cfg Config) (gorm.Dialector, error) {
	switch cfg.Driver {
	case "sqlite":
		dsn := cfg.DSN
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("create database dir: %w", err)
			}
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
		}
		return sqlite.Open(dsn), nil
	case "postgres":
		return postgres.Open(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Driver)
	}
}

// New wraps an existing connection.
func New(db *gorm.DB, mode string) *Store {
	return &Store{db: db, mode: mode, now: time.Now}
}

func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&tradeRecord{}, &walletRecord{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transact implements ledger.Transactor. GetOpen and GetFree lock the rows they
// read until fn returns, so a decision made on them cannot go stale.
func (s *Store) Transact(ctx context.Context, fn func(tx ledger.Ledger) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, mode: s.mode, now: s.now})
	})
}

func (s *Store) openQuery(ctx context.Context, key market.Key) *gorm.DB {
	return s.db.WithContext(ctx).Model(&tradeRecord{}).Where(map[string]any{
		"mode":     s.mode,
		"symbol":   key.Symbol,
		"exchange": key.Exchange,
		"interval": key.Interval,
		"is_open":  true,
	})
}

// forUpdate row-locks the rows read by q until the surrounding transaction
// ends. SQLite has no row locks; its single connection already serialises
// transactions.
func (s *Store) forUpdate(q *gorm.DB) *gorm.DB {
	if s.db.Dialector.Name() == "postgres" {
		return q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

// walletQuery reads the wallet row of asset with a row lock.
func (s *Store) walletQuery(ctx context.Context, asset string) *gorm.DB {
	return s.forUpdate(s.db.WithContext(ctx).Model(&walletRecord{}).Where("asset = ?", asset))
}

func (s *Store) HasOpen(ctx context.Context, key market.Key) (bool, error) {
	var n int64
	if err := s.openQuery(ctx, key).Count(&n).Error; err != nil {
		return false, fmt.Errorf("has open %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *Store) GetOpen(ctx context.Context, key market.Key) (*ledger.Trade, error) {
	var rec tradeRecord
	err := s.forUpdate(s.openQuery(ctx, key)).Order("id DESC").Limit(1).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get open %s: %w", key, err)
	}
	t := rec.toDomain()
	return &t, nil
}

// OpenEntry checks and creates in one transaction; the partial unique index
// rejects a concurrent creator that slipped past the check.
func (s *Store) OpenEntry(ctx context.Context, key market.Key, entryPrice, baseQty, quoteSpent float64, meta map[string]any) (*ledger.Trade, error) {
	if baseQty <= 0 {
		return nil, fmt.Errorf("open %s: base qty must be positive, got %v", key, baseQty)
	}

	rec := tradeRecord{
		Mode:       s.mode,
		Symbol:     key.Symbol,
		Exchange:   key.Exchange,
		Interval:   key.Interval,
		EntryPrice: entryPrice,
		BaseQty:    baseQty,
		QuoteSpent: quoteSpent,
		IsOpen:     true,
		OpenedAt:   s.now().UTC(),
		Meta:       copyMeta(meta),
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		open, err := (&Store{db: tx, mode: s.mode, now: s.now}).HasOpen(ctx, key)
		if err != nil {
			return err
		}
		if open {
			return ledger.ErrAlreadyOpen
		}
		return tx.Create(&rec).Error
	})
	switch {
	case errors.Is(err, ledger.ErrAlreadyOpen), errors.Is(err, gorm.ErrDuplicatedKey):
		return nil, ledger.ErrAlreadyOpen
	case err != nil:
		return nil, fmt.Errorf("open %s: %w", key, err)
	}

	t := rec.toDomain()
	return &t, nil
}

// CloseEntry returns the closed trade as persisted, or nil when nothing is open for key.
func (s *Store) CloseEntry(ctx context.Context, key market.Key, exitPrice float64, meta map[string]any) (*ledger.Trade, error) {
	var closed *ledger.Trade
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txs := &Store{db: tx, mode: s.mode, now: s.now}
		var rec tradeRecord
		err := txs.forUpdate(txs.openQuery(ctx, key)).Order("id DESC").Limit(1).Take(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		closed, err = txs.closeRecord(ctx, rec, exitPrice, meta)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("close %s: %w", key, err)
	}
	return closed, nil
}

// closeRecord marks rec closed only while it is still open, so a writer that
// read the row before another one closed it gets nil instead of a second close.
func (s *Store) closeRecord(ctx context.Context, rec tradeRecord, exitPrice float64, meta map[string]any) (*ledger.Trade, error) {
	now := s.now().UTC()
	merged := rec.Meta
	if len(meta) > 0 {
		merged = copyMeta(rec.Meta)
		if merged == nil {
			merged = make(map[string]any, len(meta))
		}
		for k, v := range meta {
			merged[k] = v
		}
	}

	res := s.db.WithContext(ctx).Model(&tradeRecord{}).
		Where("id = ? AND is_open = ?", rec.ID, true).
		Select("exit_price", "closed_at", "is_open", "meta").
		Updates(&tradeRecord{ExitPrice: &exitPrice, ClosedAt: &now, IsOpen: false, Meta: merged})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected != 1 {
		return nil, nil
	}

	rec.ExitPrice = &exitPrice
	rec.ClosedAt = &now
	rec.IsOpen = false
	rec.Meta = merged
	t := rec.toDomain()
	return &t, nil
}

func (s *Store) GetFree(ctx context.Context, asset string) (float64, error) {
	var rec walletRecord
	err := s.walletQuery(ctx, asset).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get free %s: %w", asset, err)
	}
	return rec.Free, nil
}

// AddFree applies delta with decimal arithmetic and writes it back with a
// compare-and-swap on the previous value, so concurrent writers on the same
// asset never lose an update. On postgres the read also holds the row lock
// taken by an earlier GetFree in the same transaction.
func (s *Store) AddFree(ctx context.Context, asset string, delta float64) (ledger.WalletBalance, error) {
	var out ledger.WalletBalance
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txs := &Store{db: tx, mode: s.mode, now: s.now}
		now := s.now().UTC()
		err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&walletRecord{Asset: asset, UpdatedAt: now}).Error
		if err != nil {
			return fmt.Errorf("ensure wallet: %w", err)
		}

		for attempt := 0; attempt < maxCASAttempts; attempt++ {
			var rec walletRecord
			if err := txs.walletQuery(ctx, asset).Take(&rec).Error; err != nil {
				return fmt.Errorf("read wallet: %w", err)
			}

			next := decimal.NewFromFloat(rec.Free).Add(decimal.NewFromFloat(delta))
			if next.IsNegative() {
				out = rec.toDomain()
				return fmt.Errorf("free %v, delta %v: %w", rec.Free, delta, ledger.ErrInsufficientBalance)
			}
			free := next.InexactFloat64()

			res := tx.Model(&walletRecord{}).
				Where("asset = ? AND free = ?", asset, rec.Free).
				Updates(map[string]any{"free": free, "updated_at": now})
			if res.Error != nil {
				return fmt.Errorf("update wallet: %w", res.Error)
			}
			if res.RowsAffected == 1 {
				rec.Free = free
				rec.UpdatedAt = now
				out = rec.toDomain()
				return nil
			}
		}
		return errors.New("wallet row kept changing")
	})
	if err != nil {
		return out, fmt.Errorf("add free %s: %w", asset, err)
	}
	return out, nil
}

// EnsureBalance seeds asset with amount when no wallet row exists yet.
// It reports whether the row was created.
func (s *Store) EnsureBalance(ctx context.Context, asset string, amount float64) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).
		Create(&walletRecord{Asset: asset, Free: amount, UpdatedAt: s.now().UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("seed wallet %s: %w", asset, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Balances lists every wallet row.
func (s *Store) Balances(ctx context.Context) ([]ledger.WalletBalance, error) {
	var recs []walletRecord
	if err := s.db.WithContext(ctx).Order("asset").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list wallet: %w", err)
	}
	out := make([]ledger.WalletBalance, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ListOpen returns every open trade of the store's mode.
func (s *Store) ListOpen(ctx context.Context) ([]ledger.Trade, error) {
	var recs []tradeRecord
	err := s.db.WithContext(ctx).
		Where(map[string]any{"mode": s.mode, "is_open": true}).
		Order("id").Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list open trades: %w", err)
	}
	return toTrades(recs), nil
}

// ListTrades returns the most recent trades of the store's mode, newest first.
func (s *Store) ListTrades(ctx context.Context, limit int) ([]ledger.Trade, error) {
	var recs []tradeRecord
	err := s.db.WithContext(ctx).
		Where(map[string]any{"mode": s.mode}).
		Order("id DESC").Limit(limit).Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return toTrades(recs), nil
}

func toTrades(recs []tradeRecord) []ledger.Trade {
	out := make([]ledger.Trade, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.toDomain())
	}
	return out
}

func copyMeta(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
