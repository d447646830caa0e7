package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/auto-dns/dnspod-ddns/internal/domain"
	"github.com/auto-dns/dnspod-ddns/internal/secretbox"
	"github.com/auto-dns/dnspod-ddns/internal/util"
)

type accountRow struct {
	bun.BaseModel `bun:"table:accounts"`

	ID        int64     `bun:",pk,autoincrement"`
	Name      string    `bun:",notnull,unique"`
	SecretID  string    `bun:",notnull"`
	SecretKey string    `bun:",notnull"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

type recordRow struct {
	bun.BaseModel `bun:"table:managed_records"`

	ID               int64     `bun:",pk,autoincrement"`
	AccountID        int64     `bun:",notnull,unique:record_host"`
	Host             string    `bun:",notnull,unique:record_host"`
	Domain           string    `bun:",notnull,unique:record_host"`
	Type             string    `bun:",notnull"`
	ProviderRecordID int64     `bun:",notnull"`
	TTL              int       `bun:"ttl,notnull"`
	Value            string    `bun:",notnull"`
	CreatedAt        time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// BunStore keeps accounts and managed records in SQL through bun.
type BunStore struct {
	db     *bun.DB
	box    *secretbox.Box
	locks  util.KeyedMutex
	logger zerolog.Logger
	now    func() time.Time
}

// OpenSQLite opens dsn with the pure Go or cgo sqlite driver, whichever is built in.
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func NewBunStore(db *bun.DB, box *secretbox.Box, logger zerolog.Logger) *BunStore {
	return &BunStore{
		db:     db,
		box:    box,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Init creates the tables when they do not exist yet.
func (s *BunStore) Init(ctx context.Context) error {
	for _, model := range []any{(*accountRow)(nil), (*recordRow)(nil)} {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

func (s *BunStore) CreateAccount(ctx context.Context, acct domain.Account) (domain.Account, error) {
	if acct.Name == "" || acct.SecretID == "" || acct.SecretKey == "" {
		return domain.Account{}, errors.New("registry: account name, secret id and secret key are required")
	}
	sealed, err := s.box.Seal(acct.SecretKey, acct.SecretID)
	if err != nil {
		return domain.Account{}, err
	}
	row := &accountRow{Name: acct.Name, SecretID: acct.SecretID, SecretKey: sealed, CreatedAt: s.now()}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.Account{}, ErrDuplicateAccount
		}
		return domain.Account{}, err
	}
	s.logger.Info().Msgf("[bun_store] Created account %d (%s)", row.ID, row.Name)
	return domain.Account{ID: row.ID, Name: row.Name, SecretID: row.SecretID, CreatedAt: row.CreatedAt}, nil
}

// ListAccounts returns accounts without their secret keys.
func (s *BunStore) ListAccounts(ctx context.Context) ([]domain.Account, error) {
	var rows []accountRow
	if err := s.db.NewSelect().Model(&rows).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]domain.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Account{ID: r.ID, Name: r.Name, SecretID: r.SecretID, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

func (s *BunStore) Credentials(ctx context.Context, accountID int64) (domain.Credentials, error) {
	var row accountRow
	if err := s.db.NewSelect().Model(&row).Where("id = ?", accountID).Limit(1).Scan(ctx); err != nil {
		return domain.Credentials{}, translateStoreError(err)
	}
	key, err := s.box.Open(row.SecretKey, row.SecretID)
	if err != nil {
		return domain.Credentials{}, fmt.Errorf("account %d: %w", accountID, err)
	}
	return domain.Credentials{SecretID: row.SecretID, SecretKey: key}, nil
}

func (s *BunStore) List(ctx context.Context) ([]domain.ManagedRecord, error) {
	var rows []recordRow
	if err := s.db.NewSelect().Model(&rows).OrderExpr("id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return util.Map(rows, fromRecordRow), nil
}

func (s *BunStore) Get(ctx context.Context, id int64) (domain.ManagedRecord, error) {
	var row recordRow
	if err := s.db.NewSelect().Model(&row).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
		return domain.ManagedRecord{}, translateStoreError(err)
	}
	return fromRecordRow(row), nil
}

func (s *BunStore) Create(ctx context.Context, rec domain.ManagedRecord) (domain.ManagedRecord, error) {
	if err := rec.Validate(); err != nil {
		return domain.ManagedRecord{}, err
	}
	if err := s.ensureUnique(ctx, rec, 0); err != nil {
		return domain.ManagedRecord{}, err
	}
	now := s.now()
	row := toRecordRow(rec)
	row.ID = 0
	row.CreatedAt, row.UpdatedAt = now, now
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return domain.ManagedRecord{}, ErrDuplicateRecord
		}
		return domain.ManagedRecord{}, err
	}
	s.logger.Debug().Msgf("[bun_store] Created record %d: %s", row.ID, rec.Render())
	return fromRecordRow(*row), nil
}

func (s *BunStore) Update(ctx context.Context, id int64, rec domain.ManagedRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := s.ensureUnique(ctx, rec, id); err != nil {
		return err
	}
	row := toRecordRow(rec)
	row.ID = id
	row.UpdatedAt = s.now()
	res, err := s.db.NewUpdate().
		Model(row).
		Column("account_id", "host", "domain", "type", "provider_record_id", "ttl", "value", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateRecord
		}
		return err
	}
	return requireAffected(res)
}

func (s *BunStore) Delete(ctx context.Context, id int64) error {
	res, err := s.db.NewDelete().Model((*recordRow)(nil)).Where("id = ?", id).Exec(ctx)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// LockTransaction serializes fn against other holders of the same keys in
// this process.
func (s *BunStore) LockTransaction(ctx context.Context, keys []string, fn func() error) error {
	for _, key := range sortedUnique(keys) {
		unlock := s.locks.Lock(key)
		defer unlock()
	}
	return fn()
}

func (s *BunStore) Close() error {
	return s.db.Close()
}

func (s *BunStore) ensureUnique(ctx context.Context, rec domain.ManagedRecord, excludeID int64) error {
	n, err := s.db.NewSelect().
		Model((*recordRow)(nil)).
		Where("account_id = ?", rec.AccountID).
		Where("lower(host) = lower(?)", rec.Host).
		Where("lower(domain) = lower(?)", rec.Domain).
		Where("id != ?", excludeID).
		Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrDuplicateRecord
	}
	return nil
}

func toRecordRow(rec domain.ManagedRecord) *recordRow {
	return &recordRow{
		ID:               rec.ID,
		AccountID:        rec.AccountID,
		Host:             rec.Host,
		Domain:           rec.Domain,
		Type:             string(rec.Type),
		ProviderRecordID: int64(rec.ProviderRecordID),
		TTL:              rec.TTL,
		Value:            rec.Value,
		CreatedAt:        rec.CreatedAt,
		UpdatedAt:        rec.UpdatedAt,
	}
}

func fromRecordRow(row recordRow) domain.ManagedRecord {
	return domain.ManagedRecord{
		ID:               row.ID,
		AccountID:        row.AccountID,
		Host:             row.Host,
		Domain:           row.Domain,
		Type:             domain.RecordType(row.Type),
		ProviderRecordID: uint64(row.ProviderRecordID),
		TTL:              row.TTL,
		Value:            row.Value,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
	}
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func translateStoreError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
