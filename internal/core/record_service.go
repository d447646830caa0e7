package core

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/auto-dns/dnspod-ddns/internal/config"
	"github.com/auto-dns/dnspod-ddns/internal/dnspod"
	"github.com/auto-dns/dnspod-ddns/internal/domain"
	"github.com/auto-dns/dnspod-ddns/internal/registry"
)

const trackLockPrefix = "track:"

// TrackRequest describes a record to bring under management. An empty Value
// uses the cached public address of the record's family, and a zero TTL uses
// the configured default.
type TrackRequest struct {
	AccountID int64
	Host      string
	Domain    string
	Type      domain.RecordType
	TTL       int
	Value     string
}

// RecordService adds and removes managed records at the provider and in the store.
type RecordService struct {
	logger    zerolog.Logger
	cfg       *config.AppConfig
	state     ipState
	store     recordStore
	creds     credentialLookup
	providers ProviderFactory
}

func NewRecordService(logger zerolog.Logger, cfg *config.AppConfig, st ipState, store recordStore, creds credentialLookup, providers ProviderFactory) *RecordService {
	return &RecordService{
		logger:    logger,
		cfg:       cfg,
		state:     st,
		store:     store,
		creds:     creds,
		providers: providers,
	}
}

// Track upserts the record at the provider and stores it with the provider's id.
func (s *RecordService) Track(ctx context.Context, req TrackRequest) (domain.ManagedRecord, error) {
	rec := domain.ManagedRecord{
		AccountID: req.AccountID,
		Host:      req.Host,
		Domain:    req.Domain,
		Type:      req.Type,
		TTL:       req.TTL,
		Value:     req.Value,
	}
	if rec.TTL == 0 {
		rec.TTL = s.cfg.DefaultTTL
	}
	if rec.Value == "" {
		family, ok := rec.Type.Family()
		if !ok {
			return domain.ManagedRecord{}, NewRecordValidationError(fmt.Sprintf("unsupported record type %q", rec.Type))
		}
		addr, ok := s.state.Get(family)
		if !ok {
			return domain.ManagedRecord{}, NewNoAddressError(family)
		}
		rec.Value = addr.String()
	}
	if err := rec.Validate(); err != nil {
		return domain.ManagedRecord{}, NewRecordValidationError(err.Error())
	}

	var created domain.ManagedRecord
	err := withStoreLock(ctx, s.store, []string{trackLockPrefix + rec.Key()}, func() error {
		// Upsert may rewrite any address record at the host, so a host that
		// is already tracked must be rejected before the provider is called.
		if err := s.ensureUntracked(ctx, rec); err != nil {
			return err
		}
		provider, err := s.provider(ctx, rec.AccountID)
		if err != nil {
			return err
		}
		id, err := provider.Upsert(ctx, rec.Host, rec.Domain, rec.Type, rec.Value, rec.TTL)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", rec.FQDN(), err)
		}
		rec.ProviderRecordID = id

		created, err = s.store.Create(ctx, rec)
		if err != nil {
			s.logger.Warn().Err(err).Uint64("provider_record_id", id).Msgf("Provider record for %s exists but was not stored", rec.FQDN())
			return fmt.Errorf("store %s: %w", rec.FQDN(), err)
		}
		return nil
	})
	if err != nil {
		return domain.ManagedRecord{}, err
	}
	s.logger.Info().Int64("record_id", created.ID).Msgf("Tracking %s", created.Render())
	return created, nil
}

func (s *RecordService) ensureUntracked(ctx context.Context, rec domain.ManagedRecord) error {
	existing, err := s.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list managed records: %w", err)
	}
	for _, other := range existing {
		if other.Key() == rec.Key() {
			return fmt.Errorf("%s is already tracked as record %d: %w", rec.FQDN(), other.ID, registry.ErrDuplicateRecord)
		}
	}
	return nil
}

// Untrack deletes the record at the provider and then locally.
func (s *RecordService) Untrack(ctx context.Context, id int64) error {
	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	provider, err := s.provider(ctx, rec.AccountID)
	if err != nil {
		return err
	}
	if err := provider.Delete(ctx, rec.Domain, rec.ProviderRecordID); err != nil {
		return fmt.Errorf("delete %s at provider: %w", rec.FQDN(), err)
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete record %d: %w", id, err)
	}
	s.logger.Info().Int64("record_id", id).Msgf("Stopped tracking %s", rec.Render())
	return nil
}

// Records lists the managed records.
func (s *RecordService) Records(ctx context.Context) ([]domain.ManagedRecord, error) {
	return s.store.List(ctx)
}

// Domains lists the root domains registered with an account.
func (s *RecordService) Domains(ctx context.Context, accountID int64) ([]dnspod.Domain, error) {
	provider, err := s.provider(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return provider.ListDomains(ctx)
}

func (s *RecordService) provider(ctx context.Context, accountID int64) (Provider, error) {
	creds, err := s.creds.Credentials(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("lookup credentials for account %d: %w", accountID, err)
	}
	return s.providers(accountID, creds), nil
}
