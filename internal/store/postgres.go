// Package store persists ledger batches in PostgreSQL through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"solidgrowth/internal/ledger"
	"solidgrowth/internal/models"
)

var _ ledger.Store = (*Postgres)(nil)

var ErrCorruptAmount = errors.New("corrupt amount")

type Postgres struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewPostgres(db *gorm.DB, timeout time.Duration) *Postgres {
	return &Postgres{db: db, timeout: timeout}
}

// Load reads the whole ledger. It returns a nil snapshot when the settings
// row does not exist yet.
func (s *Postgres) Load(ctx context.Context) (*ledger.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	db := s.db.WithContext(ctx)

	var settings models.Settings
	err := db.First(&settings, models.SettingsID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	var accounts []models.Account
	if err := db.Order("id").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to load accounts: %w", err)
	}
	var positions []models.Position
	if err := db.Order("id").Find(&positions).Error; err != nil {
		return nil, fmt.Errorf("failed to load positions: %w", err)
	}

	snap := &ledger.Snapshot{
		Owner:       common.HexToAddress(settings.Owner),
		BasePointer: settings.BasePointer,
		Counter:     settings.Counter,
		Accounts:    make([]ledger.Account, 0, len(accounts)),
		Positions:   make([]ledger.Position, 0, len(positions)),
	}
	for _, a := range accounts {
		snap.Accounts = append(snap.Accounts, accountFromModel(a))
	}
	for _, p := range positions {
		pos, err := positionFromModel(p)
		if err != nil {
			return nil, err
		}
		snap.Positions = append(snap.Positions, pos)
	}
	return snap, nil
}

// Commit writes b in one transaction.
func (s *Postgres) Commit(ctx context.Context, b *ledger.Batch) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if b.Owner != nil {
			settings := models.Settings{ID: models.SettingsID, Owner: b.Owner.Hex()}
			if b.BasePointer != nil {
				settings.BasePointer = *b.BasePointer
			}
			if b.Counter != nil {
				settings.Counter = *b.Counter
			}
			if err := tx.Create(&settings).Error; err != nil {
				return fmt.Errorf("failed to create settings: %w", err)
			}
		} else {
			updates := map[string]any{}
			if b.BasePointer != nil {
				updates["base_pointer"] = *b.BasePointer
			}
			if b.Counter != nil {
				updates["counter"] = *b.Counter
			}
			if len(updates) > 0 {
				res := tx.Model(&models.Settings{}).Where("id = ?", models.SettingsID).Updates(updates)
				if res.Error != nil {
					return fmt.Errorf("failed to update settings: %w", res.Error)
				}
				if res.RowsAffected != 1 {
					return fmt.Errorf("failed to update settings: %d rows affected", res.RowsAffected)
				}
			}
		}

		if b.Account != nil {
			acc := accountToModel(*b.Account)
			if err := tx.Create(&acc).Error; err != nil {
				return fmt.Errorf("failed to create account: %w", err)
			}
		}
		if b.Position != nil {
			pos := positionToModel(*b.Position)
			if err := tx.Create(&pos).Error; err != nil {
				return fmt.Errorf("failed to create position: %w", err)
			}
			if b.Event != nil {
				ev := models.InvestedEvent{
					PositionID:     b.Position.ID,
					BeneficiaryTag: b.Event.BeneficiaryTag.Hex(),
					Referrer:       b.Event.Referrer.Hex(),
					Investor:       b.Event.Investor.Hex(),
					Amount:         b.Event.Amount.String(),
					CreatedAt:      b.Position.CreatedAt,
				}
				if err := tx.Create(&ev).Error; err != nil {
					return fmt.Errorf("failed to record event: %w", err)
				}
			}
		}
		return nil
	})
}

func accountToModel(a ledger.Account) models.Account {
	m := models.Account{Address: a.Address.Hex(), RegisteredAt: a.RegisteredAt}
	if !a.Root {
		ref := a.Referrer.Hex()
		m.Referrer = &ref
	}
	return m
}

func accountFromModel(m models.Account) ledger.Account {
	a := ledger.Account{
		Address:      common.HexToAddress(m.Address),
		Root:         m.Referrer == nil,
		RegisteredAt: m.RegisteredAt,
	}
	if m.Referrer != nil {
		a.Referrer = common.HexToAddress(*m.Referrer)
	}
	return a
}

func positionToModel(p ledger.Position) models.Position {
	return models.Position{
		ID:             p.ID,
		Investor:       p.Investor.Hex(),
		Referrer:       p.Referrer.Hex(),
		BeneficiaryTag: p.BeneficiaryTag.Hex(),
		Amount:         p.Amount.String(),
		CreatedAt:      p.CreatedAt,
	}
}

func positionFromModel(m models.Position) (ledger.Position, error) {
	amount, ok := new(big.Int).SetString(m.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return ledger.Position{}, fmt.Errorf("%w: position %d: %q", ErrCorruptAmount, m.ID, m.Amount)
	}
	return ledger.Position{
		ID:             m.ID,
		Investor:       common.HexToAddress(m.Investor),
		Referrer:       common.HexToAddress(m.Referrer),
		BeneficiaryTag: common.HexToAddress(m.BeneficiaryTag),
		Amount:         amount,
		CreatedAt:      m.CreatedAt,
	}, nil
}
