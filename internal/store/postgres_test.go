package store

import (
	"context"
	"errors"
	"math/big"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"solidgrowth/internal/ledger"
	"solidgrowth/internal/models"
)

func TestAccountModelRoundTrip(t *testing.T) {
	require := require.New(t)
	now := time.Unix(1700000000, 0).UTC()

	root := ledger.Account{Address: common.HexToAddress("0x0a"), Root: true, RegisteredAt: now}
	m := accountToModel(root)
	require.Nil(m.Referrer)
	require.Equal(root, accountFromModel(m))

	child := ledger.Account{Address: common.HexToAddress("0x0b"), Referrer: root.Address, RegisteredAt: now}
	m = accountToModel(child)
	require.NotNil(m.Referrer)
	require.Equal(root.Address.Hex(), *m.Referrer)
	require.Equal(child, accountFromModel(m))
}

func TestPositionFromModel(t *testing.T) {
	require := require.New(t)
	amount, _ := new(big.Int).SetString("1000000000000000000000", 10)
	p := ledger.Position{
		ID:       7,
		Investor: common.HexToAddress("0x0b"),
		Referrer: common.HexToAddress("0x0a"),
		Amount:   amount,
	}
	m := positionToModel(p)
	require.Equal("1000000000000000000000", m.Amount)
	require.Equal(common.Address{}.Hex(), m.BeneficiaryTag)

	got, err := positionFromModel(m)
	require.NoError(err)
	require.Equal(p.ID, got.ID)
	require.Zero(amount.Cmp(got.Amount))

	_, err = positionFromModel(models.Position{ID: 8, Amount: "12.5"})
	require.ErrorIs(err, ErrCorruptAmount)
	_, err = positionFromModel(models.Position{ID: 9, Amount: "-1"})
	require.ErrorIs(err, ErrCorruptAmount)
}

var (
	ownerAddr    = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	investorAddr = common.HexToAddress("0x0000000000000000000000000000000000000001")
	registeredAt = time.Unix(1700000000, 0).UTC()
)

func newMockStore(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: conn}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewPostgres(db, time.Second), mock
}

func sqlPrefix(s string) string {
	return "^" + regexp.QuoteMeta(s)
}

func investBatch() *ledger.Batch {
	id := uint64(1)
	amount, _ := new(big.Int).SetString("1000000000000000000000", 10)
	return &ledger.Batch{
		Counter: &id,
		Account: &ledger.Account{Address: investorAddr, Referrer: ownerAddr, RegisteredAt: registeredAt},
		Position: &ledger.Position{
			ID:        id,
			Investor:  investorAddr,
			Referrer:  ownerAddr,
			Amount:    amount,
			CreatedAt: registeredAt,
		},
		Event: &ledger.Invested{Referrer: ownerAddr, Investor: investorAddr, Amount: amount},
	}
}

func TestCommitGenesis(t *testing.T) {
	s, mock := newMockStore(t)
	empty := ""
	var zero uint64
	owner := ownerAddr

	mock.ExpectBegin()
	mock.ExpectQuery(sqlPrefix(`INSERT INTO "settings"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(models.SettingsID))
	mock.ExpectQuery(sqlPrefix(`INSERT INTO "accounts"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	err := s.Commit(context.Background(), &ledger.Batch{
		Owner:       &owner,
		BasePointer: &empty,
		Counter:     &zero,
		Account:     &ledger.Account{Address: owner, Root: true, RegisteredAt: registeredAt},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitInvestment(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(sqlPrefix(`UPDATE "settings" SET`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(sqlPrefix(`INSERT INTO "accounts"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectExec(sqlPrefix(`INSERT INTO "positions"`)).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery(sqlPrefix(`INSERT INTO "invested_events"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	require.NoError(t, s.Commit(context.Background(), investBatch()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitRollsBack(t *testing.T) {
	boom := errors.New("connection reset")

	tests := []struct {
		name   string
		expect func(mock sqlmock.Sqlmock)
		err    string
	}{
		{
			name: "settings row missing",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(sqlPrefix(`UPDATE "settings" SET`)).WillReturnResult(sqlmock.NewResult(0, 0))
			},
			err: "0 rows affected",
		},
		{
			name: "account insert fails",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(sqlPrefix(`UPDATE "settings" SET`)).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery(sqlPrefix(`INSERT INTO "accounts"`)).WillReturnError(boom)
			},
			err: "failed to create account",
		},
		{
			name: "position insert fails",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(sqlPrefix(`UPDATE "settings" SET`)).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery(sqlPrefix(`INSERT INTO "accounts"`)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
				mock.ExpectExec(sqlPrefix(`INSERT INTO "positions"`)).WillReturnError(boom)
			},
			err: "failed to create position",
		},
		{
			name: "event insert fails",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(sqlPrefix(`UPDATE "settings" SET`)).WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery(sqlPrefix(`INSERT INTO "accounts"`)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
				mock.ExpectExec(sqlPrefix(`INSERT INTO "positions"`)).WillReturnResult(sqlmock.NewResult(1, 1))
				mock.ExpectQuery(sqlPrefix(`INSERT INTO "invested_events"`)).WillReturnError(boom)
			},
			err: "failed to record event",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)
			mock.ExpectBegin()
			tt.expect(mock)
			mock.ExpectRollback()

			err := s.Commit(context.Background(), investBatch())
			require.ErrorContains(t, err, tt.err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestLoadEmpty(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(sqlPrefix(`SELECT * FROM "settings"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner", "base_pointer", "counter"}))

	snap, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Nil(t, snap)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad(t *testing.T) {
	require := require.New(t)
	s, mock := newMockStore(t)
	ref := ownerAddr.Hex()

	mock.ExpectQuery(sqlPrefix(`SELECT * FROM "settings"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner", "base_pointer", "counter", "created_at", "updated_at"}).
			AddRow(models.SettingsID, ownerAddr.Hex(), "ipfs://test", 1, registeredAt, registeredAt))
	mock.ExpectQuery(sqlPrefix(`SELECT * FROM "accounts"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "address", "referrer", "registered_at"}).
			AddRow(1, ownerAddr.Hex(), nil, registeredAt).
			AddRow(2, investorAddr.Hex(), ref, registeredAt))
	mock.ExpectQuery(sqlPrefix(`SELECT * FROM "positions"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "investor", "referrer", "beneficiary_tag", "amount", "created_at"}).
			AddRow(1, investorAddr.Hex(), ref, common.Address{}.Hex(), "1000000000000000000000", registeredAt))

	snap, err := s.Load(context.Background())
	require.NoError(err)
	require.NotNil(snap)
	require.Equal(ownerAddr, snap.Owner)
	require.Equal("ipfs://test", snap.BasePointer)
	require.Equal(uint64(1), snap.Counter)
	require.Len(snap.Accounts, 2)
	require.True(snap.Accounts[0].Root)
	require.Equal(ownerAddr, snap.Accounts[1].Referrer)
	require.Len(snap.Positions, 1)
	require.Equal("1000000000000000000000", snap.Positions[0].Amount.String())
	require.NoError(mock.ExpectationsWereMet())
}
