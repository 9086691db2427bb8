package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dealradar/redemption-service/internal/model"
	"github.com/dealradar/redemption-service/internal/service"
)

// mockRow implements pgx.Row for testing.
type mockRow struct {
	scanFn func(dest ...any) error
}

func (m *mockRow) Scan(dest ...any) error {
	if m.scanFn != nil {
		return m.scanFn(dest...)
	}
	return pgx.ErrNoRows
}

// mockQuerier implements database.TxQuerier for testing.
type mockQuerier struct {
	execFn     func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFn    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (m *mockQuerier) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	if m.execFn != nil {
		return m.execFn(ctx, sql, arguments...)
	}
	return pgconn.CommandTag{}, nil
}

func (m *mockQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if m.queryRowFn != nil {
		return m.queryRowFn(ctx, sql, args...)
	}
	return &mockRow{}
}

func (m *mockQuerier) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, sql, args...)
	}
	return nil, errors.New("not implemented")
}

// scanClaimInto fills Scan destinations in claimColumns order.
func scanClaimInto(claim *model.RedemptionClaim) func(dest ...any) error {
	return func(dest ...any) error {
		*(dest[0].(*uuid.UUID)) = claim.ID
		*(dest[1].(*uuid.UUID)) = claim.DealID
		*(dest[2].(*string)) = claim.UserID
		*(dest[3].(*model.ClaimStatus)) = claim.Status
		*(dest[4].(*string)) = claim.Token
		*(dest[5].(*time.Time)) = claim.IssuedAt
		*(dest[6].(*time.Time)) = claim.ExpiresAt
		*(dest[7].(**time.Time)) = claim.ConsumedAt
		*(dest[8].(**string)) = claim.ConsumedBy
		return nil
	}
}

func sampleClaim() *model.RedemptionClaim {
	now := time.Date(2026, 9, 1, 20, 0, 0, 0, time.UTC)
	return &model.RedemptionClaim{
		ID:        uuid.New(),
		DealID:    uuid.New(),
		UserID:    "user_001",
		Status:    model.StatusIssued,
		Token:     "sometokenvalue",
		IssuedAt:  now,
		ExpiresAt: now.Add(5 * time.Minute),
	}
}

func TestClaimInsert_Success(t *testing.T) {
	claim := sampleClaim()
	var gotArgs []any
	tx := &mockQuerier{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			gotArgs = arguments
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	}

	repo := NewClaimRepositoryWithQuerier(tx)
	err := repo.Insert(context.Background(), tx, claim)

	require.NoError(t, err)
	require.Len(t, gotArgs, 7)
	assert.Equal(t, claim.ID, gotArgs[0])
	assert.Equal(t, claim.Token, gotArgs[4])
}

func TestClaimInsert_UniqueViolation(t *testing.T) {
	tx := &mockQuerier{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, &pgconn.PgError{Code: "23505"}
		},
	}

	repo := NewClaimRepositoryWithQuerier(tx)
	err := repo.Insert(context.Background(), tx, sampleClaim())

	assert.ErrorIs(t, err, service.ErrActiveClaimExists,
		"partial unique index violation maps to the domain error")
}

func TestClaimInsert_OtherError(t *testing.T) {
	dbErr := errors.New("connection reset")
	tx := &mockQuerier{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, dbErr
		},
	}

	repo := NewClaimRepositoryWithQuerier(tx)
	err := repo.Insert(context.Background(), tx, sampleClaim())

	require.Error(t, err)
	assert.True(t, errors.Is(err, dbErr), "should wrap original error")
}

func TestGetIssuedForUpdate_Found(t *testing.T) {
	claim := sampleClaim()
	tx := &mockQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFn: scanClaimInto(claim)}
		},
	}

	repo := NewClaimRepositoryWithQuerier(tx)
	got, err := repo.GetIssuedForUpdate(context.Background(), tx, claim.DealID, claim.UserID)

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, claim.ID, got.ID)
	assert.Equal(t, claim.Token, got.Token)
}

func TestGetIssuedForUpdate_NoRows(t *testing.T) {
	tx := &mockQuerier{}

	repo := NewClaimRepositoryWithQuerier(tx)
	got, err := repo.GetIssuedForUpdate(context.Background(), tx, uuid.New(), "user_001")

	require.NoError(t, err, "no issued claim is not an error")
	assert.Nil(t, got)
}

func TestHasConsumed(t *testing.T) {
	tx := &mockQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFn: func(dest ...any) error {
				*(dest[0].(*bool)) = true
				return nil
			}}
		},
	}

	repo := NewClaimRepositoryWithQuerier(tx)
	consumed, err := repo.HasConsumed(context.Background(), tx, uuid.New(), "user_001")

	require.NoError(t, err)
	assert.True(t, consumed)
}

func TestCountIssuedSince(t *testing.T) {
	tx := &mockQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFn: func(dest ...any) error {
				*(dest[0].(*int)) = 4
				return nil
			}}
		},
	}

	repo := NewClaimRepositoryWithQuerier(tx)
	n, err := repo.CountIssuedSince(context.Background(), tx, uuid.New(), "user_001", time.Now().Add(-time.Hour))

	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestVoid_Success(t *testing.T) {
	tx := &mockQuerier{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 1"), nil
		},
	}

	repo := NewClaimRepositoryWithQuerier(tx)
	err := repo.Void(context.Background(), tx, uuid.New())

	assert.NoError(t, err)
}

func TestVoid_NoLongerIssued(t *testing.T) {
	tx := &mockQuerier{
		execFn: func(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}

	repo := NewClaimRepositoryWithQuerier(tx)
	err := repo.Void(context.Background(), tx, uuid.New())

	require.Error(t, err, "voiding a claim that left issued state must fail loudly")
	assert.Contains(t, err.Error(), "no longer issued")
}

func TestConsume_Hit(t *testing.T) {
	claim := sampleClaim()
	consumedAt := claim.IssuedAt.Add(time.Minute)
	scanner := "scanner_42"
	claim.Status = model.StatusConsumed
	claim.ConsumedAt = &consumedAt
	claim.ConsumedBy = &scanner

	var gotArgs []any
	tx := &mockQuerier{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			gotArgs = args
			return &mockRow{scanFn: scanClaimInto(claim)}
		},
	}

	repo := NewClaimRepositoryWithQuerier(tx)
	got, err := repo.Consume(context.Background(), tx, claim.DealID, claim.Token, scanner, consumedAt)

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.StatusConsumed, got.Status)
	require.NotNil(t, got.ConsumedBy)
	assert.Equal(t, scanner, *got.ConsumedBy)
	require.Len(t, gotArgs, 4)
	assert.Equal(t, claim.DealID, gotArgs[0], "consume is scoped to the deal")
	assert.Equal(t, claim.Token, gotArgs[1])
}

func TestConsume_Miss(t *testing.T) {
	tx := &mockQuerier{}

	repo := NewClaimRepositoryWithQuerier(tx)
	got, err := repo.Consume(context.Background(), tx, uuid.New(), "sometokenvalue", "scanner_42", time.Now())

	require.NoError(t, err, "a missed compare-and-set is a classification job, not an error")
	assert.Nil(t, got)
}

func TestGetByToken_NoRows(t *testing.T) {
	tx := &mockQuerier{}

	repo := NewClaimRepositoryWithQuerier(tx)
	got, err := repo.GetByToken(context.Background(), tx, uuid.New(), "unknowntoken")

	require.NoError(t, err)
	assert.Nil(t, got)
}
