package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/stock"
	"outletcash/backend/internal/store"
)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func sampleRecord(t *testing.T, closeIndex int) Record {
	t.Helper()
	closings := []domain.ClosingRecord{{Date: "2026-03-02", Outlet: "Baraka", Period: closeIndex, ItemKey: "beef", ClosingQty: dec("2"), WasteQty: dec("1")}}
	summary := stock.Compute(stock.Input{
		Base:     []stock.Quantity{{ItemKey: "Beef", Qty: dec("4")}},
		Supply:   []stock.Quantity{{ItemKey: "beef", Qty: dec("6")}},
		Closings: closings,
	}, stock.NewPriceTable(nil, []domain.ProductCatalogEntry{{Key: "Beef", SellPrice: dec("100"), Active: true}}))

	return Build("2026-03-02", "Baraka", closeIndex, summary, closings,
		[]domain.Expense{{Name: "charcoal", Amount: dec("50")}},
		[]domain.Deposit{{Amount: dec("300"), Status: domain.DepositPending}},
		time.Date(2026, 3, 2, 13, 0, 0, 0, time.UTC))
}

func TestRecordReplayMatchesLiveRevenue(t *testing.T) {
	rec := sampleRecord(t, 2)
	require.True(t, rec.Revenue.Equal(dec("700")))

	data, err := Encode(rec)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	require.True(t, decoded.Summary().Revenue.Equal(rec.Revenue), "replayed=%s", decoded.Summary().Revenue)
	require.True(t, decoded.OpeningSnapshot["Beef"].Equal(dec("10")))
}

func TestRecordKeepsPeriodStart(t *testing.T) {
	rec := sampleRecord(t, 2)
	data, err := Encode(rec)
	require.NoError(t, err)
	require.NotContains(t, string(data), "periodStartAt", "zero start is omitted")

	rec.PeriodStartAt = time.Date(2026, 3, 1, 21, 30, 0, 0, time.UTC)
	data, err = Encode(rec)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)
	require.True(t, decoded.PeriodStartAt.Equal(rec.PeriodStartAt))
}

func TestDecodeUpgradesLegacyRecord(t *testing.T) {
	legacy := []byte(`{
		"date": "2026-03-01",
		"outlet": "Baraka",
		"closeIndex": 1,
		"openingSnapshot": {"beef": "10"},
		"closings": [{"item_key": "beef", "closing_qty": "2", "waste_qty": "1"}],
		"pricebookSnapshot": {"beef": "100"}
	}`)

	rec, err := Decode(legacy)
	require.NoError(t, err)
	require.Equal(t, SchemaCurrent, rec.SchemaVersion)
	require.Equal(t, stock.PriceSourcePriceBook, rec.Pricebook["beef"].Source)
	require.True(t, rec.Revenue.Equal(dec("700")))
	require.NotNil(t, rec.Deposits)
}

func TestDecodeRejectsInvalidPayloads(t *testing.T) {
	for _, raw := range []string{
		`not json`,
		`{"schemaVersion": 9, "date": "2026-03-01", "outlet": "Baraka", "closeIndex": 1}`,
		`{"schemaVersion": 2, "date": "2026-03-01", "outlet": "Baraka", "closeIndex": 3, "openingSnapshot": {}, "pricebook": {}}`,
		`{"schemaVersion": 2, "date": "03/01/2026", "outlet": "Baraka", "closeIndex": 1, "openingSnapshot": {}, "pricebook": {}}`,
		`{"schemaVersion": 2, "date": "2026-03-01", "outlet": "Baraka", "closeIndex": 1}`,
	} {
		_, err := Decode([]byte(raw))
		require.ErrorIs(t, err, ErrSchema, raw)
	}
}

func testStoreContract(t *testing.T, s Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "2026-03-02", "Baraka", 1)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, found, err := Latest(ctx, s, "2026-03-02", "Baraka")
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, s.Put(ctx, sampleRecord(t, 1)))
	second := sampleRecord(t, 1)
	second.Revenue = dec("1")
	require.ErrorIs(t, s.Put(ctx, second), ErrExists)

	got, err := s.Get(ctx, "2026-03-02", "baraka", 1)
	require.NoError(t, err)
	require.True(t, got.Revenue.Equal(dec("700")), "archived figures must not be overwritten")

	require.NoError(t, s.Put(ctx, sampleRecord(t, 2)))
	latest, found, err := Latest(ctx, s, "2026-03-02", "Baraka")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, 2, latest.CloseIndex)
}

func TestMemoryStoreIsWriteOnce(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestRedisStoreIsWriteOnce(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	testStoreContract(t, NewRedisStore(client))
	require.True(t, mr.Exists("snapshot:closing:2026-03-02:baraka:1"))
}

type failingPutter struct {
	calls int
}

func (f *failingPutter) PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.calls++
	return nil, errors.New("bucket unavailable")
}

func TestS3MirrorIsBestEffort(t *testing.T) {
	putter := &failingPutter{}
	mirror := NewS3Mirror(NewMemoryStore(), putter, "snapshots", zap.NewNop())

	require.NoError(t, mirror.Put(context.Background(), sampleRecord(t, 1)))
	require.Equal(t, 1, putter.calls)
	require.ErrorIs(t, mirror.Put(context.Background(), sampleRecord(t, 1)), ErrExists)
	require.Equal(t, 1, putter.calls)

	_, err := mirror.Get(context.Background(), "2026-03-02", "Baraka", 1)
	require.NoError(t, err)
}
