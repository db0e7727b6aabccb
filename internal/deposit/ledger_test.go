package deposit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"outletcash/backend/internal/domain"
	"outletcash/backend/internal/notify"
	"outletcash/backend/internal/store"
	"outletcash/backend/internal/store/memory"
)

type stubVerifier struct {
	calls  int
	result Verification
	err    error
}

func (s *stubVerifier) Verify(_ context.Context, req VerifyRequest) (Verification, error) {
	s.calls++
	if s.err != nil {
		return Verification{}, s.err
	}
	out := s.result
	out.Ref = req.Ref
	out.Raw = []byte(`{"verified":true}`)
	return out, nil
}

type countingSender struct {
	notify.Noop
	texts chan string
}

func (c *countingSender) SendText(_ context.Context, phone string, _ string) error {
	c.texts <- phone
	return nil
}

func newRequest(amount string, note string) domain.DepositRequest {
	return domain.DepositRequest{
		Date:   "2026-03-02",
		Outlet: "Baraka",
		Amount: decimal.RequireFromString(amount),
		Note:   note,
	}
}

func TestAddDepositIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	ledger := NewLedger(repo, Options{Logger: zap.NewNop()})

	first, err := ledger.AddDeposit(ctx, newRequest("500", "REF1"))
	require.NoError(t, err)
	require.False(t, first.Duplicate)
	require.Equal(t, domain.DepositPending, first.Deposit.Status)

	second, err := ledger.AddDeposit(ctx, newRequest("500.00", " REF1 "))
	require.NoError(t, err)
	require.True(t, second.Duplicate)
	require.Equal(t, first.Deposit.ID, second.Deposit.ID)

	rows, err := repo.ListDeposits(ctx, "Baraka", "2026-03-02", store.AllPeriods)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestAddDepositRejectsBadInput(t *testing.T) {
	ledger := NewLedger(memory.New(), Options{})
	for _, req := range []domain.DepositRequest{
		{Date: "2026-03-02", Outlet: "Baraka", Amount: decimal.Zero},
		{Date: "02/03/2026", Outlet: "Baraka", Amount: decimal.NewFromInt(10)},
		{Date: "2026-03-02", Outlet: " ", Amount: decimal.NewFromInt(10)},
	} {
		_, err := ledger.AddDeposit(context.Background(), req)
		require.ErrorIs(t, err, store.ErrInvalidInput)
	}
}

func TestAddDepositVerifiesAndNotifies(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	repo.PutOutlet(domain.Outlet{Name: "Baraka", AttendantPhones: []string{"0711000001"}, SupplierPhone: "0722000002"})

	sender := &countingSender{texts: make(chan string, 4)}
	notifier := notify.NewNotifier(sender, zap.NewNop())
	verifier := &stubVerifier{result: Verification{Verified: true, Payer: "JOHN DOE"}}
	ledger := NewLedger(repo, Options{Verifier: verifier, Notifier: notifier})

	note := "QJK7H2L9XY Confirmed. Ksh500.00 sent to BARAKA on 2/3/26"
	res, err := ledger.AddDeposit(ctx, newRequest("500", note))
	require.NoError(t, err)
	require.Equal(t, domain.DepositValid, res.Deposit.Status)
	require.Contains(t, res.Deposit.Note, "verified ref=QJK7H2L9XY")
	require.NotEmpty(t, res.Deposit.VerifyPayload)

	notifier.Wait()
	require.Len(t, sender.texts, 2)

	// The appended summary must not break deduplication.
	again, err := ledger.AddDeposit(ctx, newRequest("500", note))
	require.NoError(t, err)
	require.True(t, again.Duplicate)
	require.Equal(t, 1, verifier.calls)
}

func TestVerificationFailureLeavesPending(t *testing.T) {
	ctx := context.Background()
	verifier := &stubVerifier{err: errors.New("timeout")}
	ledger := NewLedger(memory.New(), Options{Verifier: verifier})

	res, err := ledger.AddDeposit(ctx, newRequest("500", "QJK7H2L9XY Confirmed. Ksh500.00 sent"))
	require.NoError(t, err)
	require.Equal(t, domain.DepositPending, res.Deposit.Status)

	// Unverified rows are retried on resubmission.
	_, err = ledger.AddDeposit(ctx, newRequest("500", "QJK7H2L9XY Confirmed. Ksh500.00 sent"))
	require.NoError(t, err)
	require.Equal(t, 2, verifier.calls)
}

func TestUnparseableNoteSkipsVerifier(t *testing.T) {
	verifier := &stubVerifier{result: Verification{Verified: true}}
	ledger := NewLedger(memory.New(), Options{Verifier: verifier})

	res, err := ledger.AddDeposit(context.Background(), newRequest("500", "cash handed to supervisor"))
	require.NoError(t, err)
	require.Equal(t, domain.DepositPending, res.Deposit.Status)
	require.Zero(t, verifier.calls)
}

func TestHTTPVerifierFailsClosedOnTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
		_, _ = w.Write([]byte(`{"verified":true}`))
	}))
	defer server.Close()

	ledger := NewLedger(memory.New(), Options{Verifier: NewHTTPVerifier(server.URL, "", 50*time.Millisecond)})
	res, err := ledger.AddDeposit(context.Background(), newRequest("500", "QJK7H2L9XY Confirmed. Ksh500.00 sent"))
	require.NoError(t, err)
	require.Equal(t, domain.DepositPending, res.Deposit.Status)
}

func TestHTTPVerifierRejectsAmountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"verified":true,"reference":"QJK7H2L9XY","amount":"450"}`))
	}))
	defer server.Close()

	out, err := NewHTTPVerifier(server.URL, "tok", time.Second).Verify(context.Background(), VerifyRequest{
		Ref:    "QJK7H2L9XY",
		Amount: decimal.NewFromInt(500),
	})
	require.NoError(t, err)
	require.False(t, out.Verified)
}

func TestSetDepositStatusRequiresSupervisor(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	ledger := NewLedger(repo, Options{})

	res, err := ledger.AddDeposit(ctx, newRequest("300", "cash"))
	require.NoError(t, err)

	_, err = ledger.SetDepositStatus(ctx, res.Deposit.ID, domain.DepositStatusRequest{Status: domain.DepositInvalid},
		domain.Actor{Code: "A1", Role: domain.RoleAttendant})
	require.ErrorIs(t, err, store.ErrForbidden)

	updated, err := ledger.SetDepositStatus(ctx, res.Deposit.ID, domain.DepositStatusRequest{Status: domain.DepositInvalid, Reason: "bounced"},
		domain.Actor{Code: "S1", Role: domain.RoleSupervisor})
	require.NoError(t, err)
	require.Equal(t, domain.DepositInvalid, updated.Status)
	require.Contains(t, updated.Note, "bounced")
}

func TestVerifiedSumCountsPendingAndValid(t *testing.T) {
	ctx := context.Background()
	repo := memory.New()
	ledger := NewLedger(repo, Options{})

	a, err := ledger.AddDeposit(ctx, newRequest("100", "a"))
	require.NoError(t, err)
	_, err = ledger.AddDeposit(ctx, newRequest("200", "b"))
	require.NoError(t, err)
	_, err = ledger.SetDepositStatus(ctx, a.Deposit.ID, domain.DepositStatusRequest{Status: domain.DepositInvalid},
		domain.Actor{Code: "ADM", Role: domain.RoleAdmin})
	require.NoError(t, err)

	sum, err := ledger.VerifiedSum(ctx, "Baraka", "2026-03-02", store.AllPeriods)
	require.NoError(t, err)
	require.True(t, sum.Equal(decimal.NewFromInt(200)), "sum=%s", sum)
}

func TestAppendSummaryCutsOnRuneBoundary(t *testing.T) {
	summary := "verified ref=QJK7H2L9XY payer=" + strings.Repeat("Wanjirũ ", 20)
	require.Greater(t, len(summary), maxSummaryLen)

	out := appendSummary("cash", summary)
	require.True(t, utf8.ValidString(out), "out=%q", out)
	require.LessOrEqual(t, len(out), len("cash [")+maxSummaryLen+1)
}

func TestAddDepositWithUnicodeNoteDoesNotPanic(t *testing.T) {
	verifier := &stubVerifier{result: Verification{Verified: true}}
	ledger := NewLedger(memory.New(), Options{Verifier: verifier})
	note := strings.Repeat("K", 50) + " QAB1234XYZ Confirmed. KES 500.00 sent to John"

	res, err := ledger.AddDeposit(context.Background(), newRequest("500", note))
	require.NoError(t, err)
	require.Equal(t, domain.DepositValid, res.Deposit.Status)

	again, err := ledger.AddDeposit(context.Background(), newRequest("500", note))
	require.NoError(t, err)
	require.True(t, again.Duplicate)
}
