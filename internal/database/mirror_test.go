package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"unified-portfolio-go/internal/models"
	"unified-portfolio-go/internal/store"

	"github.com/shopspring/decimal"
)

func TestSyncStateTracksEmptyRefreshes(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if _, ok, err := service.GetSyncedAt(ctx, "acct-1", models.ResourcePositions); err != nil || ok {
		t.Fatalf("expected no sync state yet, ok=%v err=%v", ok, err)
	}

	if err := service.ReplacePositions(ctx, "acct-1", nil, testNow); err != nil {
		t.Fatalf("ReplacePositions failed: %v", err)
	}
	syncedAt, ok, err := service.GetSyncedAt(ctx, "acct-1", models.ResourcePositions)
	if err != nil || !ok {
		t.Fatalf("empty refresh should still record sync state, ok=%v err=%v", ok, err)
	}
	if !syncedAt.Equal(testNow) {
		t.Errorf("expected synced at %v, got %v", testNow, syncedAt)
	}

	// resources are tracked independently
	if _, ok, _ := service.GetSyncedAt(ctx, "acct-1", models.ResourceBalances); ok {
		t.Errorf("balances should not be marked synced by a positions refresh")
	}

	if err := service.InvalidateResource(ctx, "acct-1", models.ResourcePositions); err != nil {
		t.Fatalf("InvalidateResource failed: %v", err)
	}
	if _, ok, _ := service.GetSyncedAt(ctx, "acct-1", models.ResourcePositions); ok {
		t.Errorf("expected sync state cleared")
	}
}

func TestReplaceBalancesPrunesMissingRows(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	first := []models.ProviderBalance{
		{Currency: "USD", Cash: decimal.NewFromInt(100), BuyingPower: decimal.NewFromInt(200)},
		{Currency: "CAD", Cash: decimal.NewFromInt(5), BuyingPower: decimal.NewFromInt(5)},
	}
	if err := service.ReplaceBalances(ctx, "acct-1", first, testNow); err != nil {
		t.Fatalf("ReplaceBalances failed: %v", err)
	}

	second := []models.ProviderBalance{
		{Currency: "USD", Cash: decimal.RequireFromString("150.25"), BuyingPower: decimal.NewFromInt(300)},
	}
	if err := service.ReplaceBalances(ctx, "acct-1", second, testNow.Add(time.Minute)); err != nil {
		t.Fatalf("second ReplaceBalances failed: %v", err)
	}

	balances, err := service.ListBalances(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ListBalances failed: %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("expected CAD to be pruned, got %d balances", len(balances))
	}
	if !balances[0].Cash.Equal(decimal.RequireFromString("150.25")) {
		t.Errorf("expected cash 150.25, got %s", balances[0].Cash)
	}
}

func TestUpsertOrdersKeepsHistory(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	limit := decimal.RequireFromString("187.5")
	orders := []models.ProviderOrder{
		{OrderId: "o-1", Symbol: "AAPL", Side: models.SideBuy, OrderType: models.OrderTypeLimit, Status: "OPEN",
			Quantity: decimal.NewFromInt(10), LimitPrice: &limit, PlacedAt: testNow},
		{OrderId: "o-2", Symbol: "MSFT", Side: models.SideSell, OrderType: models.OrderTypeMarket, Status: "EXECUTED",
			Quantity: decimal.NewFromInt(1), PlacedAt: testNow.Add(-time.Hour)},
	}
	if err := service.UpsertOrders(ctx, "acct-1", orders, testNow); err != nil {
		t.Fatalf("UpsertOrders failed: %v", err)
	}

	update := []models.ProviderOrder{
		{OrderId: "o-1", Symbol: "AAPL", Side: models.SideBuy, OrderType: models.OrderTypeLimit, Status: "EXECUTED",
			Quantity: decimal.NewFromInt(10), FilledQuantity: decimal.NewFromInt(10), LimitPrice: &limit, PlacedAt: testNow},
	}
	if err := service.UpsertOrders(ctx, "acct-1", update, testNow.Add(time.Minute)); err != nil {
		t.Fatalf("second UpsertOrders failed: %v", err)
	}

	got, err := service.ListOrders(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("orders absent from a refresh must be kept, got %d", len(got))
	}

	o1, err := service.GetOrder(ctx, "acct-1", "o-1")
	if err != nil {
		t.Fatalf("GetOrder failed: %v", err)
	}
	if o1.Status != "EXECUTED" || !o1.FilledQuantity.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected o-1 updated, got %+v", o1)
	}
	if o1.LimitPrice == nil || !o1.LimitPrice.Equal(limit) {
		t.Errorf("expected limit price preserved, got %v", o1.LimitPrice)
	}
	if o1.ExecutionPrice != nil {
		t.Errorf("expected nil execution price, got %v", o1.ExecutionPrice)
	}

	if _, err := service.GetOrder(ctx, "acct-1", "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendActivitiesDeduplicates(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	batch := []models.ProviderActivity{
		{ActivityId: "a-1", Type: "DIVIDEND", Amount: decimal.RequireFromString("3.21"), Currency: "USD", OccurredAt: testNow},
		{ActivityId: "a-2", Type: "BUY", Amount: decimal.NewFromInt(-500), Currency: "USD", OccurredAt: testNow.Add(-time.Hour)},
	}
	for i := 0; i < 2; i++ {
		if err := service.AppendActivities(ctx, "acct-1", batch, testNow); err != nil {
			t.Fatalf("AppendActivities failed: %v", err)
		}
	}

	got, err := service.ListActivities(ctx, "acct-1")
	if err != nil {
		t.Fatalf("ListActivities failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 activities after duplicate append, got %d", len(got))
	}
	if got[0].ActivityId != "a-1" {
		t.Errorf("expected newest activity first, got %s", got[0].ActivityId)
	}
}

func TestProviderAccountRoundTrip(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	if _, err := service.GetProviderAccount(ctx, "acct-1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	balance := decimal.RequireFromString("10.5")
	acct := models.ProviderAccount{
		AccountId: "acct-1", UserId: "user1", Provider: models.ProviderBrokerage, ConnectionId: "auth-1",
		Name: "Margin", InstitutionName: "Alpaca", Currency: "USD", Balance: &balance,
	}
	if err := service.SaveProviderAccount(ctx, acct, testNow); err != nil {
		t.Fatalf("SaveProviderAccount failed: %v", err)
	}
	got, err := service.GetProviderAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("GetProviderAccount failed: %v", err)
	}
	if got.Name != "Margin" || got.Provider != models.ProviderBrokerage || got.Balance == nil || !got.Balance.Equal(balance) {
		t.Errorf("unexpected account: %+v", got)
	}
	if _, ok, _ := service.GetSyncedAt(ctx, "acct-1", models.ResourceDetails); !ok {
		t.Errorf("expected details marked synced")
	}
}

func TestSnapshotExpiry(t *testing.T) {
	service, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	snap := models.AccountSnapshot{
		AccountId: "acct-1", UserId: "user1", Payload: []byte(`{"accountId":"acct-1"}`),
		ExpiresAt: testNow.Add(time.Minute),
	}
	if err := service.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	got, err := service.GetSnapshot(ctx, "acct-1", testNow)
	if err != nil {
		t.Fatalf("GetSnapshot failed: %v", err)
	}
	if string(got.Payload) != `{"accountId":"acct-1"}` {
		t.Errorf("unexpected payload %s", got.Payload)
	}

	if _, err := service.GetSnapshot(ctx, "acct-1", testNow.Add(time.Minute)); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expired snapshot must not be served, got %v", err)
	}

	// a newer write supersedes the old one
	snap.Payload = []byte(`{"v":2}`)
	snap.ExpiresAt = testNow.Add(2 * time.Minute)
	if err := service.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("second SaveSnapshot failed: %v", err)
	}
	got, _ = service.GetSnapshot(ctx, "acct-1", testNow.Add(time.Minute))
	if got == nil || string(got.Payload) != `{"v":2}` {
		t.Fatalf("expected superseding snapshot, got %v", got)
	}

	purged, err := service.PurgeExpiredSnapshots(ctx, testNow.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("PurgeExpiredSnapshots failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("expected 1 snapshot purged, got %d", purged)
	}
}
