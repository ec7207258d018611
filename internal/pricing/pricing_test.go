package pricing

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/DesignerDev23/MiiMii-sub002/internal/store"
)

func newTestPricing(t *testing.T) (*Service, *store.MemoryRepository) {
	t.Helper()
	repo := store.NewMemoryRepository()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, nil, logger), repo
}

func TestSellingPriceFallsBackToRetail(t *testing.T) {
	svc, _ := newTestPricing(t)

	price, err := svc.SellingPrice(context.Background(), "MTN", "1gb-30d", 25000)
	if err != nil {
		t.Fatalf("selling price: %v", err)
	}
	if price != 25000 {
		t.Fatalf("expected retail fallback 25000, got %d", price)
	}
}

func TestSellingPriceUsesOverride(t *testing.T) {
	svc, _ := newTestPricing(t)

	if err := svc.SetOverride(context.Background(), "MTN", "1gb-30d", 30000); err != nil {
		t.Fatalf("set override: %v", err)
	}

	price, err := svc.SellingPrice(context.Background(), "MTN", "1gb-30d", 25000)
	if err != nil {
		t.Fatalf("selling price: %v", err)
	}
	if price != 30000 {
		t.Fatalf("expected override price 30000, got %d", price)
	}

	// other plans are unaffected
	price, err = svc.SellingPrice(context.Background(), "MTN", "2gb-30d", 45000)
	if err != nil {
		t.Fatalf("selling price: %v", err)
	}
	if price != 45000 {
		t.Fatalf("expected retail 45000 for plan without override, got %d", price)
	}
}

func TestCorruptOverrideFallsBackToRetail(t *testing.T) {
	svc, repo := newTestPricing(t)

	if err := repo.SetKV(context.Background(), "price:GLO:500mb", "not-a-number"); err != nil {
		t.Fatalf("seed corrupt override: %v", err)
	}

	price, err := svc.SellingPrice(context.Background(), "GLO", "500mb", 15000)
	if err != nil {
		t.Fatalf("selling price: %v", err)
	}
	if price != 15000 {
		t.Fatalf("expected retail fallback on corrupt override, got %d", price)
	}
}

func TestSetOverrideRejectsNonPositivePrice(t *testing.T) {
	svc, _ := newTestPricing(t)
	if err := svc.SetOverride(context.Background(), "MTN", "1gb-30d", 0); err == nil {
		t.Fatal("expected rejection of non-positive price")
	}
}
