package statecache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/pharmasentinel/orchestrator/internal/risk"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewFromClient(client, time.Hour, zaptest.NewLogger(t)), mr
}

func TestSaveAndLoadViews(t *testing.T) {
	cache, _ := newTestCache(t)
	defer cache.Close()
	ctx := context.Background()

	views := []risk.DrugRiskView{
		{
			DrugName:              "Propofol",
			PredictedBurnRateDays: 9,
			PredictedUsageRate:    11,
			Tier:                  risk.TierHigh,
			TierName:              "HIGH",
		},
		{
			DrugName: "Insulin",
			Tier:     risk.TierLow,
			TierName: "LOW",
		},
	}

	if err := cache.SaveViews(ctx, views); err != nil {
		t.Fatalf("SaveViews: %v", err)
	}

	loaded, err := cache.LoadViews(ctx)
	if err != nil {
		t.Fatalf("LoadViews: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("got %d views, want 2", len(loaded))
	}
	if loaded[0].DrugName != "Propofol" || loaded[0].Tier != risk.TierHigh {
		t.Errorf("tier lost in round trip: %+v", loaded[0])
	}
	if loaded[1].Tier != risk.TierLow {
		t.Errorf("expected LOW tier, got %v", loaded[1].Tier)
	}
}

func TestLoadViewsEmpty(t *testing.T) {
	cache, _ := newTestCache(t)
	defer cache.Close()

	_, err := cache.LoadViews(context.Background())
	if !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot, got %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	cache, _ := newTestCache(t)
	defer cache.Close()
	ctx := context.Background()

	if err := cache.SaveViews(ctx, []risk.DrugRiskView{{DrugName: "Heparin", TierName: "HIGH"}}); err != nil {
		t.Fatalf("SaveViews: %v", err)
	}
	if err := cache.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := cache.LoadViews(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot after invalidate, got %v", err)
	}
}

func TestSnapshotExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewFromClient(client, time.Minute, zaptest.NewLogger(t))
	defer cache.Close()
	ctx := context.Background()

	if err := cache.SaveViews(ctx, []risk.DrugRiskView{{DrugName: "Heparin", TierName: "HIGH"}}); err != nil {
		t.Fatalf("SaveViews: %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := cache.LoadViews(ctx); !errors.Is(err, ErrNoSnapshot) {
		t.Errorf("expected ErrNoSnapshot after TTL, got %v", err)
	}
}
