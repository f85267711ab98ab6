package cache

import (
	"context"
	"testing"
	"time"
)

func TestKeyLayout(t *testing.T) {
	day := time.Date(2026, 8, 30, 15, 4, 5, 0, time.UTC)

	if got, want := buildRecommendationKey("espresso-beans", day), "recommendation:espresso-beans:2026-08-30"; got != want {
		t.Errorf("recommendation key = %q, want %q", got, want)
	}
	if got, want := buildForecastKey("espresso-beans", 10, day), "forecast:espresso-beans:10:2026-08-30"; got != want {
		t.Errorf("forecast key = %q, want %q", got, want)
	}
}

func TestKeyUsesUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	local := time.Date(2026, 8, 31, 2, 0, 0, 0, loc) // still Aug 30 in UTC

	if got, want := buildRecommendationKey("x", local), "recommendation:x:2026-08-30"; got != want {
		t.Errorf("key = %q, want %q", got, want)
	}
}

func TestNoopCacheAlwaysMisses(t *testing.T) {
	c := NewNoopRecommendationCache()
	ctx := context.Background()
	day := time.Now()

	if _, ok, err := c.GetRecommendation(ctx, "espresso-beans", day); ok || err != nil {
		t.Fatalf("noop cache must miss cleanly, got ok=%v err=%v", ok, err)
	}
	if _, ok, err := c.GetForecast(ctx, "espresso-beans", 10, day); ok || err != nil {
		t.Fatalf("noop cache must miss cleanly, got ok=%v err=%v", ok, err)
	}
	if err := c.SetRecommendation(ctx, "espresso-beans", day, nil); err != nil {
		t.Fatal(err)
	}
	if err := c.InvalidateItem(ctx, "espresso-beans"); err != nil {
		t.Fatal(err)
	}
	if err := c.InvalidateAll(ctx); err != nil {
		t.Fatal(err)
	}
}
