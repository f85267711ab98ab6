package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestParseSalesRollsUpTransactions(t *testing.T) {
	csv := `item_id,date,quantity,revenue
espresso-beans,2026-08-01,2,10.00
espresso-beans,2026-08-01,3,15.00
espresso-beans,2026-08-02,1,5.00
oat-milk,2026-08-01,4,8.00
`
	records, err := parseSales(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("parseSales returned error: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("expected 3 daily rows, got %d", len(records))
	}

	first := records[0]
	if first.ItemID != "espresso-beans" || first.QuantityConsumed != 5 {
		t.Errorf("expected espresso-beans day rolled up to 5, got %+v", first)
	}
	if !first.Revenue.Equal(decimal.RequireFromString("25.00")) {
		t.Errorf("expected revenue 25.00, got %s", first.Revenue)
	}
	want := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if !first.Date.Equal(want) {
		t.Errorf("expected date %s, got %s", want, first.Date)
	}
}

func TestParseSalesMatchesHeaderAliases(t *testing.T) {
	csv := `SKU,Transaction Date,Qty Sold,Total
matcha,02/08/2026,3,12.00
`
	// "Qty Sold" is not a known alias; "qty" variants must still work.
	if _, err := parseSales(strings.NewReader(csv)); err == nil {
		t.Fatal("expected error for unknown quantity column")
	}

	csv = `SKU,Transaction Date,Qty,Total
matcha,02/08/2026,3,12.00
`
	records, err := parseSales(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("parseSales returned error: %v", err)
	}
	if len(records) != 1 || records[0].ItemID != "matcha" || records[0].QuantityConsumed != 3 {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestParseSalesSkipsRefundLines(t *testing.T) {
	csv := `item_id,date,quantity
espresso-beans,2026-08-01,5
espresso-beans,2026-08-01,-2
espresso-beans,2026-08-01,0
`
	records, err := parseSales(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("parseSales returned error: %v", err)
	}
	if len(records) != 1 || records[0].QuantityConsumed != 5 {
		t.Fatalf("refund and void lines must be skipped, got %+v", records)
	}
}

func TestParseSalesRejectsBadDate(t *testing.T) {
	csv := `item_id,date,quantity
espresso-beans,yesterday,5
`
	if _, err := parseSales(strings.NewReader(csv)); err == nil {
		t.Fatal("expected error for unparseable date")
	}
}

func TestParseSalesMissingColumns(t *testing.T) {
	csv := `foo,bar
1,2
`
	if _, err := parseSales(strings.NewReader(csv)); err == nil {
		t.Fatal("expected error for missing required columns")
	}
}
