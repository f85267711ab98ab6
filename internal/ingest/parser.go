package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cafeops/replenish/internal/domain"
	"github.com/shopspring/decimal"
)

// Sales exports come from several POS vendors with inconsistent headers;
// columns are matched by normalized name against known aliases.
var columnNameSanitizer = strings.NewReplacer(" ", "", "_", "", ".", "", "-", "", "/", "")

func normalizeColumnName(name string) string {
	name = strings.TrimSpace(strings.ToLower(name))
	return columnNameSanitizer.Replace(name)
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"20060102",
	time.RFC3339,
}

func parseDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC().Truncate(24 * time.Hour), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", v)
}

// ParseSalesCSV reads a transaction-level sales export and rolls it up
// into one ConsumptionRecord per (item, day), sorted by item then date.
func ParseSalesCSV(path string) ([]domain.ConsumptionRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return parseSales(file)
}

func parseSales(r io.Reader) ([]domain.ConsumptionRecord, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := func(names ...string) int {
		targets := make(map[string]struct{}, len(names))
		for _, name := range names {
			targets[normalizeColumnName(name)] = struct{}{}
		}
		for i, h := range header {
			if _, ok := targets[normalizeColumnName(h)]; ok {
				return i
			}
		}
		return -1
	}

	idxItem := colIndex("item_id", "sku", "item", "product code")
	idxDate := colIndex("date", "transaction date", "sale date", "tanggal")
	idxQty := colIndex("quantity", "qty", "quantity sold", "units")
	idxRevenue := colIndex("revenue", "total", "amount", "line total")

	if idxItem < 0 || idxDate < 0 || idxQty < 0 {
		return nil, fmt.Errorf("sales export missing required columns (item/date/quantity), header: %v", header)
	}

	type dayKey struct {
		item string
		day  time.Time
	}
	rollup := make(map[dayKey]*domain.ConsumptionRecord)

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed reading line %d: %w", line, err)
		}
		line++

		get := func(idx int) string {
			if idx < 0 || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}

		itemID := get(idxItem)
		if itemID == "" {
			continue
		}

		day, err := parseDate(get(idxDate))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		qtyRaw := strings.ReplaceAll(get(idxQty), ",", "")
		qty, err := strconv.ParseFloat(qtyRaw, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid quantity %q", line, qtyRaw)
		}
		if qty <= 0 {
			// Refund and void lines do not count as consumption.
			continue
		}

		revenue := decimal.Zero
		if raw := strings.ReplaceAll(get(idxRevenue), ",", ""); raw != "" {
			if d, err := decimal.NewFromString(raw); err == nil {
				revenue = d
			}
		}

		key := dayKey{item: itemID, day: day}
		if agg, ok := rollup[key]; ok {
			agg.QuantityConsumed += qty
			agg.Revenue = agg.Revenue.Add(revenue)
		} else {
			rollup[key] = &domain.ConsumptionRecord{
				ItemID:           itemID,
				Date:             day,
				QuantityConsumed: qty,
				Revenue:          revenue,
			}
		}
	}

	out := make([]domain.ConsumptionRecord, 0, len(rollup))
	for _, rec := range rollup {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}
