package sheets

import (
	"fmt"
	"time"

	"github.com/Veraticus/pinflow/internal/model"
)

// conversionTimeLayout is the timestamp format accepted by Google Ads imports.
const conversionTimeLayout = "2006-01-02 15:04:05"

var headerRow = []any{
	"Google Click ID",
	"GBRAID",
	"WBRAID",
	"Conversion Name",
	"Conversion Time",
	"Conversion Value",
	"Conversion Currency",
}

// parametersRow declares the time zone of every Conversion Time below it.
func parametersRow(timeZone string) []any {
	return []any{fmt.Sprintf("Parameters:TimeZone=%s", timeZone)}
}

// conversionRows converts sales to import rows. Sales without a click id are skipped.
func conversionRows(sales []model.Sale, cfg Config, loc *time.Location) [][]any {
	rows := make([][]any, 0, len(sales))
	for _, s := range sales {
		if !s.HasClickID() {
			continue
		}
		rows = append(rows, []any{
			s.GCLID,
			s.GBRAID,
			s.WBRAID,
			cfg.ConversionName,
			s.CreatedAt.In(loc).Format(conversionTimeLayout),
			cfg.ConversionValue,
			cfg.Currency,
		})
	}
	return rows
}
