package config

import (
	"os"

	"github.com/Veraticus/pinflow/internal/sheets"
)

// applySheetsEnv fills unset Sheets credentials from the GOOGLE_SHEETS_* variables
// shared with other Google tooling. Values from the config file or PINFLOW_ vars win.
func applySheetsEnv(c *sheets.Config) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = os.Getenv(key)
		}
	}
	fill(&c.ServiceAccountPath, "GOOGLE_SHEETS_SERVICE_ACCOUNT_PATH")
	fill(&c.ClientID, "GOOGLE_SHEETS_CLIENT_ID")
	fill(&c.ClientSecret, "GOOGLE_SHEETS_CLIENT_SECRET")
	fill(&c.RefreshToken, "GOOGLE_SHEETS_REFRESH_TOKEN")
	fill(&c.SpreadsheetID, "GOOGLE_SHEETS_SPREADSHEET_ID")

	c.ServiceAccountPath = ExpandPath(c.ServiceAccountPath)
}
