package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pinflow/internal/common"
)

func loadYAML(t *testing.T, doc string) (*Config, error) {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(doc)))
	ConfigureEnv(v)
	return Load(v)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := loadYAML(t, "{}")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "966", cfg.Funnel.Country)
	assert.Equal(t, 10*time.Minute, cfg.Funnel.TrxTTL)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.NotContains(t, cfg.Storage.Path, "$HOME")
	assert.Equal(t, "/s", cfg.Tracking.Endpoints.Session)
	assert.Equal(t, 15*time.Minute, cfg.Tracking.CampaignCacheTTL)
	assert.Equal(t, "Conversions", cfg.Sheets.SheetName)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Tracking.Kafka.Enabled())
}

func TestLoad_File(t *testing.T) {
	cfg, err := loadYAML(t, `
server:
  addr: ":9090"
funnel:
  country: "+965"
  language: ar
  trx_ttl: 3m
gateway:
  base_url: https://gw.example.com
  username: user
  password: pass
  channel_id: "12"
tracking:
  base_url: https://analytics.example.com/api
  api_key: key
  endpoints:
    event: /events
  kafka:
    topic: funnel-events
    brokers: ["kafka-1:9092", "kafka-2:9092"]
storage:
  driver: postgres
  dsn: postgres://localhost/pinflow
countries:
  - code: "20"
    name: Egypt
    digits: 10
    leading: ["1"]
    trunk: true
logging:
  level: debug
  format: json
`)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, "965", cfg.Funnel.Country)
	assert.Equal(t, 3*time.Minute, cfg.Funnel.TrxTTL)
	assert.Equal(t, "12", cfg.Gateway.ChannelID)
	assert.Equal(t, "https://analytics.example.com/api", cfg.Tracking.BaseURL)
	assert.Equal(t, "/events", cfg.Tracking.Endpoints.Event)
	assert.Equal(t, "/s", cfg.Tracking.Endpoints.Session)
	assert.True(t, cfg.Tracking.Kafka.Enabled())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Tracking.Kafka.Brokers)
	assert.Equal(t, "postgres://localhost/pinflow", cfg.Storage.Target())
	require.NoError(t, cfg.ValidateServing())

	require.Len(t, cfg.Countries, 1)
	reg, err := cfg.Registry()
	require.NoError(t, err)
	egypt, err := reg.Lookup("20")
	require.NoError(t, err)
	got, err := egypt.Normalize("01012345678")
	require.NoError(t, err)
	assert.Equal(t, "201012345678", got)

	n, err := cfg.Normalizer()
	require.NoError(t, err)
	assert.Equal(t, "965", n.CountryCode())
	assert.Len(t, cfg.TrackingOptions(), 2)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PINFLOW_GATEWAY_PASSWORD", "from-env")
	t.Setenv("PINFLOW_FUNNEL_SESSION_TTL", "45m")
	t.Setenv("GOOGLE_SHEETS_SPREADSHEET_ID", "sheet-from-google-env")

	cfg, err := loadYAML(t, "gateway:\n  password: from-file\n")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Gateway.Password)
	assert.Equal(t, 45*time.Minute, cfg.Funnel.SessionTTL)
	assert.Equal(t, "sheet-from-google-env", cfg.Sheets.SpreadsheetID)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		wantErr error
		name    string
		doc     string
	}{
		{name: "bad log level", doc: "logging:\n  level: loud\n", wantErr: common.ErrInvalidConfig},
		{name: "bad log format", doc: "logging:\n  format: xml\n", wantErr: common.ErrInvalidConfig},
		{name: "unknown country", doc: "funnel:\n  country: \"999\"\n", wantErr: common.ErrInvalidConfig},
		{name: "bad country rule", doc: "countries:\n  - code: \"20\"\n    digits: 0\n", wantErr: common.ErrInvalidConfig},
		{name: "unknown driver", doc: "storage:\n  driver: mongo\n", wantErr: common.ErrInvalidConfig},
		{name: "postgres without dsn", doc: "storage:\n  driver: postgres\n", wantErr: common.ErrMissingConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadYAML(t, tt.doc)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateServing_MissingCollaborators(t *testing.T) {
	cfg, err := loadYAML(t, "{}")
	require.NoError(t, err)

	err = cfg.ValidateServing()
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMissingConfig)
	assert.Contains(t, err.Error(), "gateway.base_url")

	cfg.Gateway.BaseURL = "https://gw"
	cfg.Gateway.Username = "u"
	cfg.Gateway.Password = "p"
	cfg.Gateway.ChannelID = "1"
	err = cfg.ValidateServing()
	assert.ErrorIs(t, err, common.ErrMissingConfig)
	assert.Contains(t, err.Error(), "tracking.base_url")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	t.Setenv("PINFLOW_TEST_DIR", "/srv/data")

	tests := []struct {
		input string
		want  string
	}{
		{input: "", want: ""},
		{input: "~", want: home},
		{input: "~/pinflow.db", want: filepath.Join(home, "pinflow.db")},
		{input: "$PINFLOW_TEST_DIR/pinflow.db", want: "/srv/data/pinflow.db"},
		{input: "/abs/path.db", want: "/abs/path.db"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandPath(tt.input))
		})
	}
}
