package server

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Config_Defaults(t *testing.T) {
	req := require.New(t)
	cfg := NewConfig()

	req.Equal(":8080", cfg.Port)
	req.Equal([]string{"alpha", "beta"}, cfg.UserList())
	req.Equal(5*time.Second, cfg.Grace())
	req.Equal(int64(10<<20), cfg.MaxMessageSize)
	req.Equal(slog.LevelInfo, cfg.SlogLevel())
}

func Test_LoadConfig_Applies_Environment(t *testing.T) {
	req := require.New(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("CHAT_USERS", "north, south")
	t.Setenv("PRESENCE_GRACE_SECONDS", "2")
	t.Setenv("ALLOWED_ORIGINS", "https://chat.example.com, http://localhost:3000")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	req.NoError(err)

	req.Equal(":9090", cfg.Port, "a bare port gets a colon prefix")
	a, b := cfg.UserPair()
	req.Equal("north", a)
	req.Equal("south", b)
	req.Equal(2*time.Second, cfg.Grace())
	req.Equal([]string{"https://chat.example.com", "http://localhost:3000"}, cfg.Origins())
	req.Equal(slog.LevelDebug, cfg.SlogLevel())
}

func Test_LoadConfig_Rejects_Bad_User_Pairs(t *testing.T) {
	for name, users := range map[string]string{
		"single identity":     "alpha",
		"duplicate identity":  "alpha,alpha",
		"too many identities": "a,b,c",
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv("CHAT_USERS", users)
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}
