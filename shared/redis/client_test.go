package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConfig_Options(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		wantErr  bool
		wantAddr string
		wantDB   int
		wantPool int
	}{
		{
			name:     "url only",
			config:   Config{URL: "redis://localhost:6379/0"},
			wantAddr: "localhost:6379",
			wantDB:   0,
		},
		{
			name:     "db and pool size",
			config:   Config{URL: "redis://cache:6380/3", PoolSize: 7},
			wantAddr: "cache:6380",
			wantDB:   3,
			wantPool: 7,
		},
		{
			name:    "bad scheme",
			config:  Config{URL: "http://localhost"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := tt.config.Options()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantAddr, opts.Addr)
			assert.Equal(t, tt.wantDB, opts.DB)
			if tt.wantPool > 0 {
				assert.Equal(t, tt.wantPool, opts.PoolSize)
			}
		})
	}
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(&Config{URL: "redis://" + mr.Addr() + "/0"}, discardLogger())
	require.NoError(t, err)
	defer client.Close()

	assert.NoError(t, client.HealthCheck(context.Background()))
	assert.NotNil(t, client.GetClient())
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(&Config{
		URL:           "redis://" + addr + "/0",
		DialTimeout:   100 * time.Millisecond,
		RetryAttempts: 2,
		RetryInterval: 10 * time.Millisecond,
	}, discardLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempts")
}
