package lock

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docvault/internal/config"
	"docvault/internal/docerr"
	"docvault/internal/model"
)

var lineage = model.Lineage{EntityType: model.EntityCliente, EntityID: "cli-9", Slot: "cedula"}

func TestNoop(t *testing.T) {
	lease, err := Noop{}.Acquire(context.Background(), lineage)
	require.NoError(t, err)
	assert.NoError(t, lease.Release(context.Background()))
	assert.NoError(t, lease.Release(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Noop{}.Acquire(ctx, lineage)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "docvault:lineage:cliente/cli-9/cedula", Key(lineage))
}

func TestDial(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.RedisConfig
		wantNil bool
		wantErr string
	}{
		{name: "disabled", cfg: config.RedisConfig{}, wantNil: true},
		{name: "bad url", cfg: config.RedisConfig{URL: "http://nope"}, wantErr: "parse redis URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := Dial(context.Background(), tt.cfg)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantNil, client == nil)
		})
	}
}

func TestRedisAcquire_Unreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	defer client.Close()

	_, err := NewRedis(client, time.Second).Acquire(context.Background(), lineage)
	assert.ErrorIs(t, err, docerr.ErrStorageUnavailable)
}
