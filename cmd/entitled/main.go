package main

import (
	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"

	"github.com/vettedhq/entitlement-engine/internal/config"
	"github.com/vettedhq/entitlement-engine/internal/server"
	"github.com/vettedhq/entitlement-engine/internal/sweeper"
)

func main() {
	app := fx.New(
		fx.Provide(RegisterSnowflake),
		fx.Provide(NewRedisClient),
		fx.Provide(NewSweepLocker),
		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}

// NewRedisClient returns nil when no address is configured; the sweeper then
// runs without a cross-replica lock.
func NewRedisClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

func NewSweepLocker(client *redis.Client) *sweeper.Locker {
	return sweeper.NewLocker(client)
}
