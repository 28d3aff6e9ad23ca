package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ryhazerus/restbucket/store"
	redisstore "github.com/ryhazerus/restbucket/store/redis"
)

var errNoStore = errors.New("no store configured: pass --sqlite or --redis")

// openStore opens the store selected by --sqlite or --redis.
func openStore(ctx context.Context) (store.Store, error) {
	sqlitePath := viper.GetString("store.sqlite")
	redisURL := viper.GetString("store.redis")

	switch {
	case sqlitePath != "" && redisURL != "":
		return nil, errors.New("--sqlite and --redis are mutually exclusive")
	case redisURL != "":
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		logger.Debug("opened redis store", zap.String("addr", opts.Addr), zap.Int("db", opts.DB))
		return redisstore.NewRedisStore(client), nil
	case sqlitePath != "":
		s, err := store.NewSQLiteStore(sqlitePath)
		if err != nil {
			return nil, err
		}
		logger.Debug("opened sqlite store", zap.String("path", sqlitePath))
		return s, nil
	default:
		return nil, errNoStore
	}
}
