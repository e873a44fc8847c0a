// Package redis stores the channel credential singleton in Redis.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/eywa-bot/line-relay/line"
)

const credentialsKey = "line:credentials"

// Settings holds the channel credential pair. There is at most one live
// record; storing again overwrites it in place. Reads always hit Redis
// so a rotated credential is observed immediately.
type Settings struct {
	cli *redis.Client
}

// Connect connects to the Redis server and pings the server to ensure
// the connection is working.
func Connect(ctx context.Context, addr string) (*Settings, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Settings{
		cli: cli,
	}, nil
}

// credentials is the stored shape of the singleton record.
type credentials struct {
	AccessToken string `redis:"access_token"`
	Secret      string `redis:"secret"`
}

// Store upserts the credential pair.
func (s *Settings) Store(ctx context.Context, accessToken, secret string) error {
	c := credentials{
		AccessToken: accessToken,
		Secret:      secret,
	}
	if err := s.cli.HSet(ctx, credentialsKey, c).Err(); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}
	return nil
}

// Credentials returns the stored pair, or line.ErrUnconfigured when
// nothing has been stored yet. Implements line.CredentialSource.
func (s *Settings) Credentials(ctx context.Context) (line.Credentials, error) {
	var c credentials
	if err := s.cli.HGetAll(ctx, credentialsKey).Scan(&c); err != nil {
		return line.Credentials{}, fmt.Errorf("get credentials: %w", err)
	}
	if c.AccessToken == "" {
		return line.Credentials{}, line.ErrUnconfigured
	}
	return line.Credentials{
		AccessToken: c.AccessToken,
		Secret:      c.Secret,
	}, nil
}
