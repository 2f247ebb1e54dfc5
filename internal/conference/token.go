package conference

import (
	"context"
	"net/http"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"taskbridge/internal/log"
	"taskbridge/internal/rest"
)

// TokenClient issues room access tokens from the backend's token endpoint,
// caching each room/identity pair for the configured ttl so repeated joins
// of the same room don't hammer the issuer.
type TokenClient struct {
	client *rest.Client
	cache  *gocache.Cache
}

// NewTokenClient creates a token client whose cache entries expire after
// ttl.
func NewTokenClient(client *rest.Client, ttl time.Duration) *TokenClient {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TokenClient{
		client: client,
		cache:  gocache.New(ttl, 2*ttl),
	}
}

// Token returns an access token for identity in roomName, from cache when
// a fresh one exists.
func (c *TokenClient) Token(ctx context.Context, roomName, identity string) (string, error) {
	key := roomName + "/" + identity
	if cached, ok := c.cache.Get(key); ok {
		return cached.(string), nil
	}

	body := map[string]string{"room_name": roomName, "identity": identity}
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.client.Do(ctx, http.MethodPost, "/api/livekit/token", body, &resp); err != nil {
		return "", err
	}

	c.cache.Set(key, resp.Token, gocache.DefaultExpiration)
	log.Debug(log.CatConf, "room token issued", "room", roomName, "identity", identity)
	return resp.Token, nil
}

// Invalidate drops the cached token for identity in roomName, forcing the
// next Token call to hit the issuer.
func (c *TokenClient) Invalidate(roomName, identity string) {
	c.cache.Delete(roomName + "/" + identity)
}
