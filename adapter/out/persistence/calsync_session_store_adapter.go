package persistence

import (
	"context"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"calsync_server/core/port/out"
	"calsync_server/pkg/apperr"
	"calsync_server/pkg/crypto"
)

const (
	tokenKeyPrefix = "calsync:token:"
	watchKeyPrefix = "calsync:watch:"
	watchExpiryKey = "calsync:watch_expiry"
)

// SessionStoreAdapter keeps OAuth tokens and watch channel state in
// Redis. Tokens are keyed per account and encrypted at rest when an
// encryptor is configured; watch channels carry a secondary index
// sorted by expiration for renewal scans.
type SessionStoreAdapter struct {
	client    *redis.Client
	encryptor *crypto.Encryptor
}

func NewSessionStoreAdapter(client *redis.Client, encryptor *crypto.Encryptor) *SessionStoreAdapter {
	return &SessionStoreAdapter{client: client, encryptor: encryptor}
}

// =============================================================================
// SessionStore
// =============================================================================

func (s *SessionStoreAdapter) SaveToken(ctx context.Context, accountID string, token *oauth2.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return apperr.DatabaseError("encode token", err)
	}

	payload := string(data)
	if s.encryptor != nil {
		payload, err = s.encryptor.Encrypt(data)
		if err != nil {
			return apperr.DatabaseError("encrypt token", err)
		}
	}

	if err := s.client.Set(ctx, tokenKeyPrefix+accountID, payload, 0).Err(); err != nil {
		return apperr.DatabaseError("save token", err)
	}
	return nil
}

func (s *SessionStoreAdapter) LoadToken(ctx context.Context, accountID string) (*oauth2.Token, error) {
	data, err := s.client.Get(ctx, tokenKeyPrefix+accountID).Result()
	if err == redis.Nil {
		return nil, apperr.NotFound("token for account " + accountID)
	}
	if err != nil {
		return nil, apperr.DatabaseError("load token", err)
	}

	payload := []byte(data)
	if s.encryptor != nil {
		payload, err = s.encryptor.Decrypt(data)
		if err != nil {
			return nil, apperr.DatabaseError("decrypt token", err)
		}
	}

	var token oauth2.Token
	if err := json.Unmarshal(payload, &token); err != nil {
		return nil, apperr.DatabaseError("decode token", err)
	}
	return &token, nil
}

func (s *SessionStoreAdapter) DeleteToken(ctx context.Context, accountID string) error {
	if err := s.client.Del(ctx, tokenKeyPrefix+accountID).Err(); err != nil {
		return apperr.DatabaseError("delete token", err)
	}
	return nil
}

// =============================================================================
// WatchStore
// =============================================================================

func (s *SessionStoreAdapter) SaveWatch(ctx context.Context, state *out.WatchState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return apperr.DatabaseError("encode watch state", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, watchKeyPrefix+state.ChannelID, data, 0)
	pipe.ZAdd(ctx, watchExpiryKey, redis.Z{
		Score:  float64(state.Expiration.Unix()),
		Member: state.ChannelID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.DatabaseError("save watch state", err)
	}
	return nil
}

func (s *SessionStoreAdapter) GetWatch(ctx context.Context, channelID string) (*out.WatchState, error) {
	data, err := s.client.Get(ctx, watchKeyPrefix+channelID).Result()
	if err == redis.Nil {
		return nil, apperr.NotFound("watch channel " + channelID)
	}
	if err != nil {
		return nil, apperr.DatabaseError("load watch state", err)
	}

	var state out.WatchState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, apperr.DatabaseError("decode watch state", err)
	}
	return &state, nil
}

func (s *SessionStoreAdapter) DeleteWatch(ctx context.Context, channelID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, watchKeyPrefix+channelID)
	pipe.ZRem(ctx, watchExpiryKey, channelID)
	if _, err := pipe.Exec(ctx); err != nil {
		return apperr.DatabaseError("delete watch state", err)
	}
	return nil
}

func (s *SessionStoreAdapter) ListExpiring(ctx context.Context, before time.Time) ([]*out.WatchState, error) {
	ids, err := s.client.ZRangeByScore(ctx, watchExpiryKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, apperr.DatabaseError("scan expiring watches", err)
	}

	states := make([]*out.WatchState, 0, len(ids))
	for _, id := range ids {
		state, err := s.GetWatch(ctx, id)
		if err != nil {
			if apperr.IsNotFound(err) {
				// Index entry survived a deleted channel; drop it.
				s.client.ZRem(ctx, watchExpiryKey, id)
				continue
			}
			return nil, err
		}
		states = append(states, state)
	}
	return states, nil
}

var (
	_ out.SessionStore = (*SessionStoreAdapter)(nil)
	_ out.WatchStore   = (*SessionStoreAdapter)(nil)
)
