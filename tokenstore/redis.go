package tokenstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const credentialRecordVersion1 = 1

// ErrRedisUnavailable wraps backend failures from the Redis store.
var ErrRedisUnavailable = errors.New("credential store backend unavailable")

// Redis caches a credential pair across processes, for server-side portals
// that run more than one replica behind one session. Records expire with the
// configured TTL; a pair read back after a restart is not trusted blindly —
// the lifecycle manager re-validates the access token before every use, so a
// stale cached pair degrades to a refresh, never to an authorized call with a
// dead token.
type Redis struct {
	rdb    *redis.Client
	prefix string
	key    string
	ttl    time.Duration
}

// NewRedis returns a store persisting under prefix:creds:sessionKey.
// sessionKey scopes the record, typically one per portal session.
func NewRedis(rdb *redis.Client, prefix, sessionKey string, ttl time.Duration) *Redis {
	return &Redis{
		rdb:    rdb,
		prefix: prefix,
		key:    prefix + ":creds:" + sessionKey,
		ttl:    ttl,
	}
}

// Current implements [Store].
func (r *Redis) Current(ctx context.Context) (*Credentials, error) {
	data, err := r.rdb.Get(ctx, r.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	creds, err := decodeCredentials(data)
	if err != nil {
		// A corrupt record is indistinguishable from an absent one for the
		// caller; drop it rather than surfacing garbage credentials.
		_, _ = r.rdb.Del(ctx, r.key).Result()
		return nil, nil
	}
	return creds, nil
}

// Replace implements [Store].
func (r *Redis) Replace(ctx context.Context, creds Credentials) error {
	if !creds.complete() {
		return ErrPartialCredentials
	}
	encoded, err := encodeCredentials(&creds)
	if err != nil {
		return err
	}
	if err := r.rdb.Set(ctx, r.key, encoded, r.ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ReplaceAccess implements [Store].
func (r *Redis) ReplaceAccess(ctx context.Context, accessToken string, expiresAt time.Time) error {
	if accessToken == "" {
		return ErrPartialCredentials
	}
	current, err := r.Current(ctx)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrPartialCredentials
	}
	current.AccessToken = accessToken
	current.AccessExpiresAt = expiresAt
	return r.Replace(ctx, *current)
}

// Clear implements [Store].
func (r *Redis) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func encodeCredentials(creds *Credentials) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(credentialRecordVersion1)

	if err := binary.Write(&buf, binary.BigEndian, creds.AccessExpiresAt.Unix()); err != nil {
		return nil, err
	}
	if len(creds.AccessToken) > 65535 || len(creds.RefreshToken) > 65535 {
		return nil, errors.New("credential length exceeded")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(creds.AccessToken))); err != nil {
		return nil, err
	}
	buf.WriteString(creds.AccessToken)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(creds.RefreshToken))); err != nil {
		return nil, err
	}
	buf.WriteString(creds.RefreshToken)

	return buf.Bytes(), nil
}

func decodeCredentials(data []byte) (*Credentials, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != credentialRecordVersion1 {
		return nil, errors.New("invalid credential record version")
	}

	var expiresUnix int64
	if err := binary.Read(reader, binary.BigEndian, &expiresUnix); err != nil {
		return nil, err
	}

	var accessLen uint16
	if err := binary.Read(reader, binary.BigEndian, &accessLen); err != nil {
		return nil, err
	}
	access := make([]byte, accessLen)
	if _, err := io.ReadFull(reader, access); err != nil {
		return nil, err
	}

	var refreshLen uint16
	if err := binary.Read(reader, binary.BigEndian, &refreshLen); err != nil {
		return nil, err
	}
	refresh := make([]byte, refreshLen)
	if _, err := io.ReadFull(reader, refresh); err != nil {
		return nil, err
	}

	creds := &Credentials{
		AccessToken:     string(access),
		RefreshToken:    string(refresh),
		AccessExpiresAt: time.Unix(expiresUnix, 0),
	}
	if !creds.complete() {
		return nil, errors.New("incomplete credential record")
	}
	return creds, nil
}
