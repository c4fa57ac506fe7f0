package cache

import "context"

// ResponseCache holds rendered response bodies for read-heavy endpoints.
// A miss is (nil, nil); errors mean the cache itself failed and callers
// should fall through to the source.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}
