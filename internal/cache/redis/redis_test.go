package redis

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestKeyNamespacing(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	defer rdb.Close()

	assert.Equal(t, "wagerd:lock:wager:w1", newClient(rdb, "").Key("lock", "wager:w1"))
	assert.Equal(t, "staging:stream:wager-events", newClient(rdb, "staging").Key("stream", "wager-events"))
	assert.Equal(t, "a:b:ratelimit:ip", newClient(rdb, "a:b:").Key("ratelimit", "ip"))
}

func TestSlidingWindowScriptIsEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
	assert.Contains(t, slidingWindowLua, "return {1, count + 1}")
}
