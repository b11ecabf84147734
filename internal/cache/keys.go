package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	UsernameKeyPrefix = "username:%d"
	ChatNameKeyPrefix = "chat:%d:name"
)

// Usernames and chat names never change once written, so TTLs only bound memory.
const (
	UsernameTTL = 30 * time.Minute
	ChatNameTTL = 30 * time.Minute
)

func UsernameKey(userID uint) string {
	return fmt.Sprintf(UsernameKeyPrefix, userID)
}

func ChatNameKey(chatID uint) string {
	return fmt.Sprintf(ChatNameKeyPrefix, chatID)
}

// Invalidate removes key, ignoring a nil client.
func Invalidate(ctx context.Context, rdb *redis.Client, key string) {
	if rdb != nil {
		rdb.Del(ctx, key)
	}
}
