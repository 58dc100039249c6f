package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript увеличивает счётчик и при первом запросе окна
// выставляет TTL. Возвращает {count, pttl}.
var fixedWindowScript = redis.NewScript(`
local c = redis.call('INCR', KEYS[1])
if c == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {c, ttl}
`)

// Redis — лимитер с общими счётчиками в Redis.
// Подходит для нескольких реплик сервиса за балансировщиком.
type Redis struct {
	client redis.Scripter
	policy Policy
	prefix string
}

// NewRedis создаёт лимитер. prefix — пространство ключей (например, "fileshare:rl:").
func NewRedis(client redis.Scripter, policy Policy, prefix string) *Redis {
	return &Redis{client: client, policy: policy, prefix: prefix}
}

// Allow выполняет INCR + PEXPIRE атомарно в Lua-скрипте.
func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	redisKey := r.prefix + r.policy.Name + ":" + key

	res, err := fixedWindowScript.Run(ctx, r.client,
		[]string{redisKey}, r.policy.Window.Milliseconds()).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: ошибка Redis: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: неожиданный ответ скрипта: %v", res)
	}

	return decide(r.policy, int(res[0]), time.Duration(res[1])*time.Millisecond), nil
}
