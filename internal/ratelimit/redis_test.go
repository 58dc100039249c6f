package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeScripter эмулирует fixedWindowScript без сети: EvalSha выполняет
// логику скрипта над счётчиками в памяти.
type fakeScripter struct {
	mu     sync.Mutex
	counts map[string]int64
	keys   []string
}

func newFakeScripter() *fakeScripter {
	return &fakeScripter{counts: make(map[string]int64)}
}

func (f *fakeScripter) run(ctx context.Context, keys []string, args ...any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.keys = append(f.keys, keys[0])
	f.counts[keys[0]]++
	ttl := args[0].(int64)

	cmd := redis.NewCmd(ctx)
	cmd.SetVal([]any{f.counts[keys[0]], ttl})
	return cmd
}

func (f *fakeScripter) Eval(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.run(ctx, keys, args...)
}

func (f *fakeScripter) EvalSha(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.run(ctx, keys, args...)
}

func (f *fakeScripter) EvalRO(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.run(ctx, keys, args...)
}

func (f *fakeScripter) EvalShaRO(ctx context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.run(ctx, keys, args...)
}

func (f *fakeScripter) ScriptExists(ctx context.Context, _ ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceCmd(ctx)
}

func (f *fakeScripter) ScriptLoad(ctx context.Context, _ string) *redis.StringCmd {
	return redis.NewStringCmd(ctx)
}

func TestRedis_Allow(t *testing.T) {
	fake := newFakeScripter()
	l := NewRedis(fake, Policy{Name: "upload", Limit: 2, Window: time.Hour}, "fileshare:rl:")
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		d, err := l.Allow(ctx, "10.0.0.7")
		if err != nil {
			t.Fatalf("Allow: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("запрос %d должен быть разрешён", i)
		}
	}

	d, err := l.Allow(ctx, "10.0.0.7")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if d.Allowed {
		t.Fatal("3-й запрос должен быть отклонён")
	}
	if d.RetryAfter != time.Hour {
		t.Errorf("RetryAfter: хотели 1h, получили %s", d.RetryAfter)
	}

	if fake.keys[0] != "fileshare:rl:upload:10.0.0.7" {
		t.Errorf("ключ Redis: получили %q", fake.keys[0])
	}
}
