package presence

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"

	"constellation/internal/domain"
)

const defaultPrefix = "constellation:presence:"

// RedisStore keeps presence in a sorted set per task scored by last update,
// with cursors in a hash per task and a set indexing tasks that have rows.
type RedisStore struct {
	Client *redis.Client
	Prefix string
}

// NewRedisStore connects to redisURL and pings it.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{Client: client, Prefix: defaultPrefix}, nil
}

func (s *RedisStore) Close() error {
	return s.Client.Close()
}

func (s *RedisStore) prefix() string {
	if s.Prefix == "" {
		return defaultPrefix
	}
	return s.Prefix
}

func (s *RedisStore) scoresKey(taskID string) string { return s.prefix() + "task:" + taskID }
func (s *RedisStore) cursorsKey(taskID string) string {
	return s.prefix() + "cursor:" + taskID
}
func (s *RedisStore) tasksKey() string { return s.prefix() + "tasks" }

func (s *RedisStore) Touch(ctx context.Context, p domain.Presence) error {
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, s.scoresKey(p.TaskID), redis.Z{Score: float64(p.LastUpdated), Member: p.UserID})
		pipe.HSet(ctx, s.cursorsKey(p.TaskID), p.UserID, encodeCursor(p.Cursor))
		pipe.SAdd(ctx, s.tasksKey(), p.TaskID)
		return nil
	})
	return err
}

func (s *RedisStore) Get(ctx context.Context, userID, taskID string) (domain.Presence, error) {
	score, err := s.Client.ZScore(ctx, s.scoresKey(taskID), userID).Result()
	if err == redis.Nil {
		return domain.Presence{}, ErrNotFound
	}
	if err != nil {
		return domain.Presence{}, err
	}
	raw, err := s.Client.HGet(ctx, s.cursorsKey(taskID), userID).Result()
	if err != nil && err != redis.Nil {
		return domain.Presence{}, err
	}
	return domain.Presence{UserID: userID, TaskID: taskID, LastUpdated: int64(score), Cursor: decodeCursor(raw)}, nil
}

func (s *RedisStore) Remove(ctx context.Context, userID, taskID string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.scoresKey(taskID), userID)
		pipe.HDel(ctx, s.cursorsKey(taskID), userID)
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed.Val() > 0, nil
}

func (s *RedisStore) Active(ctx context.Context, taskID string, sinceMillis int64) ([]domain.Presence, error) {
	zs, err := s.Client.ZRevRangeByScoreWithScores(ctx, s.scoresKey(taskID), &redis.ZRangeBy{
		Min: strconv.FormatInt(sinceMillis, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	res := make([]domain.Presence, 0, len(zs))
	if len(zs) == 0 {
		return res, nil
	}
	users := make([]string, len(zs))
	for i, z := range zs {
		users[i] = fmt.Sprint(z.Member)
	}
	cursors, err := s.Client.HMGet(ctx, s.cursorsKey(taskID), users...).Result()
	if err != nil {
		return nil, err
	}
	for i, z := range zs {
		raw, _ := cursors[i].(string)
		res = append(res, domain.Presence{UserID: users[i], TaskID: taskID, LastUpdated: int64(z.Score), Cursor: decodeCursor(raw)})
	}
	return res, nil
}

func (s *RedisStore) DropTask(ctx context.Context, taskID string) error {
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.scoresKey(taskID), s.cursorsKey(taskID))
		pipe.SRem(ctx, s.tasksKey(), taskID)
		return nil
	})
	return err
}

func (s *RedisStore) Prune(ctx context.Context, beforeMillis int64) (int64, error) {
	tasks, err := s.Client.SMembers(ctx, s.tasksKey()).Result()
	if err != nil {
		return 0, err
	}
	upper := "(" + strconv.FormatInt(beforeMillis, 10)
	var total int64
	for _, taskID := range tasks {
		stale, err := s.Client.ZRangeByScore(ctx, s.scoresKey(taskID), &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
		if err != nil {
			return total, err
		}
		if len(stale) > 0 {
			members := make([]any, len(stale))
			for i, u := range stale {
				members[i] = u
			}
			_, err = s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZRem(ctx, s.scoresKey(taskID), members...)
				pipe.HDel(ctx, s.cursorsKey(taskID), stale...)
				return nil
			})
			if err != nil {
				return total, err
			}
			total += int64(len(stale))
		}
		left, err := s.Client.ZCard(ctx, s.scoresKey(taskID)).Result()
		if err != nil {
			return total, err
		}
		if left == 0 {
			if err := s.DropTask(ctx, taskID); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (s *RedisStore) Count(ctx context.Context, sinceMillis int64) (int, error) {
	tasks, err := s.Client.SMembers(ctx, s.tasksKey()).Result()
	if err != nil {
		return 0, err
	}
	lower := strconv.FormatInt(sinceMillis, 10)
	var n int64
	for _, taskID := range tasks {
		c, err := s.Client.ZCount(ctx, s.scoresKey(taskID), lower, "+inf").Result()
		if err != nil {
			return 0, err
		}
		n += c
	}
	return int(n), nil
}

func encodeCursor(p domain.Position) string {
	return strconv.FormatFloat(p.X, 'g', -1, 64) + "," + strconv.FormatFloat(p.Y, 'g', -1, 64)
}

func decodeCursor(raw string) domain.Position {
	x, y, ok := strings.Cut(raw, ",")
	if !ok {
		return domain.Position{}
	}
	var p domain.Position
	p.X, _ = strconv.ParseFloat(x, 64)
	p.Y, _ = strconv.ParseFloat(y, 64)
	return p
}
