// Package realtime holds the live per-session tree in Redis: status,
// progress, players, the live leaderboard, chat and the raw game event log.
// Every mutation is announced on the session's change channel.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/laotypo/sessionsrv/internal/laotypo"
)

var (
	ErrNotFound = errors.New("not found in realtime tree")
	// ErrContention is returned when an optimistic update kept losing races.
	ErrContention = errors.New("realtime update contention")
)

const (
	keyPrefix       = "rt:"
	maxTxRetries    = 10
	messageCapacity = 500
)

// Tree is the Redis-backed realtime store.
type Tree struct {
	rdb    *redis.Client
	logger *slog.Logger
}

func New(rdb *redis.Client, logger *slog.Logger) *Tree {
	return &Tree{rdb: rdb, logger: logger}
}

// Connect parses a redis:// URL and verifies the server answers.
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

func (t *Tree) Ping(ctx context.Context) error {
	return t.rdb.Ping(ctx).Err()
}

func key(sessionID, part string) string {
	return keyPrefix + sessionID + ":" + part
}

func keys(sessionID string) []string {
	return []string{
		key(sessionID, "status"),
		key(sessionID, "nextWordIndex"),
		key(sessionID, "players"),
		key(sessionID, "leaderboard"),
		key(sessionID, "scoredAt"),
		key(sessionID, "messages"),
		key(sessionID, "gameEvents"),
	}
}

// Init creates an empty tree in the waiting state, replacing any leftovers.
func (t *Tree) Init(ctx context.Context, sessionID string) error {
	_, err := t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys(sessionID)...)
		pipe.Set(ctx, key(sessionID, "status"), string(laotypo.StatusWaiting), 0)
		pipe.Set(ctx, key(sessionID, "nextWordIndex"), 0, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("initializing tree %s: %w", sessionID, err)
	}
	t.publish(ctx, Change{Type: ChangeStatus, SessionID: sessionID, Status: laotypo.StatusWaiting})
	return nil
}

// Exists reports whether the session has a realtime tree.
func (t *Tree) Exists(ctx context.Context, sessionID string) (bool, error) {
	n, err := t.rdb.Exists(ctx, key(sessionID, "status")).Result()
	if err != nil {
		return false, fmt.Errorf("checking tree %s: %w", sessionID, err)
	}
	return n == 1, nil
}

// Delete removes the whole subtree.
func (t *Tree) Delete(ctx context.Context, sessionID string) error {
	if err := t.rdb.Del(ctx, keys(sessionID)...).Err(); err != nil {
		return fmt.Errorf("deleting tree %s: %w", sessionID, err)
	}
	return nil
}

// SessionIDs scans for every session that has a realtime tree.
func (t *Tree) SessionIDs(ctx context.Context) ([]string, error) {
	var ids []string
	iter := t.rdb.Scan(ctx, 0, keyPrefix+"*:status", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		id := k[len(keyPrefix) : len(k)-len(":status")]
		ids = append(ids, id)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning trees: %w", err)
	}
	return ids, nil
}

func (t *Tree) Status(ctx context.Context, sessionID string) (laotypo.SessionStatus, error) {
	s, err := t.rdb.Get(ctx, key(sessionID, "status")).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading status %s: %w", sessionID, err)
	}
	return laotypo.SessionStatus(s), nil
}

var casStatus = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[2])
  return 1
end
return 0
`)

// CompareAndSetStatus moves status from one value to another. It reports
// false, without error, when the current status is not from.
func (t *Tree) CompareAndSetStatus(ctx context.Context, sessionID string, from, to laotypo.SessionStatus) (bool, error) {
	n, err := casStatus.Run(ctx, t.rdb, []string{key(sessionID, "status")}, string(from), string(to)).Int()
	if err != nil {
		return false, fmt.Errorf("setting status %s: %w", sessionID, err)
	}
	if n != 1 {
		return false, nil
	}
	t.publish(ctx, Change{Type: ChangeStatus, SessionID: sessionID, Status: to})
	return true, nil
}

func (t *Tree) NextWordIndex(ctx context.Context, sessionID string) (int, error) {
	n, err := t.rdb.Get(ctx, key(sessionID, "nextWordIndex")).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

// SetNextWordIndex records the furthest player's progress.
func (t *Tree) SetNextWordIndex(ctx context.Context, sessionID string, n int) error {
	if err := t.rdb.Set(ctx, key(sessionID, "nextWordIndex"), n, 0).Err(); err != nil {
		return fmt.Errorf("setting next word index: %w", err)
	}
	return nil
}

// AddPlayer writes a new player record. It reports false if the player was
// already present, leaving the existing record alone.
func (t *Tree) AddPlayer(ctx context.Context, sessionID string, p laotypo.Player) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}
	data, err := json.Marshal(p)
	if err != nil {
		return false, err
	}
	created, err := t.rdb.HSetNX(ctx, key(sessionID, "players"), p.ID, data).Result()
	if err != nil {
		return false, fmt.Errorf("adding player %s: %w", p.ID, err)
	}
	if created {
		t.publish(ctx, Change{Type: ChangePlayerJoined, SessionID: sessionID, PlayerID: p.ID, PlayerName: p.Name})
	}
	return created, nil
}

// RemovePlayer drops a player record. It reports false if there was none.
func (t *Tree) RemovePlayer(ctx context.Context, sessionID, playerID string) (bool, error) {
	n, err := t.rdb.HDel(ctx, key(sessionID, "players"), playerID).Result()
	if err != nil {
		return false, fmt.Errorf("removing player %s: %w", playerID, err)
	}
	if n == 0 {
		return false, nil
	}
	t.publish(ctx, Change{Type: ChangePlayerLeft, SessionID: sessionID, PlayerID: playerID})
	return true, nil
}

func decodePlayer(raw string) (laotypo.Player, error) {
	var p laotypo.Player
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return laotypo.Player{}, fmt.Errorf("decoding player: %w", err)
	}
	if err := p.Validate(); err != nil {
		return laotypo.Player{}, err
	}
	return p, nil
}

func (t *Tree) Player(ctx context.Context, sessionID, playerID string) (laotypo.Player, error) {
	raw, err := t.rdb.HGet(ctx, key(sessionID, "players"), playerID).Result()
	if errors.Is(err, redis.Nil) {
		return laotypo.Player{}, fmt.Errorf("player %s: %w", playerID, ErrNotFound)
	}
	if err != nil {
		return laotypo.Player{}, fmt.Errorf("reading player %s: %w", playerID, err)
	}
	return decodePlayer(raw)
}

func (t *Tree) Players(ctx context.Context, sessionID string) (map[string]laotypo.Player, error) {
	all, err := t.rdb.HGetAll(ctx, key(sessionID, "players")).Result()
	if err != nil {
		return nil, fmt.Errorf("reading players: %w", err)
	}
	players := make(map[string]laotypo.Player, len(all))
	for id, raw := range all {
		p, err := decodePlayer(raw)
		if err != nil {
			return nil, err
		}
		players[id] = p
	}
	return players, nil
}

// RecordAnswer applies fn to the player and appends e to the game event log
// in one transaction. When fn fails neither is written.
func (t *Tree) RecordAnswer(ctx context.Context, sessionID, playerID string, e laotypo.GameEvent, fn func(*laotypo.Player) error) (laotypo.Player, error) {
	if e.PlayerID != playerID {
		return laotypo.Player{}, fmt.Errorf("event player %q does not match %q", e.PlayerID, playerID)
	}
	if err := e.Validate(); err != nil {
		return laotypo.Player{}, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return laotypo.Player{}, err
	}
	return t.updatePlayer(ctx, sessionID, playerID, fn, data)
}

// updatePlayer applies fn to the stored player record with optimistic
// locking, retrying when another writer touched the players hash. A non-nil
// event is appended to the log in the same transaction.
func (t *Tree) updatePlayer(ctx context.Context, sessionID, playerID string, fn func(*laotypo.Player) error, event []byte) (laotypo.Player, error) {
	k := key(sessionID, "players")
	var updated laotypo.Player

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, k, playerID).Result()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("player %s: %w", playerID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		p, err := decodePlayer(raw)
		if err != nil {
			return err
		}
		if err := fn(&p); err != nil {
			return err
		}
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, playerID, data)
			if event != nil {
				pipe.RPush(ctx, key(sessionID, "gameEvents"), event)
			}
			return nil
		})
		updated = p
		return err
	}

	for range maxTxRetries {
		err := t.rdb.Watch(ctx, txf, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return laotypo.Player{}, err
		}
		t.publish(ctx, Change{Type: ChangePlayerUpdated, SessionID: sessionID, PlayerID: playerID, PlayerName: updated.Name})
		return updated, nil
	}
	return laotypo.Player{}, ErrContention
}

// Events returns the full event log in append order.
func (t *Tree) Events(ctx context.Context, sessionID string) ([]laotypo.GameEvent, error) {
	raws, err := t.rdb.LRange(ctx, key(sessionID, "gameEvents"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}
	events := make([]laotypo.GameEvent, 0, len(raws))
	for _, raw := range raws {
		var e laotypo.GameEvent
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decoding event: %w", err)
		}
		if err := e.Validate(); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

// raiseScore only ever increases a leaderboard score. A player with no
// entry gets one on their first non-zero score.
var raiseScore = redis.NewScript(`
local cur = redis.call('ZSCORE', KEYS[1], ARGV[1])
local score = tonumber(ARGV[2])
if (cur and tonumber(cur) < score) or ((not cur) and score > 0) then
  redis.call('ZADD', KEYS[1], score, ARGV[1])
  redis.call('HSET', KEYS[2], ARGV[1], ARGV[3])
  return score
end
if cur then
  return tonumber(cur)
end
return 0
`)

// RaiseScore sets the player's score to score if that is higher than the
// stored one and returns the resulting score.
func (t *Tree) RaiseScore(ctx context.Context, sessionID, playerID string, score int, at time.Time) (int, error) {
	got, err := raiseScore.Run(ctx, t.rdb,
		[]string{key(sessionID, "leaderboard"), key(sessionID, "scoredAt")},
		playerID, score, at.UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("raising score for %s: %w", playerID, err)
	}
	if got == score && score > 0 {
		t.publish(ctx, Change{Type: ChangeLeaderboard, SessionID: sessionID, PlayerID: playerID, Score: got})
	}
	return got, nil
}

func (t *Tree) Leaderboard(ctx context.Context, sessionID string) (map[string]laotypo.LeaderboardEntry, error) {
	zs, err := t.rdb.ZRangeWithScores(ctx, key(sessionID, "leaderboard"), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading leaderboard: %w", err)
	}
	scoredAt, err := t.rdb.HGetAll(ctx, key(sessionID, "scoredAt")).Result()
	if err != nil {
		return nil, fmt.Errorf("reading score times: %w", err)
	}

	board := make(map[string]laotypo.LeaderboardEntry, len(zs))
	for _, z := range zs {
		id, _ := z.Member.(string)
		entry := laotypo.LeaderboardEntry{PlayerID: id, Score: int(z.Score)}
		if ms, err := strconv.ParseInt(scoredAt[id], 10, 64); err == nil {
			at := time.UnixMilli(ms).UTC()
			entry.LastScoredAt = &at
		}
		board[id] = entry
	}
	return board, nil
}

// PostMessage appends a chat message, keeping the most recent ones.
func (t *Tree) PostMessage(ctx context.Context, sessionID string, m laotypo.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	k := key(sessionID, "messages")
	_, err = t.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, k, data)
		pipe.LTrim(ctx, k, -messageCapacity, -1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("posting message: %w", err)
	}
	t.publish(ctx, Change{Type: ChangeMessage, SessionID: sessionID, PlayerID: m.PlayerID, PlayerName: m.PlayerName, Message: &m})
	return nil
}

// Messages returns up to the last n messages, oldest first.
func (t *Tree) Messages(ctx context.Context, sessionID string, n int) ([]laotypo.Message, error) {
	raws, err := t.rdb.LRange(ctx, key(sessionID, "messages"), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("reading messages: %w", err)
	}
	msgs := make([]laotypo.Message, 0, len(raws))
	for _, raw := range raws {
		var m laotypo.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("decoding message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Read returns the whole subtree.
func (t *Tree) Read(ctx context.Context, sessionID string) (laotypo.Tree, error) {
	status, err := t.Status(ctx, sessionID)
	if err != nil {
		return laotypo.Tree{}, err
	}
	tree := laotypo.Tree{SessionID: sessionID, Status: status}
	if tree.NextWordIndex, err = t.NextWordIndex(ctx, sessionID); err != nil {
		return laotypo.Tree{}, err
	}
	if tree.Players, err = t.Players(ctx, sessionID); err != nil {
		return laotypo.Tree{}, err
	}
	if tree.Leaderboard, err = t.Leaderboard(ctx, sessionID); err != nil {
		return laotypo.Tree{}, err
	}
	if tree.Messages, err = t.Messages(ctx, sessionID, messageCapacity); err != nil {
		return laotypo.Tree{}, err
	}
	if tree.Events, err = t.Events(ctx, sessionID); err != nil {
		return laotypo.Tree{}, err
	}
	return tree, nil
}
