// Package zookeeper 提供基于临时顺序节点的分布式锁，多实例部署时用于串行化同一会话的修改。
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-zookeeper/zk"

	"bargain/internal/pkg/logger"
)

const nodePrefix = "lock-"

// ErrLockTimeout 在等待时间内没有轮到自己
var ErrLockTimeout = errors.New("zookeeper: timeout waiting for lock")

// Conn 是 *zk.Conn 中锁用到的方法
type Conn interface {
	Create(path string, data []byte, flags int32, acl []zk.ACL) (string, error)
	Exists(path string) (bool, *zk.Stat, error)
	ExistsW(path string) (bool, *zk.Stat, <-chan zk.Event, error)
	Children(path string) ([]string, *zk.Stat, error)
	Delete(path string, version int32) error
}

// Connect 连接集群并等待会话建立
func Connect(servers []string, sessionTimeout time.Duration) (*zk.Conn, error) {
	conn, events, err := zk.Connect(servers, sessionTimeout)
	if err != nil {
		return nil, fmt.Errorf("zookeeper: connect %v: %w", servers, err)
	}
	deadline := time.After(sessionTimeout)
	for {
		select {
		case ev := <-events:
			if ev.State == zk.StateHasSession {
				go drain(events)
				return conn, nil
			}
		case <-deadline:
			conn.Close()
			return nil, fmt.Errorf("zookeeper: no session with %v after %s", servers, sessionTimeout)
		}
	}
}

func drain(events <-chan zk.Event) {
	for ev := range events {
		if ev.State == zk.StateExpired || ev.State == zk.StateDisconnected {
			logger.Ctx(context.Background()).Warn().Str("state", ev.State.String()).Msg("zookeeper session state changed")
		}
	}
}

// Locker 实现 port.Locker。每个 key 对应 root/key 目录，排队节点为目录下的临时顺序节点。
type Locker struct {
	conn Conn
	root string
	wait time.Duration
}

// NewLocker wait 是单次加锁的最长等待时间
func NewLocker(conn Conn, root string, wait time.Duration) (*Locker, error) {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	l := &Locker{conn: conn, root: strings.TrimRight(root, "/"), wait: wait}
	if err := l.ensurePath(l.root); err != nil {
		return nil, err
	}
	return l, nil
}

// ensurePath 逐级创建持久节点
func (l *Locker) ensurePath(p string) error {
	cur := ""
	for _, part := range strings.Split(strings.Trim(p, "/"), "/") {
		cur += "/" + part
		_, err := l.conn.Create(cur, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("zookeeper: create %s: %w", cur, err)
		}
	}
	return nil
}

// Lock 阻塞直到成为最小序号的节点
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	dir := l.root + "/" + key
	node, err := l.enqueue(dir)
	if err != nil {
		return nil, err
	}
	mine := path.Base(node)

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	for {
		children, _, err := l.conn.Children(dir)
		if err != nil {
			l.remove(node)
			return nil, fmt.Errorf("zookeeper: list %s: %w", dir, err)
		}
		queue := sortBySequence(children)

		idx := -1
		for i, c := range queue {
			if c == mine {
				idx = i
				break
			}
		}
		switch {
		case idx < 0:
			return nil, fmt.Errorf("zookeeper: node %s disappeared, session probably expired", node)
		case idx == 0:
			return func() { l.release(dir, node) }, nil
		}

		// 只监听前一个节点，避免惊群
		exists, _, watch, err := l.conn.ExistsW(dir + "/" + queue[idx-1])
		if err != nil {
			l.remove(node)
			return nil, fmt.Errorf("zookeeper: watch previous node: %w", err)
		}
		if !exists {
			continue
		}

		select {
		case <-watch:
		case <-ctx.Done():
			l.remove(node)
			return nil, ctx.Err()
		case <-timer.C:
			l.remove(node)
			return nil, ErrLockTimeout
		}
	}
}

// enqueue 目录可能刚被上一个持有者删掉，这种情况重建后重试
func (l *Locker) enqueue(dir string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if err := l.ensurePath(dir); err != nil {
			return "", err
		}
		node, err := l.conn.Create(dir+"/"+nodePrefix, nil, zk.FlagEphemeral|zk.FlagSequence, zk.WorldACL(zk.PermAll))
		if err == nil {
			return node, nil
		}
		if !errors.Is(err, zk.ErrNoNode) {
			return "", fmt.Errorf("zookeeper: create sequential node: %w", err)
		}
		lastErr = err
	}
	return "", fmt.Errorf("zookeeper: create sequential node: %w", lastErr)
}

func (l *Locker) release(dir, node string) {
	l.remove(node)
	// 还有等待者时返回 ErrNotEmpty，忽略即可
	if err := l.conn.Delete(dir, -1); err != nil && !errors.Is(err, zk.ErrNotEmpty) && !errors.Is(err, zk.ErrNoNode) {
		logger.Ctx(context.Background()).Warn().Err(err).Str("dir", dir).Msg("zookeeper: remove lock dir")
	}
}

func (l *Locker) remove(node string) {
	if err := l.conn.Delete(node, -1); err != nil && !errors.Is(err, zk.ErrNoNode) {
		logger.Ctx(context.Background()).Error().Err(err).Str("node", node).Msg("zookeeper: release lock node")
	}
}

// sortBySequence 按 10 位序号后缀排序，忽略不认识的子节点
func sortBySequence(children []string) []string {
	type seqNode struct {
		name string
		seq  int64
	}
	nodes := make([]seqNode, 0, len(children))
	for _, c := range children {
		if !strings.HasPrefix(c, nodePrefix) {
			continue
		}
		seq, err := strconv.ParseInt(strings.TrimPrefix(c, nodePrefix), 10, 64)
		if err != nil {
			continue
		}
		nodes = append(nodes, seqNode{name: c, seq: seq})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].seq < nodes[j].seq })

	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = n.name
	}
	return out
}
