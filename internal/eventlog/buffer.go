package eventlog

import (
	"log/slog"
	"sync"
	"time"
)

// Level 表示日志条目的级别。
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Entry 是一条面向运营端的活动记录。
type Entry struct {
	Timestamp int64          `json:"ts"`
	Level     Level          `json:"level"`
	Text      string         `json:"text"`
	Data      map[string]any `json:"data,omitempty"`
}

// DefaultCapacity 是缓冲区未显式配置容量时的默认值。
const DefaultCapacity = 1000

// Buffer 是固定容量的追加式环形缓冲区，保存智能体的活动轨迹。
// 写满后淘汰最旧的条目，新条目永远不会被丢弃。
// 单写多读：处理流水线串行追加，运营端查询可并发进行。
type Buffer struct {
	mu       sync.RWMutex
	entries  []Entry
	start    int
	size     int
	capacity int
	mirror   *slog.Logger
	now      func() time.Time
}

// Option 定义可选配置。
type Option func(*Buffer)

// WithMirror 将每条记录同步输出到结构化日志。
func WithMirror(logger *slog.Logger) Option {
	return func(b *Buffer) {
		b.mirror = logger
	}
}

// WithClock 覆盖时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(b *Buffer) {
		if now != nil {
			b.now = now
		}
	}
}

// New 创建一个容量固定的缓冲区。
func New(capacity int, opts ...Option) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	b := &Buffer{
		entries:  make([]Entry, capacity),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Append 追加一条记录，写满时覆盖最旧的条目。
func (b *Buffer) Append(level Level, text string, data map[string]any) Entry {
	entry := Entry{
		Timestamp: b.now().UnixMilli(),
		Level:     level,
		Text:      text,
		Data:      cloneData(data),
	}

	b.mu.Lock()
	idx := (b.start + b.size) % b.capacity
	b.entries[idx] = entry
	if b.size < b.capacity {
		b.size++
	} else {
		b.start = (b.start + 1) % b.capacity
	}
	b.mu.Unlock()

	b.mirrorEntry(entry)
	return entry
}

// Info 追加一条 info 级别记录。
func (b *Buffer) Info(text string, data map[string]any) Entry {
	return b.Append(LevelInfo, text, data)
}

// Warn 追加一条 warn 级别记录。
func (b *Buffer) Warn(text string, data map[string]any) Entry {
	return b.Append(LevelWarn, text, data)
}

// Error 追加一条 error 级别记录。
func (b *Buffer) Error(text string, data map[string]any) Entry {
	return b.Append(LevelError, text, data)
}

// Query 按插入顺序返回记录。since 过滤时间戳严格更大的条目（毫秒），
// limit 限制返回数量（保留最近的 limit 条）。
func (b *Buffer) Query(since int64, limit int) []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	results := make([]Entry, 0, b.size)
	for i := 0; i < b.size; i++ {
		entry := b.entries[(b.start+i)%b.capacity]
		if since > 0 && entry.Timestamp <= since {
			continue
		}
		results = append(results, entry)
	}
	if limit > 0 && len(results) > limit {
		results = results[len(results)-limit:]
	}
	return results
}

// Len 返回当前条目数量。
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Capacity 返回缓冲区容量。
func (b *Buffer) Capacity() int {
	return b.capacity
}

func (b *Buffer) mirrorEntry(entry Entry) {
	if b.mirror == nil {
		return
	}
	args := make([]any, 0, len(entry.Data)*2)
	for key, value := range entry.Data {
		args = append(args, slog.Any(key, value))
	}
	switch entry.Level {
	case LevelError:
		b.mirror.Error(entry.Text, args...)
	case LevelWarn:
		b.mirror.Warn(entry.Text, args...)
	default:
		b.mirror.Info(entry.Text, args...)
	}
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	cloned := make(map[string]any, len(data))
	for key, value := range data {
		cloned[key] = value
	}
	return cloned
}
