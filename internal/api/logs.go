package api

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// LogEntry 日志条目
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Contract  string                 `json:"contract,omitempty"`
	TxHash    string                 `json:"tx_hash,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// LogQuery 日志查询条件，空字段不过滤
type LogQuery struct {
	Level    string
	Contract string
	TxHash   string
	Page     int
	PageSize int
}

func (q LogQuery) matches(e LogEntry) bool {
	return (q.Level == "" || e.Level == q.Level) &&
		(q.Contract == "" || e.Contract == q.Contract) &&
		(q.TxHash == "" || e.TxHash == q.TxHash)
}

// LogManager 最近日志的环形缓存
type LogManager struct {
	mu      sync.RWMutex
	logs    []LogEntry
	next    int
	full    bool
	maxLogs int
}

// NewLogManager 创建日志管理器
func NewLogManager(maxLogs int) *LogManager {
	if maxLogs <= 0 {
		maxLogs = 1000
	}
	return &LogManager{
		logs:    make([]LogEntry, maxLogs),
		maxLogs: maxLogs,
	}
}

// AddLog 添加日志，超过容量时覆盖最旧的一条
func (lm *LogManager) AddLog(entry *logrus.Entry) {
	fields := make(map[string]interface{}, len(entry.Data))
	var contract, txHash string
	for k, v := range entry.Data {
		switch k {
		case "address":
			contract, _ = v.(string)
		case "tx_hash":
			txHash, _ = v.(string)
		default:
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			fields[k] = v
		}
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.logs[lm.next] = LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Contract:  contract,
		TxHash:    txHash,
		Fields:    fields,
	}
	lm.next = (lm.next + 1) % lm.maxLogs
	if lm.next == 0 {
		lm.full = true
	}
}

// ordered 按时间顺序返回，调用方持有读锁
func (lm *LogManager) ordered() []LogEntry {
	if !lm.full {
		return append([]LogEntry(nil), lm.logs[:lm.next]...)
	}
	out := make([]LogEntry, 0, lm.maxLogs)
	out = append(out, lm.logs[lm.next:]...)
	return append(out, lm.logs[:lm.next]...)
}

// Len 当前缓存的日志数
func (lm *LogManager) Len() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	if lm.full {
		return lm.maxLogs
	}
	return lm.next
}

// Query 过滤并分页，返回当页日志与过滤后的总数
func (lm *LogManager) Query(q LogQuery) ([]LogEntry, int) {
	lm.mu.RLock()
	all := lm.ordered()
	lm.mu.RUnlock()

	filtered := all[:0]
	for _, e := range all {
		if q.matches(e) {
			filtered = append(filtered, e)
		}
	}
	total := len(filtered)

	if q.Page <= 0 {
		q.Page = 1
	}
	if q.PageSize <= 0 {
		q.PageSize = 20
	}
	start := (q.Page - 1) * q.PageSize
	if start >= total {
		return []LogEntry{}, total
	}
	end := start + q.PageSize
	if end > total {
		end = total
	}
	return filtered[start:end], total
}

// ClearLogs 清空日志
func (lm *LogManager) ClearLogs() {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lm.logs = make([]LogEntry, lm.maxLogs)
	lm.next = 0
	lm.full = false
}

// LogHook 把日志写入LogManager的logrus钩子
type LogHook struct {
	manager *LogManager
	levels  []logrus.Level
}

// NewLogHook 创建日志钩子，只收集不低于minLevel的日志
func NewLogHook(manager *LogManager, minLevel logrus.Level) *LogHook {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= minLevel {
			levels = append(levels, l)
		}
	}
	return &LogHook{manager: manager, levels: levels}
}

// Fire 实现 logrus.Hook 接口
func (h *LogHook) Fire(entry *logrus.Entry) error {
	h.manager.AddLog(entry)
	return nil
}

// Levels 实现 logrus.Hook 接口
func (h *LogHook) Levels() []logrus.Level {
	return h.levels
}
