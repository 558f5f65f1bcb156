package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"contractkit/internal/config"
	"contractkit/internal/errors"
	"contractkit/internal/logging"
	"contractkit/internal/metrics"
	"contractkit/pkg/models"

	"github.com/sirupsen/logrus"
)

// 记录类型，同时用作Kafka topic映射的键
const (
	KindEvents   = "events"
	KindReceipts = "receipts"
)

// Sink 输出接口
type Sink interface {
	WriteEvent(event *models.DecodedEvent) error
	WriteReceipt(receipt *models.Receipt) error
	Close() error
}

// NewSink 按配置创建输出器
func NewSink(cfg *config.OutputConfig, logger *logrus.Logger, m *metrics.Metrics) (Sink, error) {
	logger = logging.OrDiscard(logger)
	if cfg == nil {
		cfg = config.GetDefaultConfig().Output
	}

	var (
		sink Sink
		name = cfg.Format
		err  error
	)
	switch cfg.Format {
	case "stdout", "":
		name = "stdout"
		sink = NewJSONLinesSink(os.Stdout)
	case "file":
		sink, err = NewFileSink(cfg.Directory)
	case "kafka":
		if cfg.Kafka == nil {
			return nil, outputError(fmt.Errorf("缺少kafka配置"), "创建Kafka输出器")
		}
		sink, err = NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topics, logger)
	default:
		return nil, outputError(fmt.Errorf("不支持的输出格式: %s", cfg.Format), "创建输出器")
	}
	if err != nil {
		return nil, err
	}

	if m != nil {
		sink = &meteredSink{Sink: sink, name: name, metrics: m}
	}
	return sink, nil
}

func outputError(err error, op string) *errors.ContractError {
	return errors.WrapError(err, errors.ErrorTypeOutput, errors.SeverityHigh, "OUTPUT_FAILED",
		fmt.Sprintf("%s失败", op)).WithComponent("output")
}

// JSONLinesSink 每条记录一行JSON
type JSONLinesSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewJSONLinesSink 写入任意io.Writer
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{w: w}
}

// WriteEvent 写入解码后的事件
func (s *JSONLinesSink) WriteEvent(event *models.DecodedEvent) error {
	if event == nil {
		return nil
	}
	return s.writeLine(KindEvents, event)
}

// WriteReceipt 写入交易回执
func (s *JSONLinesSink) WriteReceipt(receipt *models.Receipt) error {
	if receipt == nil {
		return nil
	}
	return s.writeLine(KindReceipts, receipt)
}

func (s *JSONLinesSink) writeLine(kind string, v interface{}) error {
	data, err := encode(kind, v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		return outputError(err, "写入"+kind)
	}
	return nil
}

// Close 标准输出无需关闭
func (s *JSONLinesSink) Close() error { return nil }

// envelope 单流输出时区分记录类型
type envelope struct {
	Kind string      `json:"kind"`
	Data interface{} `json:"data"`
}

func encode(kind string, v interface{}) ([]byte, error) {
	data, err := json.Marshal(envelope{Kind: kind, Data: v})
	if err != nil {
		return nil, outputError(err, "序列化"+kind)
	}
	return append(data, '\n'), nil
}

// FileSink 按记录类型写入独立文件
type FileSink struct {
	outputDir string
	mu        sync.Mutex
	files     map[string]*os.File
}

// NewFileSink 在目录下创建 events_<时间>.jsonl 与 receipts_<时间>.jsonl
func NewFileSink(outputDir string) (*FileSink, error) {
	// 确保输出目录存在
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, outputError(err, "创建输出目录")
	}

	timestamp := time.Now().Format("20060102_150405")
	s := &FileSink{outputDir: outputDir, files: make(map[string]*os.File)}
	for _, kind := range []string{KindEvents, KindReceipts} {
		name := filepath.Join(outputDir, fmt.Sprintf("%s_%s.jsonl", kind, timestamp))
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			s.Close()
			return nil, outputError(err, "创建"+kind+"文件")
		}
		s.files[kind] = f
	}
	return s, nil
}

// WriteEvent 写入解码后的事件
func (s *FileSink) WriteEvent(event *models.DecodedEvent) error {
	if event == nil {
		return nil
	}
	return s.write(KindEvents, event)
}

// WriteReceipt 写入交易回执
func (s *FileSink) WriteReceipt(receipt *models.Receipt) error {
	if receipt == nil {
		return nil
	}
	return s.write(KindReceipts, receipt)
}

func (s *FileSink) write(kind string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return outputError(err, "序列化"+kind)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.files[kind]
	if _, err := f.Write(data); err != nil {
		return outputError(err, "写入"+kind+"文件")
	}
	// 强制刷新到磁盘
	if err := f.Sync(); err != nil {
		return outputError(err, "刷新"+kind+"文件")
	}
	return nil
}

// Files 各类型对应的文件路径
func (s *FileSink) Files() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.files))
	for kind, f := range s.files {
		out[kind] = f.Name()
	}
	return out
}

// Close 关闭文件
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for kind, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭%s文件失败: %w", kind, err))
		}
	}
	s.files = map[string]*os.File{}
	if len(errs) > 0 {
		return outputError(fmt.Errorf("%v", errs), "关闭输出文件")
	}
	return nil
}

// meteredSink 记录每次写入结果
type meteredSink struct {
	Sink
	name    string
	metrics *metrics.Metrics
}

func (m *meteredSink) WriteEvent(event *models.DecodedEvent) error {
	err := m.Sink.WriteEvent(event)
	m.metrics.RecordSinkWrite(m.name, KindEvents, err)
	return err
}

func (m *meteredSink) WriteReceipt(receipt *models.Receipt) error {
	err := m.Sink.WriteReceipt(receipt)
	m.metrics.RecordSinkWrite(m.name, KindReceipts, err)
	return err
}
