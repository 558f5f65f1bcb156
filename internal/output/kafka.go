package output

import (
	"encoding/json"
	"fmt"
	"time"

	"contractkit/internal/errors"
	"contractkit/internal/logging"
	"contractkit/pkg/models"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"
)

// 默认topic
var defaultTopics = map[string]string{
	KindEvents:   "contract_events",
	KindReceipts: "transaction_receipts",
}

// KafkaSink Kafka输出器
type KafkaSink struct {
	logger   *logrus.Logger
	topics   map[string]string // 记录类型到topic的映射
	producer sarama.SyncProducer
}

// NewKafkaSink 创建Kafka输出器
func NewKafkaSink(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaSink, error) {
	logger = logging.OrDiscard(logger)
	logger.Infof("初始化Kafka输出器，brokers: %v", brokers)

	// 配置Kafka生产者
	producer, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeOutput, errors.SeverityHigh, "KAFKA_CONNECT_FAILED",
			"创建Kafka生产者失败").WithComponent("output")
	}

	logger.Info("Kafka生产者已创建")
	return NewKafkaSinkWithProducer(producer, topics, logger), nil
}

// ProducerConfig 同步生产者配置
func ProducerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true
	cfg.Producer.Timeout = 5 * time.Second
	cfg.Version = sarama.V2_8_0_0
	return cfg
}

// NewKafkaSinkWithProducer 使用已有生产者，未配置的topic使用默认值
func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topics map[string]string, logger *logrus.Logger) *KafkaSink {
	merged := make(map[string]string, len(defaultTopics))
	for k, v := range defaultTopics {
		merged[k] = v
	}
	for k, v := range topics {
		merged[k] = v
	}
	return &KafkaSink{
		logger:   logging.OrDiscard(logger),
		topics:   merged,
		producer: producer,
	}
}

// sendToKafka 发送数据到Kafka，key保证同一键的消息落在同一分区
func (k *KafkaSink) sendToKafka(kind, key string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return outputError(err, "序列化"+kind)
	}

	topic := k.topics[kind]
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(jsonData),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeOutput, errors.SeverityHigh, "KAFKA_PRODUCE_FAILED",
			fmt.Sprintf("发送消息到Kafka topic '%s' 失败", topic)).WithComponent("output")
	}

	k.logger.Debugf("已发送到Kafka topic '%s' (partition: %d, offset: %d)", topic, partition, offset)
	return nil
}

// WriteEvent 以合约地址为key发送事件
func (k *KafkaSink) WriteEvent(event *models.DecodedEvent) error {
	if event == nil {
		return nil
	}
	return k.sendToKafka(KindEvents, event.Address.Hex(), event)
}

// WriteReceipt 以交易哈希为key发送回执
func (k *KafkaSink) WriteReceipt(receipt *models.Receipt) error {
	if receipt == nil {
		return nil
	}
	return k.sendToKafka(KindReceipts, receipt.TransactionHash.Hex(), receipt)
}

// Close 关闭Kafka连接
func (k *KafkaSink) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
