package kafka

import (
	"strings"
	"time"

	"github.com/Shopify/sarama"
)

type Config struct {
	Brokers             []string
	Topic               string
	PartitionsPerTopic  int32 // 单机=1；生产按吞吐设置
	ReplicationFactor   int16 // 单机=1；生产=3
	ProducerRetries     int
	ProducerCompression string // none/snappy/lz4/zstd
	KafkaVersion        sarama.KafkaVersion
	AutoCreateTopic     bool
	// ProduceTimeout 单条消息等待 broker 确认的上限，0 用 sarama 默认值
	ProduceTimeout time.Duration
}

func DefaultConfig(brokers []string, topic string) Config {
	return Config{
		Brokers:             brokers,
		Topic:               topic,
		PartitionsPerTopic:  8,
		ReplicationFactor:   1,
		ProducerRetries:     5,
		ProducerCompression: "snappy",
		KafkaVersion:        sarama.V2_1_0_0,
		AutoCreateTopic:     true,
	}
}

func BuildBaseConfig(c Config) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Version = c.KafkaVersion
	cfg.ClientID = "pprelay"

	// Producer
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	retries := c.ProducerRetries
	if retries <= 0 {
		retries = 1
	}
	cfg.Producer.Retry.Max = retries
	cfg.Producer.Partitioner = sarama.NewHashPartitioner // 同一会话同一分区，保证顺序
	switch strings.ToLower(c.ProducerCompression) {
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	// Net
	cfg.Net.DialTimeout = 10 * time.Second
	cfg.Net.ReadTimeout = 30 * time.Second
	cfg.Net.WriteTimeout = 30 * time.Second

	if c.ProduceTimeout > 0 {
		cfg.Producer.Timeout = c.ProduceTimeout
		if c.ProduceTimeout < cfg.Net.ReadTimeout {
			cfg.Net.ReadTimeout = c.ProduceTimeout
			cfg.Net.WriteTimeout = c.ProduceTimeout
		}
	}
	return cfg
}
