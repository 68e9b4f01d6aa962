package kafka

import (
	"context"

	"github.com/Shopify/sarama"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

const headerMsgID = "msg_id"

// Sink 同步生产者；key 决定分区，同一会话的消息保持顺序。
type Sink struct {
	client   sarama.Client
	producer sarama.SyncProducer
	topic    string
}

// NewSink 建立 client，按需建 topic，再创建同步生产者。
func NewSink(c Config) (*Sink, error) {
	if len(c.Brokers) == 0 {
		return nil, errors.New("kafka brokers missing")
	}
	base := BuildBaseConfig(c)
	client, err := sarama.NewClient(c.Brokers, base)
	if err != nil {
		return nil, errors.Wrap(err, "create kafka client")
	}
	if c.AutoCreateTopic {
		admin, err := sarama.NewClusterAdminFromClient(client)
		if err != nil {
			_ = client.Close()
			return nil, errors.Wrap(err, "create kafka admin")
		}
		// admin 与 client 共用连接，这里不能 Close admin
		if err := EnsureTopics(admin, []string{c.Topic}, c); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	p, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "create kafka producer")
	}
	return &Sink{client: client, producer: p, topic: c.Topic}, nil
}

// NewSinkWithProducer 直接使用已有生产者（测试用 mocks.SyncProducer）。
func NewSinkWithProducer(p sarama.SyncProducer, topic string) *Sink {
	return &Sink{producer: p, topic: topic}
}

// Publish 等待 broker 确认或 ctx 结束。ctx 先结束时 SendMessage 仍在后台跑完，
// 最长受 Producer.Timeout 和重试次数约束，结果只记日志。
func (s *Sink) Publish(ctx context.Context, key, id string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrapf(err, "send to %s", s.topic)
	}
	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte(headerMsgID), Value: []byte(id)},
		},
	}

	type result struct {
		partition int32
		offset    int64
		err       error
	}
	done := make(chan result, 1)
	go func() {
		partition, offset, err := s.producer.SendMessage(msg)
		done <- result{partition, offset, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return errors.Wrapf(r.err, "send to %s", s.topic)
		}
		glog.V(2).Infof("[Kafka] sent msg=%s topic=%s partition=%d offset=%d", id, s.topic, r.partition, r.offset)
		return nil
	case <-ctx.Done():
		go func() {
			r := <-done
			glog.Warningf("[Kafka] late result msg=%s topic=%s err=%v", id, s.topic, r.err)
		}()
		return errors.Wrapf(ctx.Err(), "send to %s", s.topic)
	}
}

func (s *Sink) Close() error {
	err := s.producer.Close()
	if s.client != nil {
		if cerr := s.client.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
