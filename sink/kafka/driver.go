// Package kafka publishes batch metadata to a Kafka topic.
package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/IBM/sarama"

	"microbatch/sink"
	src "microbatch/source/kafka"
)

type Config struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Acks    int16    `yaml:"required_acks"` // 0,1,-1
}

type rangeMeta struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	From      int64  `json:"from"`
	Until     int64  `json:"until"`
}

type batchMeta struct {
	BatchTime time.Time   `json:"batch_time"`
	Records   int64       `json:"records"`
	Ranges    []rangeMeta `json:"ranges"`
}

type driver struct {
	cfg Config
	p   sarama.SyncProducer
}

// New wraps an existing producer; Configure is not needed afterwards.
func New(p sarama.SyncProducer, topic string) sink.Adapter {
	return &driver{cfg: Config{Topic: topic}, p: p}
}

func (d *driver) Configure(c any) error {
	cfg, ok := c.(Config)
	if !ok {
		return fmt.Errorf("kafka-sink: want Config, got %T", c)
	}
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return errors.New("kafka-sink: brokers and topic are required")
	}
	d.cfg = cfg

	sc := sarama.NewConfig()
	sc.Producer.RequiredAcks = sarama.RequiredAcks(cfg.Acks)
	sc.Producer.Return.Successes = true
	var err error
	d.p, err = sarama.NewSyncProducer(cfg.Brokers, sc)
	return err
}

func encode(b src.BatchDescriptor) ([]byte, error) {
	m := batchMeta{BatchTime: b.Time.UTC(), Records: b.RecordCount(), Ranges: make([]rangeMeta, 0, len(b.Ranges))}
	for _, r := range b.Ranges {
		m.Ranges = append(m.Ranges, rangeMeta{
			Topic:     r.Partition.Topic,
			Partition: r.Partition.Partition,
			From:      r.From,
			Until:     r.Until,
		})
	}
	return json.Marshal(m)
}

func (d *driver) Push(b src.BatchDescriptor) error {
	val, err := encode(b)
	if err != nil {
		return err
	}
	_, _, err = d.p.SendMessage(&sarama.ProducerMessage{
		Topic: d.cfg.Topic,
		Key:   sarama.StringEncoder(strconv.FormatInt(b.Time.UnixNano(), 10)),
		Value: sarama.ByteEncoder(val),
	})
	if err != nil {
		return fmt.Errorf("kafka-sink: publish batch: %w", err)
	}
	return nil
}

func (d *driver) Close() error {
	if d.p == nil {
		return nil
	}
	p := d.p
	d.p = nil
	return p.Close()
}

func init() { sink.Register("kafka", func() sink.Adapter { return &driver{} }) }
