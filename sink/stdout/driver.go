package stdout

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"microbatch/sink"
	"microbatch/source/kafka"
)

type Config struct {
	PrintEmpty bool      `yaml:"print_empty"` // also print batches without records
	Output     io.Writer `yaml:"-"`           // default os.Stdout
}

type driver struct {
	cfg Config

	mu  sync.Mutex // serializes writes and seq
	seq uint64
}

func (d *driver) Configure(raw any) error {
	c, ok := raw.(Config)
	if !ok {
		return fmt.Errorf("stdout-sink: expected Config, got %T", raw)
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
	d.cfg = c
	return nil
}

func (d *driver) Push(b kafka.BatchDescriptor) error {
	n := b.RecordCount()
	if n == 0 && !d.cfg.PrintEmpty {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	_, err := fmt.Fprintf(d.cfg.Output,
		"-------------------------------------------\n[batch %06d] %s records=%d\n%s\n",
		d.seq, b.Time.Format(time.RFC3339Nano), n, b.Description())
	return err
}

func (d *driver) Close() error { return nil }

func init() {
	sink.Register("stdout", func() sink.Adapter { return &driver{} })
}
