package pipeline

import (
	"fmt"

	"microbatch/internal/spec"
	"microbatch/sink"
	ksink "microbatch/sink/kafka"
	"microbatch/sink/stdout"
)

// Compile builds a Runner with the sinks named in f, in order.
func Compile(f spec.File) (*Runner, error) {
	r := NewRunner()
	for _, name := range f.Sinks {
		drv, err := sink.NewAdapter(name)
		if err != nil {
			_ = r.Close()
			return nil, err
		}

		switch name {
		case "stdout":
			err = drv.Configure(stdout.Config{PrintEmpty: f.SinkConfigs.Stdout.PrintEmpty})
		case "kafka":
			kc := f.SinkConfigs.Kafka
			err = drv.Configure(ksink.Config{Brokers: kc.Brokers, Topic: kc.Topic, Acks: kc.Acks})
		default:
			err = fmt.Errorf("no config block for sink %q", name)
		}
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("sink %s: %w", name, err)
		}
		r.AddSink(drv)
	}
	return r, nil
}
