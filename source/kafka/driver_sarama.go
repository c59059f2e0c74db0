package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/hashicorp/go-multierror"

	"microbatch/internal/logging"
)

func init() {
	Register("sarama", func() Client { return &SaramaGroupDriver{} })
	Register("sarama-assign", func() Client { return &SaramaAssignDriver{} })
}

func newSaramaConfig(cfg Config) (*sarama.Config, error) {
	ver, err := sarama.ParseKafkaVersion(cfg.Version)
	if err != nil {
		return nil, err
	}
	sc := sarama.NewConfig()
	sc.Version = ver
	sc.ClientID = "microbatch"
	sc.Consumer.Return.Errors = true
	// offsets are committed explicitly, never in the background
	sc.Consumer.Offsets.AutoCommit.Enable = false
	if cfg.TLSEn {
		sc.Net.TLS.Enable = true
	}
	if cfg.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = cfg.SASLUser, cfg.SASLPass
	}
	switch cfg.StartFrom {
	case "oldest":
		sc.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	return sc, nil
}

// saramaOffsets holds the position bookkeeping shared by both drivers.
// sarama has no seekable consumer handle, so positions are tracked here and
// refreshed from ListOffsets on SeekToEnd.
type saramaOffsets struct {
	cl  sarama.Client
	log *slog.Logger

	mu        sync.Mutex
	positions map[PartitionKey]int64
	paused    map[PartitionKey]struct{}
}

func (o *saramaOffsets) reset() {
	o.mu.Lock()
	o.positions = make(map[PartitionKey]int64)
	o.paused = make(map[PartitionKey]struct{})
	o.mu.Unlock()
}

func (o *saramaOffsets) position(tp PartitionKey) (int64, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	off, ok := o.positions[tp]
	return off, ok
}

func (o *saramaOffsets) setPosition(tp PartitionKey, off int64) {
	o.mu.Lock()
	o.positions[tp] = off
	o.mu.Unlock()
}

// resolve turns sarama's OffsetNewest/OffsetOldest markers into offsets.
func (o *saramaOffsets) resolve(tp PartitionKey, off int64) (int64, error) {
	if off >= 0 {
		return off, nil
	}
	return o.cl.GetOffset(tp.Topic, tp.Partition, off)
}

func (o *saramaOffsets) SeekToEnd(tps []PartitionKey) error {
	for _, tp := range tps {
		end, err := o.cl.GetOffset(tp.Topic, tp.Partition, sarama.OffsetNewest)
		if err != nil {
			return err
		}
		o.setPosition(tp, end)
	}
	return nil
}

func (o *saramaOffsets) Seek(tp PartitionKey, off int64) error {
	o.setPosition(tp, off)
	return nil
}

func (o *saramaOffsets) markPaused(tps []PartitionKey) {
	o.mu.Lock()
	for _, tp := range tps {
		o.paused[tp] = struct{}{}
	}
	o.mu.Unlock()
}

func (o *saramaOffsets) Paused() []PartitionKey {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]PartitionKey, 0, len(o.paused))
	for tp := range o.paused {
		out = append(out, tp)
	}
	SortKeys(out)
	return out
}

func (o *saramaOffsets) LeaderHost(tp PartitionKey) (string, error) {
	b, err := o.cl.Leader(tp.Topic, tp.Partition)
	if err != nil {
		return "", err
	}
	return b.Addr(), nil
}

// commitOffsets sends one OffsetCommit request to the group coordinator and
// folds the per-partition error codes into the returned error.
func commitOffsets(cl sarama.Client, group string, generation int32, member string, offsets Offsets) error {
	req := &sarama.OffsetCommitRequest{
		Version:                 1,
		ConsumerGroup:           group,
		ConsumerGroupGeneration: generation,
		ConsumerID:              member,
	}
	if cl.Config().Version.IsAtLeast(sarama.V0_9_0_0) {
		req.Version = 2
		req.RetentionTime = -1
	}
	for tp, off := range offsets {
		req.AddBlock(tp.Topic, tp.Partition, off, sarama.ReceiveTime, "")
	}

	coord, err := cl.Coordinator(group)
	if err != nil {
		return err
	}
	resp, err := coord.CommitOffset(req)
	if err != nil {
		_ = cl.RefreshCoordinator(group)
		return err
	}

	var result *multierror.Error
	for _, tp := range offsets.Keys() {
		kerr := resp.Errors[tp.Topic][tp.Partition]
		switch kerr {
		case sarama.ErrNoError:
		case sarama.ErrNotCoordinatorForConsumer, sarama.ErrConsumerCoordinatorNotAvailable:
			_ = cl.RefreshCoordinator(group)
			fallthrough
		default:
			result = multierror.Append(result, fmt.Errorf("%s/%d: %w", tp.Topic, tp.Partition, kerr))
		}
	}
	return result.ErrorOrNil()
}

func byTopic(tps []PartitionKey) map[string][]int32 {
	out := make(map[string][]int32)
	for _, tp := range tps {
		out[tp.Topic] = append(out[tp.Topic], tp.Partition)
	}
	return out
}

/* ───────────────────────── consumer group driver ───────────────────────── */

// SaramaGroupDriver takes its assignment from a sarama consumer group. The
// claims' fetchers are paused by the planner; anything they buffered before
// that is surfaced by Poll.
type SaramaGroupDriver struct {
	saramaOffsets
	cfg    Config
	group  sarama.ConsumerGroup
	cancel context.CancelFunc
	done   chan struct{}

	smu    sync.Mutex
	sess   sarama.ConsumerGroupSession
	claims map[PartitionKey]sarama.ConsumerGroupClaim
}

func (d *SaramaGroupDriver) Configure(cfg Config) error {
	if cfg.GroupID == "" {
		return errors.New("kafka: sarama driver needs group_id")
	}
	sc, err := newSaramaConfig(cfg)
	if err != nil {
		return err
	}
	d.cfg = cfg
	d.log = logging.For("sarama-group")
	d.claims = make(map[PartitionKey]sarama.ConsumerGroupClaim)
	d.reset()

	if d.cl, err = sarama.NewClient(cfg.Brokers, sc); err != nil {
		return err
	}
	if d.group, err = sarama.NewConsumerGroupFromClient(cfg.GroupID, d.cl); err != nil {
		_ = d.cl.Close()
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel, d.done = cancel, make(chan struct{})
	go d.run(ctx)
	go d.logErrors()
	return nil
}

func (d *SaramaGroupDriver) run(ctx context.Context) {
	defer close(d.done)
	handler := &groupHandler{driver: d}
	for {
		if err := d.group.Consume(ctx, d.cfg.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			d.log.Error("consumer group session ended", "err", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (d *SaramaGroupDriver) logErrors() {
	for err := range d.group.Errors() {
		d.log.Warn("consumer group error", "err", err)
	}
}

func (d *SaramaGroupDriver) Assignment() ([]PartitionKey, error) {
	d.smu.Lock()
	defer d.smu.Unlock()
	out := make([]PartitionKey, 0, len(d.claims))
	for tp := range d.claims {
		out = append(out, tp)
	}
	SortKeys(out)
	return out, nil
}

func (d *SaramaGroupDriver) Position(tp PartitionKey) (int64, error) {
	off, ok := d.position(tp)
	if !ok {
		d.smu.Lock()
		claim, claimed := d.claims[tp]
		d.smu.Unlock()
		if !claimed {
			return 0, ErrNoSession
		}
		off = claim.InitialOffset()
	}
	off, err := d.resolve(tp, off)
	if err != nil {
		return 0, err
	}
	d.setPosition(tp, off)
	return off, nil
}

func (d *SaramaGroupDriver) Pause(tps []PartitionKey) error {
	d.group.Pause(byTopic(tps))
	d.markPaused(tps)
	return nil
}

// Poll drains whatever the claims buffered, waiting at most timeout.
func (d *SaramaGroupDriver) Poll(timeout time.Duration) ([]Record, error) {
	d.smu.Lock()
	claims := make([]sarama.ConsumerGroupClaim, 0, len(d.claims))
	for _, c := range d.claims {
		claims = append(claims, c)
	}
	d.smu.Unlock()

	var recs []Record
	deadline := time.Now().Add(timeout)
	for _, c := range claims {
	drain:
		for time.Now().Before(deadline) {
			select {
			case msg, ok := <-c.Messages():
				if !ok {
					break drain
				}
				recs = append(recs, Record{
					Partition: PartitionKey{Topic: msg.Topic, Partition: msg.Partition},
					Offset:    msg.Offset,
				})
			default:
				break drain
			}
		}
	}
	return recs, nil
}

// CommitAsync marks the offsets on the live session and commits them to the
// group coordinator under the session's generation. The callback receives
// the broker's verdict.
func (d *SaramaGroupDriver) CommitAsync(offsets Offsets, cb CommitCallback) {
	d.smu.Lock()
	sess := d.sess
	d.smu.Unlock()
	if sess == nil {
		go cb(offsets, ErrNoSession)
		return
	}
	for tp, off := range offsets {
		sess.MarkOffset(tp.Topic, tp.Partition, off, "")
	}
	gen, member := sess.GenerationID(), sess.MemberID()
	go func() {
		cb(offsets, commitOffsets(d.cl, d.cfg.GroupID, gen, member, offsets))
	}()
}

func (d *SaramaGroupDriver) Close() error {
	var result *multierror.Error
	if d.group != nil {
		if err := d.group.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if d.cancel != nil {
		d.cancel()
		<-d.done
	}
	if d.cl != nil && !d.cl.Closed() {
		if err := d.cl.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

type groupHandler struct {
	driver *SaramaGroupDriver
}

func (h *groupHandler) Setup(sess sarama.ConsumerGroupSession) error {
	d := h.driver
	d.smu.Lock()
	d.sess = sess
	d.claims = make(map[PartitionKey]sarama.ConsumerGroupClaim)
	d.smu.Unlock()
	// a new generation starts with fresh, unpaused fetchers
	d.reset()
	d.log.Info("consumer group session started", "generation", sess.GenerationID(), "claims", sess.Claims())
	return nil
}

func (h *groupHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	d := h.driver
	d.smu.Lock()
	released := len(d.claims)
	d.sess = nil
	d.claims = make(map[PartitionKey]sarama.ConsumerGroupClaim)
	d.smu.Unlock()
	d.log.Info("consumer group session released", "generation", sess.GenerationID(), "partitions", released)
	return nil
}

// ConsumeClaim only registers the claim; records are never read here.
func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	d := h.driver
	tp := PartitionKey{Topic: claim.Topic(), Partition: claim.Partition()}
	d.smu.Lock()
	d.claims[tp] = claim
	d.smu.Unlock()
	<-sess.Context().Done()
	return nil
}

/* ───────────────────────── static assignment driver ───────────────────── */

// SaramaAssignDriver consumes every partition of the configured topics and
// commits through a sarama OffsetManager under group_id.
type SaramaAssignDriver struct {
	saramaOffsets
	cfg  Config
	om   sarama.OffsetManager
	poms map[PartitionKey]sarama.PartitionOffsetManager
}

func (d *SaramaAssignDriver) Configure(cfg Config) error {
	if cfg.GroupID == "" {
		return errors.New("kafka: sarama-assign driver needs group_id to commit offsets")
	}
	sc, err := newSaramaConfig(cfg)
	if err != nil {
		return err
	}
	d.cfg = cfg
	d.log = logging.For("sarama-assign")
	d.poms = make(map[PartitionKey]sarama.PartitionOffsetManager)
	d.reset()

	if d.cl, err = sarama.NewClient(cfg.Brokers, sc); err != nil {
		return err
	}
	if d.om, err = sarama.NewOffsetManagerFromClient(cfg.GroupID, d.cl); err != nil {
		_ = d.cl.Close()
		return err
	}
	return nil
}

func (d *SaramaAssignDriver) Assignment() ([]PartitionKey, error) {
	if err := d.cl.RefreshMetadata(d.cfg.Topics...); err != nil {
		return nil, err
	}
	var out []PartitionKey
	for _, topic := range d.cfg.Topics {
		parts, err := d.cl.Partitions(topic)
		if err != nil {
			return nil, err
		}
		for _, p := range parts {
			out = append(out, PartitionKey{Topic: topic, Partition: p})
		}
	}
	SortKeys(out)
	return out, nil
}

func (d *SaramaAssignDriver) pom(tp PartitionKey) (sarama.PartitionOffsetManager, error) {
	if pom, ok := d.poms[tp]; ok {
		return pom, nil
	}
	pom, err := d.om.ManagePartition(tp.Topic, tp.Partition)
	if err != nil {
		return nil, err
	}
	d.poms[tp] = pom
	go func() {
		for err := range pom.Errors() {
			d.log.Warn("offset manager error", "topic", tp.Topic, "partition", tp.Partition, "err", err)
		}
	}()
	return pom, nil
}

// Position falls back to the committed offset, then to start_from.
func (d *SaramaAssignDriver) Position(tp PartitionKey) (int64, error) {
	if off, ok := d.position(tp); ok {
		return off, nil
	}
	pom, err := d.pom(tp)
	if err != nil {
		return 0, err
	}
	next, _ := pom.NextOffset()
	off, err := d.resolve(tp, next)
	if err != nil {
		return 0, err
	}
	d.setPosition(tp, off)
	return off, nil
}

// Pause only records state: this driver never opens fetch sessions.
func (d *SaramaAssignDriver) Pause(tps []PartitionKey) error {
	d.markPaused(tps)
	return nil
}

func (d *SaramaAssignDriver) Poll(time.Duration) ([]Record, error) { return nil, nil }

func (d *SaramaAssignDriver) CommitAsync(offsets Offsets, cb CommitCallback) {
	for tp, off := range offsets {
		pom, err := d.pom(tp)
		if err != nil {
			go cb(offsets, err)
			return
		}
		pom.MarkOffset(off, "")
	}
	go func() {
		cb(offsets, commitOffsets(d.cl, d.cfg.GroupID, sarama.GroupGenerationUndefined, "", offsets))
	}()
}

// Close releases the partition offset managers through the offset manager.
// pom.Close would wait for a flush that never comes with auto-commit off.
func (d *SaramaAssignDriver) Close() error {
	var result *multierror.Error
	for _, pom := range d.poms {
		pom.AsyncClose()
	}
	if d.om != nil {
		if err := d.om.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if d.cl != nil && !d.cl.Closed() {
		if err := d.cl.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
