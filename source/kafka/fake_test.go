package kafka

import (
	"errors"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

var errBroker = errors.New("broker unreachable")

type seekCall struct {
	tp  PartitionKey
	off int64
}

// fakeClient is an in-memory log: positions move with Seek/SeekToEnd,
// ends are set by the test. Commit callbacks run synchronously.
// overlapped is set if two Client calls were ever in flight at once.
type fakeClient struct {
	mu sync.Mutex

	inCall     atomic.Int32
	overlapped atomic.Bool

	assigned  []PartitionKey
	positions Offsets
	ends      Offsets
	leaders   map[PartitionKey]string
	paused    map[PartitionKey]struct{}
	buffered  []Record

	assignmentErr error
	positionErr   error
	seekToEndErr  error
	commitErr     error

	pauseCalls [][]PartitionKey
	seeks      []seekCall
	commits    []Offsets
	closed     bool
}

func newFakeClient(assigned ...PartitionKey) *fakeClient {
	return &fakeClient{
		assigned:  assigned,
		positions: Offsets{},
		ends:      Offsets{},
		leaders:   map[PartitionKey]string{},
		paused:    map[PartitionKey]struct{}{},
	}
}

func (f *fakeClient) enter() func() {
	if f.inCall.Add(1) > 1 {
		f.overlapped.Store(true)
	}
	runtime.Gosched()
	return func() { f.inCall.Add(-1) }
}

func (f *fakeClient) Configure(Config) error { return nil }

func (f *fakeClient) Assignment() ([]PartitionKey, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.assignmentErr != nil {
		return nil, f.assignmentErr
	}
	return append([]PartitionKey(nil), f.assigned...), nil
}

func (f *fakeClient) Position(tp PartitionKey) (int64, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.positionErr != nil {
		return 0, f.positionErr
	}
	return f.positions[tp], nil
}

func (f *fakeClient) SeekToEnd(tps []PartitionKey) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seekToEndErr != nil {
		return f.seekToEndErr
	}
	for _, tp := range tps {
		f.positions[tp] = f.ends[tp]
	}
	return nil
}

func (f *fakeClient) Seek(tp PartitionKey, off int64) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions[tp] = off
	f.seeks = append(f.seeks, seekCall{tp, off})
	return nil
}

func (f *fakeClient) Pause(tps []PartitionKey) error {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls = append(f.pauseCalls, append([]PartitionKey(nil), tps...))
	for _, tp := range tps {
		f.paused[tp] = struct{}{}
	}
	return nil
}

func (f *fakeClient) Paused() []PartitionKey {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]PartitionKey, 0, len(f.paused))
	for tp := range f.paused {
		out = append(out, tp)
	}
	SortKeys(out)
	return out
}

func (f *fakeClient) Poll(time.Duration) ([]Record, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	recs := f.buffered
	f.buffered = nil
	return recs, nil
}

func (f *fakeClient) CommitAsync(offsets Offsets, cb CommitCallback) {
	defer f.enter()()
	f.mu.Lock()
	f.commits = append(f.commits, offsets.Clone())
	err := f.commitErr
	f.mu.Unlock()
	cb(offsets, err)
}

func (f *fakeClient) LeaderHost(tp PartitionKey) (string, error) {
	defer f.enter()()
	f.mu.Lock()
	defer f.mu.Unlock()
	h, ok := f.leaders[tp]
	if !ok {
		return "", errBroker
	}
	return h, nil
}

func (f *fakeClient) Close() error {
	defer f.enter()()
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) set(fn func(f *fakeClient)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeClient) commitCalls() []Offsets {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Offsets(nil), f.commits...)
}

type fixedRate float64

func (r fixedRate) LatestRate() float64 { return float64(r) }

// recordingObserver captures observer events.
type recordingObserver struct {
	mu        sync.Mutex
	added     []PartitionKey
	removed   []PartitionKey
	lags      Offsets
	committed []Offsets
	errs      []error
}

func (o *recordingObserver) Rebalanced(added, removed []PartitionKey) {
	o.mu.Lock()
	o.added = append(o.added, added...)
	o.removed = append(o.removed, removed...)
	o.mu.Unlock()
}

func (o *recordingObserver) Lag(tp PartitionKey, lag int64) {
	o.mu.Lock()
	if o.lags == nil {
		o.lags = Offsets{}
	}
	o.lags[tp] = lag
	o.mu.Unlock()
}

func (o *recordingObserver) Committed(off Offsets, err error) {
	o.mu.Lock()
	o.committed = append(o.committed, off)
	o.errs = append(o.errs, err)
	o.mu.Unlock()
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig() Config {
	return Config{
		CommitMode:       CommitAuto,
		LocationStrategy: PreferConsistent,
		Rate:             RateCfg{MinRatePerPartition: 1},
	}
}

var (
	tpA0 = PartitionKey{Topic: "A", Partition: 0}
	tpA1 = PartitionKey{Topic: "A", Partition: 1}
	tpB0 = PartitionKey{Topic: "B", Partition: 0}
)
