package engine

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"microbatch/checkpoint"
	"microbatch/internal/transport"
)

func TestEngine_RunServesHealthUntilCancelled(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := transport.NewServer(lis)
	store := checkpoint.NewMemory()
	h := &recordingHandler{}

	e := &Engine{
		transport: srv,
		store:     store,
		scheduler: NewScheduler(Schedule{Interval: 5 * time.Millisecond}, &stubSource{},
			checkpoint.NewRetention(store), h, newMetrics(), WithHealth(srv.SetServing)),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer cc.Close()

	require.Eventually(t, func() bool {
		st, err := transport.Check(context.Background(), cc)
		return err == nil && st == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.NotEmpty(t, h.batches())
	assert.NoError(t, e.Close())
}

func TestEngine_SchedulerFailureStopsRun(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	e := &Engine{
		transport: transport.NewServer(lis),
		scheduler: NewScheduler(Schedule{Interval: time.Millisecond, MaxConsecutiveFailures: 1},
			&stubSource{failing: assert.AnError}, checkpoint.NewRetention(checkpoint.NewMemory()),
			&recordingHandler{}, newMetrics()),
	}
	err := e.Run(context.Background())
	assert.ErrorIs(t, err, assert.AnError)
}
