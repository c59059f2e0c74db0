package transport

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

func TestServer_HealthFollowsTicks(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(lis)
	done := make(chan error, 1)
	go func() { done <- srv.Serve() }()

	cc, err := Dial("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	defer cc.Close()

	ctx := context.Background()
	st, err := Check(ctx, cc)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)

	srv.SetServing(true)
	st, err = Check(ctx, cc)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, st)

	srv.SetServing(false)
	st, err = Check(ctx, cc)
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, st)

	srv.Stop()
	assert.NoError(t, <-done)
}

func TestServer_StopBeforeServe(t *testing.T) {
	srv := NewServer(bufconn.Listen(1024))
	srv.Stop()
	assert.NoError(t, srv.Serve())
}
