package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

func TestChainUnaryInterceptors(t *testing.T) {
	var calls []string
	tag := func(name string) grpc.UnaryServerInterceptor {
		return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
			calls = append(calls, name+":in")
			resp, err := handler(ctx, req)
			calls = append(calls, name+":out")
			return resp, err
		}
	}

	chain := ChainUnaryInterceptors(tag("auth"), tag("log"))
	resp, err := chain(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/x/Y"},
		func(ctx context.Context, req any) (any, error) {
			calls = append(calls, "handler")
			return req.(string) + "-ok", nil
		})
	require.NoError(t, err)
	assert.Equal(t, "req-ok", resp)
	assert.Equal(t, []string{"auth:in", "log:in", "handler", "log:out", "auth:out"}, calls)

	empty := ChainUnaryInterceptors()
	resp, err = empty(context.Background(), "bare", nil, func(ctx context.Context, req any) (any, error) { return req, nil })
	require.NoError(t, err)
	assert.Equal(t, "bare", resp)
}
