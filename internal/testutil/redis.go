// Package testutil starts disposable dependencies for integration tests.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisAddrEnv names an existing Redis to use instead of a container.
const RedisAddrEnv = "SOL003_TEST_REDIS_ADDR"

// StartRedis returns the host:port of a Redis server dedicated to the test.
// The test is skipped under -short, or when no container runtime is
// reachable and RedisAddrEnv is unset.
func StartRedis(t *testing.T) string {
	t.Helper()
	if addr := os.Getenv(RedisAddrEnv); addr != "" {
		return addr
	}
	if testing.Short() {
		t.Skip("skipping Redis integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready to accept connections"),
				wait.ForListeningPort("6379/tcp"),
			).WithDeadline(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("Redis container unavailable: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get Redis endpoint: %v", err)
	}
	return endpoint
}
