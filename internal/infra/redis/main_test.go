//go:build integration

package redis

import (
	"bytes"
	"context"
	"log"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
)

var testClient *Client

func TestMain(m *testing.M) {
	ctx := context.Background()

	cmd := exec.Command("docker", "run", "-d", "--rm", "--network", "host", "redis:7")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		log.Fatalf("could not start redis container: %v. Is Docker running?", err)
	}
	containerID := strings.TrimSpace(out.String())[:12]

	raw := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	var err error
	const maxRetries = 15
	for i := 0; i < maxRetries; i++ {
		if err = raw.Ping(ctx).Err(); err == nil {
			break
		}
		log.Printf("Waiting for redis to be ready... (attempt %d/%d)", i+1, maxRetries)
		time.Sleep(time.Second)
	}
	if err != nil {
		exec.Command("docker", "stop", containerID).Run()
		log.Fatalf("Unable to connect to test redis: %v\n", err)
	}
	testClient = Wrap(raw)

	exitCode := m.Run()

	_ = testClient.Close()
	if err := exec.Command("docker", "stop", containerID).Run(); err != nil {
		log.Printf("could not stop redis container %s: %v", containerID, err)
	}
	os.Exit(exitCode)
}

func flush(t *testing.T) {
	t.Helper()
	if err := testClient.cli.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}
