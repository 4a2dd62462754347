//go:build integration

package broker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
)

func natsURL() string {
	if v := os.Getenv("NATS_URL"); v != "" {
		return v
	}
	return nats.DefaultURL
}

// TestSubmitJob_LiveNATS exercises Client.SubmitJob end to end against a
// real NATS server with JetStream enabled, standing in for a worker that
// pops task_queue and replies on response_<job_id>.
func TestSubmitJob_LiveNATS(t *testing.T) {
	host, port := splitURL(t, natsURL())
	client := NewClient(Options{Host: host, Port: port})

	conn, err := client.GetClient(context.Background())
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	defer conn.Close()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		data, err := conn.FetchWorkQueue(ctx, taskQueueSubj)
		if err != nil {
			return
		}
		nc, err := nats.Connect(natsURL())
		if err != nil {
			return
		}
		defer nc.Close()
		nc.Publish("response_integ-job-1", append([]byte(`{"job_id":"integ-job-1","echo":`), append(data, '}')...))
	}()

	result, err := client.SubmitJob(context.Background(), taskQueueSubj, []byte(`"hello"`), "response_integ-job-1", 3*time.Second)
	if err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	if len(result) == 0 {
		t.Fatal("expected a non-empty response body")
	}
}

func splitURL(t *testing.T, url string) (host, port string) {
	t.Helper()
	// nats.DefaultURL is "nats://127.0.0.1:4222"; NATS_URL may omit the
	// scheme. Client.Options.url() only needs host:port.
	trimmed := url
	for _, prefix := range []string{"nats://", "tls://"} {
		if len(trimmed) > len(prefix) && trimmed[:len(prefix)] == prefix {
			trimmed = trimmed[len(prefix):]
			break
		}
	}
	for i := len(trimmed) - 1; i >= 0; i-- {
		if trimmed[i] == ':' {
			return trimmed[:i], trimmed[i+1:]
		}
	}
	return trimmed, "4222"
}
