package jobspec

import "os"

// envSnapshot holds the task-specific side parameters that the original
// Python tasks read from the environment. Design Note 6 moves this read
// from "every serialization call" to "once, at factory construction" so
// the same factory produces deterministic tasks across a run while still
// reflecting the environment at submission time (the factory is built
// immediately before tasks are constructed from CLI/API input).
type envSnapshot struct {
	unstructuredAPIKey string
	unstructuredURL    string
	eclairTritonHost   string
	eclairTritonPort   string
	eclairBatchSize    string
}

func readEnvSnapshot() envSnapshot {
	return envSnapshot{
		unstructuredAPIKey: os.Getenv("UNSTRUCTURED_API_KEY"),
		unstructuredURL:    os.Getenv("UNSTRUCTURED_URL"),
		eclairTritonHost:   envOr("ECLAIR_TRITON_HOST", "localhost"),
		eclairTritonPort:   envOr("ECLAIR_TRITON_PORT", "8001"),
		eclairBatchSize:    envOr("ECLAIR_BATCH_SIZE", "16"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// TaskFactory builds validated Task values. Construct one per process run
// (or one per test, with a fixed env snapshot) so every task built through
// it shares one environment read.
type TaskFactory struct {
	env envSnapshot
}

// NewTaskFactory reads the relevant environment variables once and returns
// a factory that bakes them into every task it builds.
func NewTaskFactory() *TaskFactory {
	return &TaskFactory{env: readEnvSnapshot()}
}

// NewTaskFactoryWithEnv builds a factory from an explicit environment map,
// bypassing os.Getenv entirely — used by tests that need deterministic
// eclair/unstructured side parameters without mutating process environment.
func NewTaskFactoryWithEnv(env map[string]string) *TaskFactory {
	snap := envSnapshot{
		unstructuredAPIKey: env["UNSTRUCTURED_API_KEY"],
		unstructuredURL:    env["UNSTRUCTURED_URL"],
		eclairTritonHost:   env["ECLAIR_TRITON_HOST"],
		eclairTritonPort:   env["ECLAIR_TRITON_PORT"],
		eclairBatchSize:    env["ECLAIR_BATCH_SIZE"],
	}
	if snap.eclairTritonHost == "" {
		snap.eclairTritonHost = "localhost"
	}
	if snap.eclairTritonPort == "" {
		snap.eclairTritonPort = "8001"
	}
	if snap.eclairBatchSize == "" {
		snap.eclairBatchSize = "16"
	}
	return &TaskFactory{env: snap}
}
