// Package manager is the inference execution core for a single model. It is
// structured into small files by concern:
//
//   - manager.go: Manager type, Start/Close, health and status views.
//   - config.go: ManagerConfig and package defaults; NewWithConfig applies defaults.
//   - types.go: request/generation state types and the terminal transition.
//   - admission.go: host-load gate, concurrency slots and bounded backlog.
//   - inference.go: batch generation with wall-clock timeouts.
//   - stream.go: worker-to-consumer hand-off for streaming generation.
//   - monitor.go, supervise.go: stuck-generation sweeps under supervision.
//   - budget.go: token budget clamping.
//   - model.go, adapter_*.go: lazy model handle and runtimes.
//   - events.go, metrics.go: lifecycle events and Prometheus gauges.
//
// Build tags and runtimes:
//
//   - In-process llama:
//     Uses go-llama.cpp. Enabled with `-tags=llama`.
//     Files: adapter_llama.go, llama_cgo.go (linker rpath hints).
//     A no-CGO stub exists when the tag is not set: adapter_llama_stub.go.
//
//   - External llama.cpp server:
//     adapter_llama_server.go talks to the OpenAI-compatible HTTP API and
//     waits for /health through the retry engine before serving.
//
// Every admitted generation holds one slot and one registry entry until its
// single terminal transition (completed, failed, timed out, cancelled or
// reclaimed), which releases both.
package manager
