// Package streamkit is a telemetry stream lifecycle and analysis
// orchestration core. It multiplexes many logical instrument streams over
// one persistent transport connection, buffers and decimates incoming
// samples, tracks per-stream health, negotiates a wire encoding, recovers
// subscriptions after disconnection, and fans data into independent
// per-stream analyzers whose results surface on a single typed event bus.
//
// # Architecture
//
// The component graph, leaves first:
//
//   - queue: bounded priority-ordered outbound message queue
//   - protocol: wire codecs (JSON, binary, binary-delta) and the encoding
//     negotiator driven by measured link metrics
//   - catalog: the set of subscribable channels discovered per connection
//   - processor: per-subscription ring buffer with decimation and O(1)
//     running statistics
//   - analysis: statistics/anomaly, correlation, trend, drift, and
//     prediction analyzers behind one central tick scheduler
//   - health: periodic sweep classifying stream status and quality
//   - transport: the wire link abstraction, with NATS and WebSocket
//     implementations
//   - connection: transport lifecycle, bounded reconnection, latency
//     sampling, rate-limited outbound flush
//   - manager: the orchestrator facade tying everything together
//
// Construct a manager.Manager with a transport factory and consume its
// event surface; cmd/streamkit shows the full wiring.
package streamkit
