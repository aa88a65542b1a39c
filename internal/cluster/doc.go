// Package cluster defines the wire format and HTTP transport shared by the
// master, worker, and backup roles.
//
// Two transport shapes cover every RPC in the internal and client-facing
// surfaces:
//
//   - Unary JSON (PostJSON/GetJSON): registration, heartbeats, score
//     reports, status queries, and the election RPCs. Small, bounded
//     payloads, 5-second client timeout.
//   - Streamed multipart (PostStream/ReadStreamRequest) and streamed bytes
//     (GetStream/WriteStreamResponse): Upload, Retrieve, ProcessShard,
//     RequestShard, SendBackup, ReceiveBackup. No client-side timeout;
//     callers bound these with a context deadline sized to the operation.
//
// Every node speaks both shapes over plain net/http; there is no RPC
// framework or code generation step, so adding an operation means adding a
// type here and a handler in internal/master or internal/worker.
package cluster
