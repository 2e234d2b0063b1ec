// Package tcpms implements the TcpMs protocol: a bidirectional,
// message-oriented TCP transport for a single-server / many-client
// topology.
//
// Peers exchange discretely framed packages over a shared reliable byte
// stream. A server optionally authenticates each client with a symmetric
// mutual challenge and, once authenticated, encrypts every Data payload
// with AES. The transport also implements liveness probing (ping/pong),
// connection validation rounds during the handshake, and a panic/rejoin
// recovery handshake
// that re-establishes a session after a transient protocol fault instead of
// dropping the connection.
//
// # Handler
//
// The core type defined by this package is [Handler]: the per-connection
// engine that runs the obtain (read) and dispatch (write) loops over a
// [Channel]. Construct one with [NewHandler] and drive it through
// [Handler.StartAll], [Handler.PauseAll], [Handler.ResumeAll], and
// [Handler.StopAll].
//
//	h := tcpms.NewHandler(ch, onInternal, onData, onError)
//	h.StartAll(context.Background())
//	...
//	h.StopAll()
//
// # Packages
//
// A [Package] is the unit of exchange: a [PackageType] tag, a [DataType]
// tag describing how to interpret the payload, and the payload bytes
// themselves. [Package.Encode] and [DecodePackage] implement the six-byte
// header framing described by the protocol.
//
// # Handshake, liveness, server and client
//
// The handshake state machine lives in the handshake subpackage, the
// ping/pong liveness monitor in the liveness subpackage, the server-side
// client registry and accept loop in the server subpackage, and the
// client-side dial/join/send API in the client subpackage.
package tcpms
