// Package liveness keeps a supervised server process and its supervisor
// aware of each other.
//
// Messages travel over a Channel, either newline-delimited JSON on an
// inherited file descriptor or text frames on a websocket:
//
//	{"type":"start","paths":...,"config":...}
//	{"type":"ping","id":1700000000000}
//	{"type":"pong","id":1700000000000}
//	{"type":"reload"}
//	{"type":"exit"}
//	"shutdown"
//
// The first ping from the supervisor starts the server's own heartbeat. When
// more than two of the server's pings go unanswered the heartbeat stops and a
// clean shutdown is requested.
package liveness
