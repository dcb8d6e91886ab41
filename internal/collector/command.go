package collector

import (
	"fmt"
	"io"
	"time"

	"serial-telemetry/internal/transport"
)

// DefaultCommandTimeout bounds the wait for a command acknowledgment.
const DefaultCommandTimeout = time.Second

// CommandChannel writes operator commands to the device and reads back one
// acknowledgment line. It shares the connection's LineReader, so only the
// goroutine that owns the connection may call Send.
type CommandChannel struct {
	w       io.Writer
	lines   *transport.LineReader
	timeout time.Duration
}

func NewCommandChannel(w io.Writer, lines *transport.LineReader, timeout time.Duration) *CommandChannel {
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &CommandChannel{w: w, lines: lines, timeout: timeout}
}

// Send writes cmd verbatim, without adding a terminator, and returns the next
// line the device produces. ErrNoAck is returned when no line arrives in time.
func (c *CommandChannel) Send(cmd string) (string, error) { return c.send(cmd, nil) }

// send is Send for the acquisition worker: lines for which skip reports true
// are consumed as stream data and the wait for an acknowledgment continues.
func (c *CommandChannel) send(cmd string, skip func(line string) bool) (string, error) {
	if _, err := c.w.Write([]byte(cmd)); err != nil {
		return "", newError(KindTransport, "write command", err)
	}
	deadline := time.Now().Add(c.timeout)
	for {
		line, ok, err := c.lines.ReadLine()
		if err != nil {
			return "", newError(KindTransport, "read ack", err)
		}
		if ok && (skip == nil || !skip(line)) {
			return line, nil
		}
		if !time.Now().Before(deadline) {
			return "", fmt.Errorf("%w after %s", ErrNoAck, c.timeout)
		}
	}
}

type commandRequest struct {
	cmd string
	// reply has capacity one so the worker never blocks on an abandoned request.
	reply chan commandReply
}

type commandReply struct {
	ack string
	err error
}
