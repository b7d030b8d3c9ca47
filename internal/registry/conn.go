package registry

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kernbread/finalProjectDistributedForNoel/pkg/types"
)

// ErrConnClosed is returned when sending on a connection that has failed.
var ErrConnClosed = errors.New("connection closed")

// Conn is one admitted peer connection. Its role is fixed at admission.
type Conn struct {
	id     types.ConnID
	role   types.Role
	remote string
	nc     net.Conn

	writeTimeout time.Duration
	wmu          sync.Mutex
	alive        atomic.Bool
	closeOnce    sync.Once
}

func newConn(id types.ConnID, role types.Role, nc net.Conn, writeTimeout time.Duration) *Conn {
	c := &Conn{
		id:           id,
		role:         role,
		remote:       nc.RemoteAddr().String(),
		nc:           nc,
		writeTimeout: writeTimeout,
	}
	c.alive.Store(true)
	return c
}

// ID returns the connection id.
func (c *Conn) ID() types.ConnID { return c.id }

// Role returns the role assigned at admission.
func (c *Conn) Role() types.Role { return c.role }

// RemoteAddr returns the peer address as seen at accept time.
func (c *Conn) RemoteAddr() string { return c.remote }

// Peer returns the routing identity of the connection.
func (c *Conn) Peer() types.Peer { return types.Peer{ID: c.id, Role: c.role} }

// Alive reports whether the connection has not yet failed.
func (c *Conn) Alive() bool { return c.alive.Load() }

// Send writes one newline-terminated message. Concurrent senders are
// serialized so lines never interleave.
func (c *Conn) Send(line string) error {
	if !c.Alive() {
		return ErrConnClosed
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.nc.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := c.nc.Write([]byte(line + "\n")); err != nil {
		// ends the read loop, which reports the peer gone
		c.close()
		return fmt.Errorf("send to %s %d: %w", c.role, c.id, err)
	}
	return nil
}

// close marks the connection dead and closes the socket. It is idempotent.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		_ = c.nc.Close()
	})
}
