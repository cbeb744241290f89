package probing

import (
	"fmt"
	"net"
	"sync"
)

// Channel is the single UDP endpoint shared by the sender and receiver loops.
// It sends to one fixed destination and receives from any source.
type Channel struct {
	conn      *net.UDPConn
	dest      *net.UDPAddr
	closeOnce sync.Once
	closeErr  error
}

func Listen(listenAddr string, dest *net.UDPAddr) (*Channel, error) {
	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve listen addr %s: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}
	return &Channel{conn: conn, dest: dest}, nil
}

func (c *Channel) Send(b []byte) error {
	_, err := c.conn.WriteToUDP(b, c.dest)
	return err
}

// Receive blocks until a datagram arrives or the channel is closed (net.ErrClosed).
func (c *Channel) Receive(buf []byte) (int, *net.UDPAddr, error) {
	return c.conn.ReadFromUDP(buf)
}

func (c *Channel) LocalAddr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

func (c *Channel) Destination() *net.UDPAddr {
	return c.dest
}

func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
