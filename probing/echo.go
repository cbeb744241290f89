package probing

import (
	"context"
	"errors"
	"fmt"
	"net"

	log "github.com/sirupsen/logrus"
)

// Echoer reflects every datagram back to its sender, turning a remote pinger's one-way
// probes into round trips.
type Echoer struct {
	conn *net.UDPConn
}

func NewEchoer(listenAddr string) (*Echoer, error) {
	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve listen addr %s: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", listenAddr, err)
	}
	return &Echoer{conn: conn}, nil
}

func (e *Echoer) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// Run echoes until ctx is done, then closes the socket.
func (e *Echoer) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		e.conn.Close()
	}()

	log.Infof("echoing datagrams on %v", e.LocalAddr())
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warnf("echo receive failed: %v", err)
			continue
		}
		if _, err := e.conn.WriteToUDP(buf[:n], from); err != nil {
			log.Warnf("echo to %v failed: %v", from, err)
			continue
		}
		log.Debugf("echoed %d bytes to %v", n, from)
	}
}
