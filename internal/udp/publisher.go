// Package udp sends the estimator telemetry as newline-delimited JSON
// datagrams to a configured destination.
package udp

import (
	"encoding/json"
	"fmt"
	"net"

	"vte-ng/internal/estimator"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)

type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

type Publisher struct {
	dest string
	conn udpConn
}

func NewPublisher(dest string) (*Publisher, error) {
	return newPublisher(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newPublisher(dest string, resolve resolveFunc, dial dialFunc) (*Publisher, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	return &Publisher{
		dest: dest,
		conn: conn,
	}, nil
}

// message is the line envelope; Type discriminates the payload.
type message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// PublishPosition sends one position snapshot datagram.
func (p *Publisher) PublishPosition(snap estimator.Snapshot) error {
	return p.send(message{Type: "position", Data: snap})
}

// PublishOrientation sends one yaw snapshot datagram.
func (p *Publisher) PublishOrientation(snap estimator.OrientationSnapshot) error {
	return p.send(message{Type: "orientation", Data: snap})
}

// PublishInnovations sends the per-source fusion records of one cycle, one
// datagram per record.
func (p *Publisher) PublishInnovations(recs []estimator.InnovationRecord) error {
	for _, r := range recs {
		if err := p.send(message{Type: "innovation", Data: r}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) send(m message) error {
	b, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode %s: %w", m.Type, err)
	}
	b = append(b, '\n')
	_, err = p.conn.Write(b)
	return err
}

func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
