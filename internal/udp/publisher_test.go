package udp

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"vte-ng/internal/estimator"
)

type fakeConn struct {
	writes    [][]byte
	writeErr  error
	closed    bool
	writeHits int
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.writeHits++
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	cp := append([]byte(nil), p...)
	c.writes = append(c.writes, cp)
	return len(p), nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func TestNewPublisher_DialsResolvedAddr(t *testing.T) {
	var gotNetwork string
	var gotRaddr *net.UDPAddr
	fc := &fakeConn{}

	resolve := func(network, address string) (*net.UDPAddr, error) {
		return net.ResolveUDPAddr(network, address)
	}

	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		gotNetwork = network
		gotRaddr = raddr
		return fc, nil
	}

	p, err := newPublisher("127.0.0.1:4010", resolve, dial)
	if err != nil {
		t.Fatalf("newPublisher() error: %v", err)
	}
	defer p.Close()

	if gotNetwork != "udp" {
		t.Fatalf("network=%q want %q", gotNetwork, "udp")
	}
	if gotRaddr == nil || gotRaddr.Port != 4010 || !gotRaddr.IP.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Fatalf("raddr=%v want 127.0.0.1:4010", gotRaddr)
	}
}

func TestNewPublisher_ResolveFailure(t *testing.T) {
	resolveErr := errors.New("nope")
	resolve := func(network, address string) (*net.UDPAddr, error) {
		return nil, resolveErr
	}
	dial := func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return &fakeConn{}, nil
	}

	_, err := newPublisher("bad:addr", resolve, dial)
	if !errors.Is(err, resolveErr) {
		t.Fatalf("err=%v want %v", err, resolveErr)
	}
}

func TestPublishPosition_EncodesOneLine(t *testing.T) {
	fc := &fakeConn{}
	p := &Publisher{dest: "x", conn: fc}

	snap := estimator.Snapshot{
		Time:      time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Valid:     true,
		RelPosNED: [3]float64{1.5, -0.25, -10},
	}
	if err := p.PublishPosition(snap); err != nil {
		t.Fatalf("PublishPosition() error: %v", err)
	}
	if len(fc.writes) != 1 {
		t.Fatalf("expected 1 datagram, got %d", len(fc.writes))
	}
	line := fc.writes[0]
	if !bytes.HasSuffix(line, []byte("\n")) {
		t.Fatalf("datagram not newline-terminated: %q", line)
	}

	var m struct {
		Type string             `json:"type"`
		Data estimator.Snapshot `json:"data"`
	}
	if err := json.Unmarshal(line, &m); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if m.Type != "position" {
		t.Fatalf("type=%q want position", m.Type)
	}
	if !m.Data.Valid || m.Data.RelPosNED != snap.RelPosNED {
		t.Fatalf("payload=%+v want %+v", m.Data, snap)
	}
}

func TestPublishInnovations_OneDatagramPerRecord(t *testing.T) {
	fc := &fakeConn{}
	p := &Publisher{dest: "x", conn: fc}

	recs := []estimator.InnovationRecord{
		{Source: "vision", Fused: true},
		{Source: "uwb", Fused: false},
	}
	if err := p.PublishInnovations(recs); err != nil {
		t.Fatalf("PublishInnovations() error: %v", err)
	}
	if len(fc.writes) != 2 {
		t.Fatalf("expected 2 datagrams, got %d", len(fc.writes))
	}
	var m struct {
		Type string                     `json:"type"`
		Data estimator.InnovationRecord `json:"data"`
	}
	if err := json.Unmarshal(fc.writes[1], &m); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if m.Type != "innovation" || m.Data.Source != "uwb" {
		t.Fatalf("payload=%+v", m)
	}
}

func TestPublish_PropagatesWriteError(t *testing.T) {
	wantErr := errors.New("boom")
	fc := &fakeConn{writeErr: wantErr}
	p := &Publisher{dest: "x", conn: fc}

	err := p.PublishOrientation(estimator.OrientationSnapshot{})
	if !errors.Is(err, wantErr) {
		t.Fatalf("err=%v want %v", err, wantErr)
	}
}

func TestClose_NilConnNoPanic(t *testing.T) {
	p := &Publisher{}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}
