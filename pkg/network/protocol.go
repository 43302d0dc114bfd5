package network

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Packet anything that can be written to a Conn
type Packet interface {
	Serialize() []byte
}

// Protocol splits a byte stream into packets
type Protocol interface {
	ReadPacket(conn io.Reader) (Packet, error)
}

// DefaultPacket |len uint32|body| raw packet
type DefaultPacket struct {
	buff []byte
}

func (p *DefaultPacket) Serialize() []byte {
	return p.buff
}

func (p *DefaultPacket) GetBody() []byte {
	return p.buff[4:]
}

func NewDefaultPacket(buff []byte) *DefaultPacket {
	p := &DefaultPacket{}

	p.buff = make([]byte, 4+len(buff))
	binary.BigEndian.PutUint32(p.buff[0:4], uint32(len(buff)))
	copy(p.buff[4:], buff)

	return p
}

// DefaultProtocol reads DefaultPacket
type DefaultProtocol struct {
	MaxBodyLen uint32
}

func (p *DefaultProtocol) ReadPacket(r io.Reader) (Packet, error) {
	var (
		lengthBytes = make([]byte, 4)
		length      uint32
	)

	limit := p.MaxBodyLen
	if limit == 0 {
		limit = 1024
	}

	// read length
	if _, err := io.ReadFull(r, lengthBytes); err != nil {
		return nil, err
	}
	if length = binary.BigEndian.Uint32(lengthBytes); length > limit {
		return nil, errors.Errorf("packet body %d is larger than the limit %d", length, limit)
	}

	buff := make([]byte, length)

	// read body ( buff = lengthBytes + body )
	if _, err := io.ReadFull(r, buff); err != nil {
		return nil, err
	}

	return NewDefaultPacket(buff), nil
}
