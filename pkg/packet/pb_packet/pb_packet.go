package pb_packet

import (
	"encoding/binary"
	"io"

	"github.com/byebyebruce/rollbackserver/pkg/network"
	"github.com/byebyebruce/rollbackserver/pkg/protocol"

	l4g "github.com/alecthomas/log4go"
	"github.com/golang/protobuf/proto"
	"github.com/pkg/errors"
)

const (
	DataLen      = 2
	MessageIDLen = 1

	MinPacketLen = DataLen + MessageIDLen
	MaxPacketLen = 1 << 12
)

/*

|--totalDataLen(uint16)--|--msgIDLen(uint8)--|--------------data--------------|
|-------------2----------|---------1---------|---------(totalDataLen-2-1)-----|

msgID is the protocol.Type tag, data the rest of the codec bytes (or a protobuf body
for control messages such as heartbeat)

*/

// Packet 一条带长度头的消息
type Packet struct {
	id   uint8
	data []byte
}

func (p *Packet) GetMessageID() uint8 {
	return p.id
}

func (p *Packet) GetData() []byte {
	return p.data
}

func (p *Packet) Serialize() []byte {
	buff := make([]byte, MinPacketLen, MinPacketLen+len(p.data))

	binary.BigEndian.PutUint16(buff, uint16(len(p.data)))
	buff[DataLen] = p.id

	return append(buff, p.data...)
}

// Unmarshal protobuf body
func (p *Packet) Unmarshal(m interface{}) error {
	msg, ok := m.(proto.Message)
	if !ok {
		return errors.Errorf("%T is not a proto.Message", m)
	}
	return proto.Unmarshal(p.data, msg)
}

// Decode codec body
func (p *Packet) Decode() (protocol.Packet, error) {
	b := make([]byte, 0, MessageIDLen+len(p.data))
	b = append(b, p.id)
	return protocol.Decode(append(b, p.data...))
}

func NewPacket(id uint8, msg interface{}) *Packet {

	p := &Packet{
		id: id,
	}

	switch v := msg.(type) {
	case []byte:
		p.data = v
	case proto.Message:
		if mdata, err := proto.Marshal(v); err == nil {
			p.data = mdata
		} else {
			l4g.Error("[NewPacket] proto marshal msg: %d error: %v",
				id, err)
			return nil
		}
	case protocol.Packet:
		b, err := protocol.Encode(v)
		if nil != err {
			l4g.Error("[NewPacket] encode msg: %s error: %v", v.Type(), err)
			return nil
		}
		p.id = b[0]
		p.data = b[MessageIDLen:]
	case nil:
	default:
		l4g.Error("[NewPacket] error msg type msg: %d", id)
		return nil
	}

	if len(p.data) > MaxPacketLen {
		l4g.Error("[NewPacket] msg: %d too large: %d", id, len(p.data))
		return nil
	}

	return p
}

// FromCodec 编码成网络包
func FromCodec(p protocol.Packet) (*Packet, error) {
	b, err := protocol.Encode(p)
	if nil != err {
		return nil, err
	}
	if len(b)-MessageIDLen > MaxPacketLen {
		return nil, errors.Errorf("%s too large: %d", p.Type(), len(b))
	}
	return &Packet{id: b[0], data: b[MessageIDLen:]}, nil
}

type MsgProtocol struct {
}

func (p *MsgProtocol) ReadPacket(r io.Reader) (network.Packet, error) {

	buff := make([]byte, MinPacketLen)

	// data length
	if _, err := io.ReadFull(r, buff); err != nil {
		return nil, err
	}
	dataLen := binary.BigEndian.Uint16(buff)

	if dataLen > MaxPacketLen {
		return nil, errors.Errorf("data len %d exceeds %d", dataLen, MaxPacketLen)
	}

	// id
	msg := &Packet{
		id: buff[DataLen],
	}

	// data
	if dataLen > 0 {
		msg.data = make([]byte, dataLen)
		if _, err := io.ReadFull(r, msg.data); err != nil {
			return nil, err
		}
	}

	return msg, nil
}
