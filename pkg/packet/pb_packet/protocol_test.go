package pb_packet

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/byebyebruce/rollbackserver/pkg/protocol"
	"github.com/byebyebruce/rollbackserver/pkg/sim"

	"github.com/golang/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

func Test_SCPacket(t *testing.T) {

	msg := &timestamppb.Timestamp{Seconds: 19234333, Nanos: 20}
	raw, _ := proto.Marshal(msg)
	p := NewPacket(uint8(protocol.TypeHeartbeat), msg)
	if nil == p {
		t.Fatal("NewPacket returned nil")
	}

	buff := p.Serialize()

	dataLen := binary.BigEndian.Uint16(buff[0:])
	if dataLen != uint16(len(raw)) {
		t.Error("dataLen != uint16(len(raw))")
	}

	id := buff[DataLen]
	if p.id != id {
		t.Error("p.id != id")
	}

	msg1 := &timestamppb.Timestamp{}
	if err := proto.Unmarshal(buff[MinPacketLen:], msg1); nil != err {
		t.Error(err)
	}

	if msg.GetSeconds() != msg1.GetSeconds() || msg.GetNanos() != msg1.GetNanos() {
		t.Error("msg.Seconds != msg1.Seconds || msg.Nanos != msg1.Nanos")
	}
}

func Test_CodecPacket(t *testing.T) {
	in := &protocol.Input{
		PlayerNumber: 1,
		Frame:        300,
		Inputs:       []sim.PlayerInput{sim.InputShoot, sim.InputUp},
	}

	p, err := FromCodec(in)
	if nil != err {
		t.Fatal(err)
	}
	if p.GetMessageID() != uint8(protocol.TypeInput) {
		t.Errorf("id = %d", p.GetMessageID())
	}

	if q := NewPacket(0, in); nil == q || !bytes.Equal(q.Serialize(), p.Serialize()) {
		t.Error("NewPacket and FromCodec disagree")
	}

	ms := &MsgProtocol{}
	ret, err := ms.ReadPacket(bytes.NewReader(p.Serialize()))
	if nil != err {
		t.Fatal(err)
	}

	out, err := ret.(*Packet).Decode()
	if nil != err {
		t.Fatal(err)
	}
	got, ok := out.(*protocol.Input)
	if !ok || got.Frame != in.Frame || len(got.Inputs) != 2 || got.Inputs[0] != sim.InputShoot {
		t.Errorf("decoded %+v", out)
	}
}

func Test_Packet(t *testing.T) {
	msg := &timestamppb.Timestamp{Seconds: 10, Nanos: 20000}

	temp, _ := proto.Marshal(msg)

	p := &Packet{
		id:   uint8(protocol.TypeHeartbeat),
		data: temp,
	}

	b := p.Serialize()

	r := strings.NewReader(string(b))

	proto := &MsgProtocol{}

	ret, err := proto.ReadPacket(r)
	if nil != err {
		t.Fatal(err)
	}

	packet, _ := ret.(*Packet)
	if packet.GetMessageID() != p.id {
		t.Error("packet.GetMessageID() != p.id")
	}

	if len(packet.data) != len(p.data) {
		t.Error("len(packet.data)!=len(p.data)")
	}

	msg1 := &timestamppb.Timestamp{}
	err = packet.Unmarshal(msg1)
	if nil != err {
		t.Error(err)
	}
	if msg.GetSeconds() != msg1.GetSeconds() || msg.GetNanos() != msg1.GetNanos() {
		t.Error("msg.Seconds != msg1.Seconds || msg.Nanos != msg1.Nanos")
	}
}

func Test_ReadPacketLimit(t *testing.T) {
	buff := make([]byte, MinPacketLen)
	binary.BigEndian.PutUint16(buff, MaxPacketLen+1)

	if _, err := (&MsgProtocol{}).ReadPacket(bytes.NewReader(buff)); nil == err {
		t.Error("oversized packet accepted")
	}

	if _, err := (&MsgProtocol{}).ReadPacket(bytes.NewReader(buff[:1])); nil == err {
		t.Error("short header accepted")
	}
}

func Benchmark_Packet(b *testing.B) {
	p, _ := FromCodec(&protocol.Input{PlayerNumber: 1, Frame: 20000, Inputs: make([]sim.PlayerInput, 16)})

	buf := p.Serialize()

	proto := &MsgProtocol{}

	r := bytes.NewBuffer(nil)

	for i := 0; i < b.N; i++ {
		r.Write(buf)
		if _, err := proto.ReadPacket(r); nil != err {
			b.Error(err)
		}
	}

}
