package udphost

import (
	"net"
	"testing"
	"time"

	"github.com/matryer/is"
)

func testPeer() *peer {
	return newPeer(1, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 6005}, time.Now())
}

func TestSeqNewer(t *testing.T) {
	is := is.New(t)

	is.True(seqNewer(1, 0))
	is.True(!seqNewer(0, 1))
	is.True(!seqNewer(5, 5))
	// wrap around
	is.True(seqNewer(0, 65535))
	is.True(seqNewer(10, 65530))
	is.True(!seqNewer(65530, 10))
}

func TestAcceptReliableInOrder(t *testing.T) {
	is := is.New(t)

	p := testPeer()

	is.Equal(p.acceptReliable(0, []byte{0}), [][]byte{{0}})
	// 2 and 3 arrive before 1
	is.Equal(len(p.acceptReliable(2, []byte{2})), 0)
	is.Equal(len(p.acceptReliable(3, []byte{3})), 0)
	is.Equal(p.acceptReliable(1, []byte{1}), [][]byte{{1}, {2}, {3}})
	// duplicate of something delivered long ago
	is.Equal(len(p.acceptReliable(1, []byte{1})), 0)
	is.Equal(p.expected, uint16(4))
	is.Equal(len(p.pending), 0)
}

func TestAcceptReliableWraps(t *testing.T) {
	is := is.New(t)

	p := testPeer()
	p.expected = 65535

	is.Equal(len(p.acceptReliable(0, []byte{0})), 0)
	is.Equal(p.acceptReliable(65535, []byte{9}), [][]byte{{9}, {0}})
	is.Equal(p.expected, uint16(1))
}

func TestAcceptUnreliableDropsStale(t *testing.T) {
	is := is.New(t)

	p := testPeer()

	is.True(p.acceptUnreliable(5))
	is.True(!p.acceptUnreliable(5))
	is.True(!p.acceptUnreliable(3))
	is.True(p.acceptUnreliable(6))
	is.True(p.acceptUnreliable(100))
}

func TestSampleRTT(t *testing.T) {
	is := is.New(t)

	p := testPeer()
	is.Equal(p.rtt, initialRTT)

	for i := 0; i < 100; i++ {
		p.sampleRTT(10 * time.Millisecond)
	}
	is.True(p.rtt < 20*time.Millisecond)
	is.Equal(p.retransmitTimeout(), minRetransmit)
}

func TestParseHeader(t *testing.T) {
	is := is.New(t)

	data := packet(header{typ: packetReliable, channel: 0, seq: 0x0102}, []byte{7})
	is.Equal(data, []byte{byte(packetReliable), 0, 0x02, 0x01, 7})

	hdr, payload, err := parseHeader(data)
	is.NoErr(err)
	is.Equal(hdr, header{typ: packetReliable, seq: 0x0102})
	is.Equal(payload, []byte{7})

	_, _, err = parseHeader([]byte{1, 0})
	is.True(err != nil)
	_, _, err = parseHeader([]byte{42, 0, 0, 0})
	is.True(err != nil)
}
