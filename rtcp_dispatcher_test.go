package transport

import (
	"testing"

	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConsumer(id ConsumerId, started bool, ssrc uint32) *Consumer {
	c := NewConsumer(id, MediaKind_Video, RtpParameters{
		Encodings: []RtpEncodingParameters{{Ssrc: ssrc}},
	})
	c.SetStarted(started)
	return c
}

func newTestDispatcher(consumers ...*Consumer) (*RtcpDispatcher, *RtpListener, *uint32) {
	byId := make(map[ConsumerId]*Consumer)
	for _, c := range consumers {
		byId[c.Id()] = c
	}
	getConsumer := func(ssrc uint32) *Consumer {
		for _, c := range byId {
			if c.Started() && c.MatchesSsrc(ssrc) {
				return c
			}
		}
		return nil
	}
	var remb uint32
	rtpListener := NewRtpListener()
	dispatcher := NewRtcpDispatcher(rtpListener, getConsumer, func(bitrate uint32) { remb = bitrate })
	return dispatcher, rtpListener, &remb
}

// S3 — PLI routing.
func TestDispatchPliDeliversKeyFrameRequest(t *testing.T) {
	c := newTestConsumer("c1", true, 200)
	dispatcher, _, _ := newTestDispatcher(c)

	var got string
	c.On("keyframerequested", func(messageType string) { got = messageType })

	pkt, err := rtcp.Marshal([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: 200, SenderSSRC: 1}})
	require.NoError(t, err)

	dispatcher.Dispatch(pkt)

	assert.Equal(t, "PLI", got)
}

func TestDispatchPliUnknownSsrcLogsAndSkips(t *testing.T) {
	dispatcher, _, _ := newTestDispatcher()

	pkt, err := rtcp.Marshal([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: 999, SenderSSRC: 1}})
	require.NoError(t, err)

	assert.NotPanics(t, func() { dispatcher.Dispatch(pkt) })
}

// S4 — REMB ingest.
func TestDispatchRembStoresBitrate(t *testing.T) {
	dispatcher, _, remb := newTestDispatcher()

	pkt, err := rtcp.Marshal([]rtcp.Packet{&rtcp.ReceiverEstimatedMaximumBitrate{
		SenderSSRC: 1,
		Bitrate:    750_000,
		SSRCs:      []uint32{200},
	}})
	require.NoError(t, err)

	dispatcher.Dispatch(pkt)

	assert.Equal(t, uint32(750_000), *remb)
}

// S6 — Unknown SSRC on RR aborts iteration at the first miss.
func TestDispatchReceiverReportAbortsOnFirstMiss(t *testing.T) {
	known := newTestConsumer("c1", true, 200)
	delivered := false
	known.On("rr", func() { delivered = true })

	dispatcher, _, _ := newTestDispatcher(known)

	rr := &rtcp.ReceiverReport{
		SSRC: 1,
		Reports: []rtcp.ReceptionReport{
			{SSRC: 300}, // unknown, first in the list
			{SSRC: 200}, // known, but must never be reached
		},
	}
	pkt, err := rtcp.Marshal([]rtcp.Packet{rr})
	require.NoError(t, err)

	assert.NotPanics(t, func() { dispatcher.Dispatch(pkt) })
	assert.False(t, delivered)
}

func TestDispatchSenderReportContinuesPastMiss(t *testing.T) {
	dispatcher, rtpListener, _ := newTestDispatcher()
	p := newTestProducer("p1", 200)
	require.NoError(t, rtpListener.AddProducer(p))

	sr1 := &rtcp.SenderReport{SSRC: 999}
	sr2 := &rtcp.SenderReport{SSRC: 200}
	pkt, err := rtcp.Marshal([]rtcp.Packet{sr1, sr2})
	require.NoError(t, err)

	assert.NotPanics(t, func() { dispatcher.Dispatch(pkt) })
}

func TestDispatchNackForwardsToConsumer(t *testing.T) {
	c := newTestConsumer("c1", true, 200)
	dispatcher, _, _ := newTestDispatcher(c)

	nack := &rtcp.TransportLayerNack{SenderSSRC: 1, MediaSSRC: 200, Nacks: []rtcp.NackPair{{PacketID: 1}}}
	pkt, err := rtcp.Marshal([]rtcp.Packet{nack})
	require.NoError(t, err)

	assert.NotPanics(t, func() { dispatcher.Dispatch(pkt) })
}

func TestDispatchByeIsIgnored(t *testing.T) {
	dispatcher, _, _ := newTestDispatcher()

	pkt, err := rtcp.Marshal([]rtcp.Packet{&rtcp.Goodbye{Sources: []uint32{1}}})
	require.NoError(t, err)

	assert.NotPanics(t, func() { dispatcher.Dispatch(pkt) })
}
