package transport

import (
	"sync"
	"testing"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRouterListener struct {
	mu                   sync.Mutex
	producerClosedCount  int
	lastClosedProducer   *Producer
	consumerClosedCount  int
	lastClosedConsumer   *Consumer
	keyFrameRequestedFor *Consumer
	rtpReceivedFor       *Producer
	rtpReceivedPayload   []byte

	pausedFor          *Producer
	resumedFor         *Producer
	streamEnabledFor   *Producer
	streamEnabledSsrc  uint32
	streamDisabledFor  *Producer
	streamDisabledSsrc uint32
}

func (f *fakeRouterListener) OnTransportProducerClosed(t *TransportCore, p *Producer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.producerClosedCount++
	f.lastClosedProducer = p
}

func (f *fakeRouterListener) OnTransportConsumerClosed(t *TransportCore, c *Consumer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consumerClosedCount++
	f.lastClosedConsumer = c
}

func (f *fakeRouterListener) OnTransportConsumerKeyFrameRequested(t *TransportCore, c *Consumer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyFrameRequestedFor = c
}

func (f *fakeRouterListener) OnTransportProducerPaused(t *TransportCore, p *Producer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pausedFor = p
}

func (f *fakeRouterListener) OnTransportProducerResumed(t *TransportCore, p *Producer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumedFor = p
}

func (f *fakeRouterListener) OnTransportProducerStreamEnabled(t *TransportCore, p *Producer, rtpStream interface{}, mappedSsrc uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamEnabledFor = p
	f.streamEnabledSsrc = mappedSsrc
}

func (f *fakeRouterListener) OnTransportProducerStreamDisabled(t *TransportCore, p *Producer, rtpStream interface{}, mappedSsrc uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.streamDisabledFor = p
	f.streamDisabledSsrc = mappedSsrc
}

func (f *fakeRouterListener) OnTransportProducerRtpPacketReceived(t *TransportCore, p *Producer, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rtpReceivedFor = p
	f.rtpReceivedPayload = payload
}

type fakeWireSender struct {
	mu        sync.Mutex
	connected bool
	compounds [][]byte
}

func (f *fakeWireSender) SendRtpPacket(consumer *Consumer, payload []byte) {}

func (f *fakeWireSender) SendRtcpPacket(payload []byte) {}

func (f *fakeWireSender) SendRtcpCompoundPacket(payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.compounds = append(f.compounds, payload)
}

func (f *fakeWireSender) IsConnected() bool { return f.connected }

func newTestTransport() (*TransportCore, *fakeRouterListener, *fakeWireSender) {
	listener := &fakeRouterListener{}
	wire := &fakeWireSender{}
	tr := NewTransportCore("t1", listener, wire, func() int64 { return 0 })
	return tr, listener, wire
}

func bitratePtr(v uint64) *uint64 { return &v }

// S1 — Bitrate clamp.
func TestHandleRequestSetMaxIncomingBitrateClamps(t *testing.T) {
	tr, _, _ := newTestTransport()
	defer tr.Close()

	req := &Request{Method: MethodTransportSetMaxIncomingBitrate, Bitrate: bitratePtr(500)}
	tr.HandleRequest(req)

	assert.True(t, req.Accepted())
	assert.Equal(t, MinIncomingBitrate, tr.maxIncomingBitrate)
}

func TestHandleRequestSetMaxIncomingBitrateMissingField(t *testing.T) {
	tr, _, _ := newTestTransport()
	defer tr.Close()

	req := &Request{Method: MethodTransportSetMaxIncomingBitrate}
	tr.HandleRequest(req)

	rejected, reason := req.Rejected()
	assert.True(t, rejected)
	assert.NotEmpty(t, reason)
}

// S2 — Producer closed via request.
func TestHandleRequestProducerClose(t *testing.T) {
	tr, listener, _ := newTestTransport()
	defer tr.Close()

	p := newTestProducer("p1", 100)
	require.NoError(t, tr.RegisterProducer(p))

	req := &Request{Method: MethodProducerClose, ProducerId: "p1"}
	tr.HandleRequest(req)

	assert.True(t, req.Accepted())
	assert.Equal(t, 1, listener.producerClosedCount)
	assert.Same(t, p, listener.lastClosedProducer)
	assert.Nil(t, tr.rtpListener.Get(100))
	assert.Empty(t, tr.producers)
}

func TestHandleRequestProducerCloseUnknownId(t *testing.T) {
	tr, listener, _ := newTestTransport()
	defer tr.Close()

	req := &Request{Method: MethodProducerClose, ProducerId: "missing"}
	tr.HandleRequest(req)

	rejected, _ := req.Rejected()
	assert.True(t, rejected)
	assert.Equal(t, 0, listener.producerClosedCount)
}

func TestHandleRequestUnknownMethod(t *testing.T) {
	tr, _, _ := newTestTransport()
	defer tr.Close()

	req := &Request{Method: "BOGUS"}
	tr.HandleRequest(req)

	rejected, reason := req.Rejected()
	assert.True(t, rejected)
	assert.Equal(t, "unknown method", reason)
}

// P1/invariant 1: colliding ssrc registration fails without installing the producer.
func TestRegisterProducerRejectsSsrcCollision(t *testing.T) {
	tr, _, _ := newTestTransport()
	defer tr.Close()

	require.NoError(t, tr.RegisterProducer(newTestProducer("p1", 100)))
	err := tr.RegisterProducer(newTestProducer("p2", 100))

	assert.ErrorIs(t, err, ErrSsrcAlreadyInUse)
	_, exists := tr.producers["p2"]
	assert.False(t, exists)
}

// P2: map keys equal entity ids.
func TestProducerMapKeyConsistency(t *testing.T) {
	tr, _, _ := newTestTransport()
	defer tr.Close()

	require.NoError(t, tr.RegisterProducer(newTestProducer("p1", 100)))
	for id, p := range tr.producers {
		assert.Equal(t, id, p.Id())
	}
}

// P6/invariant 5: the running header extension id union never resets a
// previously-set nonzero field, even as later producers contribute zeros.
func TestRegisterProducerMergesHeaderExtensionIdsMonotonically(t *testing.T) {
	tr, _, _ := newTestTransport()
	defer tr.Close()

	p1 := NewProducer("p1", MediaKind_Audio, RtpParameters{
		Encodings: []RtpEncodingParameters{{Ssrc: 100}},
	}, HeaderExtensionIds{AbsSendTime: 1})
	require.NoError(t, tr.RegisterProducer(p1))

	p2 := NewProducer("p2", MediaKind_Video, RtpParameters{
		Encodings: []RtpEncodingParameters{{Ssrc: 200}},
	}, HeaderExtensionIds{AbsSendTime: 0, Mid: 2})
	require.NoError(t, tr.RegisterProducer(p2))

	assert.Equal(t, HeaderExtensionIds{AbsSendTime: 1, Mid: 2}, tr.headerExtensionIds)
}

// Registering a connected video consumer requests a key frame immediately.
func TestRegisterConsumerRequestsKeyFrameWhenConnected(t *testing.T) {
	tr, listener, wire := newTestTransport()
	defer tr.Close()
	wire.connected = true

	c := NewConsumer("c1", MediaKind_Video, RtpParameters{
		Encodings: []RtpEncodingParameters{{Ssrc: 200}},
	})
	require.NoError(t, tr.RegisterConsumer(c))

	assert.Same(t, c, listener.keyFrameRequestedFor)
}

func TestRegisterConsumerSkipsKeyFrameWhenDisconnected(t *testing.T) {
	tr, listener, _ := newTestTransport()
	defer tr.Close()

	c := NewConsumer("c1", MediaKind_Video, RtpParameters{
		Encodings: []RtpEncodingParameters{{Ssrc: 200}},
	})
	require.NoError(t, tr.RegisterConsumer(c))

	assert.Nil(t, listener.keyFrameRequestedFor)
}

// P7: register then close restores prior state.
func TestRegisterThenCloseProducerIsIdempotentOnState(t *testing.T) {
	tr, _, _ := newTestTransport()
	defer tr.Close()

	require.NoError(t, tr.RegisterProducer(newTestProducer("p1", 100)))

	req := &Request{Method: MethodProducerClose, ProducerId: "p1"}
	tr.HandleRequest(req)

	assert.Empty(t, tr.producers)
	assert.Nil(t, tr.rtpListener.Get(100))
}

// P8: Close on an already-empty transport performs no listener callbacks.
func TestCloseOnEmptyTransportCallsNoListeners(t *testing.T) {
	tr, listener, _ := newTestTransport()

	tr.Close()

	assert.Equal(t, 0, listener.producerClosedCount)
	assert.Equal(t, 0, listener.consumerClosedCount)
}

// invariant 6 / P5: Close notifies the listener before destroying entities.
func TestCloseNotifiesBeforeDestroy(t *testing.T) {
	tr, listener, _ := newTestTransport()

	p := newTestProducer("p1", 100)
	require.NoError(t, tr.RegisterProducer(p))

	tr.Close()

	assert.Equal(t, 1, listener.producerClosedCount)
	assert.True(t, p.Closed())
}

// §4.2: inbound RTP demuxes to its owning producer by SSRC.
func TestReceiveRtpPacketDemuxesToProducer(t *testing.T) {
	tr, listener, _ := newTestTransport()
	defer tr.Close()

	p := newTestProducer("p1", 100)
	require.NoError(t, tr.RegisterProducer(p))

	raw, err := (&rtp.Packet{
		Header:  rtp.Header{Version: 2, SSRC: 100, SequenceNumber: 1},
		Payload: []byte{0x01, 0x02},
	}).Marshal()
	require.NoError(t, err)

	tr.ReceiveRtpPacket(raw)

	assert.Same(t, p, listener.rtpReceivedFor)
	assert.Equal(t, raw, listener.rtpReceivedPayload)
}

// §4.3+§4.5: a PLI delivered through ReceiveRtcpPacket reaches the router
// listener via the consumer's "keyframerequested" observer event, not just
// the immediate-request-on-registration branch.
func TestReceiveRtcpPacketPliRelaysKeyFrameRequest(t *testing.T) {
	tr, listener, _ := newTestTransport()
	defer tr.Close()

	c := NewConsumer("c1", MediaKind_Video, RtpParameters{
		Encodings: []RtpEncodingParameters{{Ssrc: 200}},
	})
	c.SetStarted(true)
	require.NoError(t, tr.RegisterConsumer(c))
	listener.mu.Lock()
	listener.keyFrameRequestedFor = nil
	listener.mu.Unlock()

	raw, err := (&rtcp.PictureLossIndication{MediaSSRC: 200}).Marshal()
	require.NoError(t, err)

	tr.ReceiveRtcpPacket(raw)

	listener.mu.Lock()
	defer listener.mu.Unlock()
	assert.Same(t, c, listener.keyFrameRequestedFor)
}

// §4.5: Producer pause/resume/stream-enable/stream-disable are relayed to
// the router listener verbatim once the producer is registered.
func TestRegisterProducerRelaysLifecycleEvents(t *testing.T) {
	tr, listener, _ := newTestTransport()
	defer tr.Close()

	p := newTestProducer("p1", 100)
	require.NoError(t, tr.RegisterProducer(p))

	p.Pause()
	listener.mu.Lock()
	assert.Same(t, p, listener.pausedFor)
	listener.mu.Unlock()

	p.Resume()
	listener.mu.Lock()
	assert.Same(t, p, listener.resumedFor)
	listener.mu.Unlock()

	p.EnableStream("stream-a", 42)
	listener.mu.Lock()
	assert.Same(t, p, listener.streamEnabledFor)
	assert.Equal(t, uint32(42), listener.streamEnabledSsrc)
	listener.mu.Unlock()

	p.DisableStream("stream-a", 42)
	listener.mu.Lock()
	assert.Same(t, p, listener.streamDisabledFor)
	assert.Equal(t, uint32(42), listener.streamDisabledSsrc)
	listener.mu.Unlock()
}

func TestReceiveRtpPacketUnknownSsrcIsDropped(t *testing.T) {
	tr, listener, _ := newTestTransport()
	defer tr.Close()

	raw, err := (&rtp.Packet{
		Header:  rtp.Header{Version: 2, SSRC: 999, SequenceNumber: 1},
		Payload: []byte{0x01},
	}).Marshal()
	require.NoError(t, err)

	tr.ReceiveRtpPacket(raw)

	assert.Nil(t, listener.rtpReceivedFor)
}
