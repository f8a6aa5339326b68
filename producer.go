package transport

import (
	"github.com/pion/rtcp"
)

// Producer represents one inbound media source received by a transport.
// Its internal RTP parsing, jitter buffer and simulcast/SVC layer selection
// are out of scope here; only the surface the RtcpDispatcher and
// TransportCore need to drive it is modeled.
type Producer struct {
	IEventEmitter
	baseListener

	id     ProducerId
	kind   MediaKind
	paused bool
	closed bool

	rtpParameters RtpParameters
	headerExtIds  HeaderExtensionIds

	logger Logger
}

// NewProducer builds a Producer from its negotiated RTP parameters. The
// header extension ids are derived once at creation from whichever of
// absSendTime/mid/rid the endpoint negotiated, and handed to the owning
// transport during registerProducer.
func NewProducer(id ProducerId, kind MediaKind, rtpParameters RtpParameters, headerExtIds HeaderExtensionIds) *Producer {
	logger := NewLogger("Producer")
	if err := applyDefaults(&rtpParameters.Rtcp, defaultRtcpParameters()); err != nil {
		logger.Warn("failed to apply rtcp parameter defaults: %s", err)
	}
	return &Producer{
		IEventEmitter: NewEventEmitter(),
		id:            id,
		kind:          kind,
		rtpParameters: rtpParameters,
		headerExtIds:  headerExtIds,
		logger:        logger,
	}
}

func (p *Producer) Id() ProducerId { return p.id }

func (p *Producer) Kind() MediaKind { return p.kind }

func (p *Producer) Closed() bool { return p.closed }

// Ssrcs returns every primary media SSRC this producer declares. A producer
// with simulcast encodings contributes one SSRC per encoding.
func (p *Producer) Ssrcs() []uint32 {
	ssrcs := make([]uint32, 0, len(p.rtpParameters.Encodings))
	for _, enc := range p.rtpParameters.Encodings {
		if enc.Ssrc != 0 {
			ssrcs = append(ssrcs, enc.Ssrc)
		}
	}
	return ssrcs
}

// ReceiveRtcpSenderReport delivers a Sender Report addressed to this
// producer, as routed by RtcpDispatcher via the transport's rtpListener.
func (p *Producer) ReceiveRtcpSenderReport(report *rtcp.SenderReport) {
	if p.closed {
		return
	}
	p.logger.Debug("sender report received [producerId:%s, ssrc:%d]", p.id, report.SSRC)
}

func (p *Producer) Paused() bool { return p.paused }

// Pause marks the producer paused and emits the "pause" observer event,
// which TransportCore relays as onTransportProducerPaused (§4.5). A no-op
// if already paused or closed.
func (p *Producer) Pause() {
	if p.closed || p.paused {
		return
	}
	p.paused = true
	p.SafeEmit("pause")
}

// Resume clears the producer's paused state and emits "resume", relayed as
// onTransportProducerResumed (§4.5). A no-op if not currently paused or closed.
func (p *Producer) Resume() {
	if p.closed || !p.paused {
		return
	}
	p.paused = false
	p.SafeEmit("resume")
}

// EnableStream notifies observers that one of this producer's RTP streams
// (identified by mappedSsrc) became active, e.g. after a simulcast/SVC
// layer switch. Relayed as onTransportProducerStreamEnabled (§4.5); the
// stream's internal representation is out of scope here, so rtpStream is
// carried opaquely.
func (p *Producer) EnableStream(rtpStream interface{}, mappedSsrc uint32) {
	if p.closed {
		return
	}
	p.SafeEmit("streamenabled", rtpStream, mappedSsrc)
}

// DisableStream is the counterpart of EnableStream, relayed as
// onTransportProducerStreamDisabled (§4.5).
func (p *Producer) DisableStream(rtpStream interface{}, mappedSsrc uint32) {
	if p.closed {
		return
	}
	p.SafeEmit("streamdisabled", rtpStream, mappedSsrc)
}

// close marks the producer closed; TransportCore is the only caller,
// always after notifying the router listener (invariant 6 / P5).
// Internal close handlers registered via OnClose run last, after the
// closed flag is set (on a PRODUCER_CLOSE request the producer has already
// left the transport's registries; during TransportCore.Close the maps are
// cleared only after every producer is closed) — useful for housekeeping that must react to closure without being part of the
// public Observer surface.
func (p *Producer) close() {
	p.closed = true
	p.notifyClosed()
}

// getRtcp appends this producer's outgoing receiver reports into the
// accumulator, as invoked by RtcpScheduler once per tick (§4.4 step 4).
func (p *Producer) getRtcp(compound *rtcpCompound, now int64) {
	if p.closed {
		return
	}
	// No jitter-buffer/packet-loss statistics are modeled here; an
	// implementation with a real receive buffer would append a
	// rtcp.ReceiverReport per SSRC with actual loss/jitter figures.
}
