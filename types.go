package transport

// TransportId uniquely identifies a Transport within its owning router.
type TransportId string

// ProducerId uniquely identifies a Producer within its owning transport.
type ProducerId string

// ConsumerId uniquely identifies a Consumer within its owning transport.
type ConsumerId string

// HeaderExtensionIds is the transport-wide union of RTP header extension ids
// contributed by its producers. A zero value means "not negotiated"; once a
// field becomes non-zero it must never be reset to zero for the transport's
// lifetime (invariant 5).
type HeaderExtensionIds struct {
	AbsSendTime byte
	Mid         byte
	Rid         byte
}

// merge folds another producer's header extension ids into the transport's
// running union, preserving monotonicity: a zero incoming id never clears an
// already-set field.
func (h *HeaderExtensionIds) merge(other HeaderExtensionIds) {
	if other.AbsSendTime != 0 {
		h.AbsSendTime = other.AbsSendTime
	}
	if other.Mid != 0 {
		h.Mid = other.Mid
	}
	if other.Rid != 0 {
		h.Rid = other.Rid
	}
}

// WireSender is the capability a concrete transport variant (WebRTC/DTLS,
// plain UDP, pipe, ...) must provide. TransportCore never touches ICE/DTLS/
// SRTP directly; it only ever hands already-framed RTP/RTCP to this hook.
type WireSender interface {
	SendRtpPacket(consumer *Consumer, payload []byte)
	SendRtcpPacket(payload []byte)
	SendRtcpCompoundPacket(payload []byte)
	IsConnected() bool
}

// RouterListener is the capability set the owning router must implement to
// receive lifecycle and relay notifications from a TransportCore. Every
// callback is fire-and-forget from the transport's point of view.
type RouterListener interface {
	OnTransportProducerClosed(t *TransportCore, p *Producer)
	OnTransportConsumerClosed(t *TransportCore, c *Consumer)
	OnTransportConsumerKeyFrameRequested(t *TransportCore, c *Consumer)

	OnTransportProducerPaused(t *TransportCore, p *Producer)
	OnTransportProducerResumed(t *TransportCore, p *Producer)
	OnTransportProducerStreamEnabled(t *TransportCore, p *Producer, rtpStream interface{}, mappedSsrc uint32)
	OnTransportProducerStreamDisabled(t *TransportCore, p *Producer, rtpStream interface{}, mappedSsrc uint32)
	OnTransportProducerRtpPacketReceived(t *TransportCore, p *Producer, payload []byte)
}

// Request models one inbound Channel request. Method dispatch mirrors the
// legacy worker's request schema: a method tag plus an internal/data body.
type Request struct {
	Method     string
	ProducerId ProducerId
	ConsumerId ConsumerId
	Bitrate    *uint64

	accepted bool
	rejected bool
	reason   string
}

// Accept marks the request as successfully handled with no response body.
func (r *Request) Accept() {
	r.accepted = true
}

// Reject marks the request as failed, carrying a human-readable reason.
// Rejecting never mutates transport state; callers must reject before any
// state change, or avoid the change entirely on the rejected path.
func (r *Request) Reject(reason string) {
	r.rejected = true
	r.reason = reason
}

// Accepted reports whether Accept was called.
func (r *Request) Accepted() bool { return r.accepted }

// Rejected reports whether Reject was called, and with what reason.
func (r *Request) Rejected() (bool, string) { return r.rejected, r.reason }

const (
	MethodTransportSetMaxIncomingBitrate = "TRANSPORT_SET_MAX_INCOMING_BITRATE"
	MethodProducerClose                  = "PRODUCER_CLOSE"
	MethodConsumerClose                  = "CONSUMER_CLOSE"
	MethodTransportProduce               = "TRANSPORT_PRODUCE"
	MethodTransportConsume               = "TRANSPORT_CONSUME"
)

// Minimum incoming bitrate floor, bits/s. Requests below this are clamped,
// never rejected (invariant 4 / P3).
const MinIncomingBitrate uint64 = 10_000

// MaxVideoIntervalMs is the RTCP interval ceiling applied regardless of the
// computed send-rate based interval.
const MaxVideoIntervalMs = 1000

// RtcpBufferSize bounds a single serialized RTCP compound packet. Compounds
// exceeding it are dropped with a warning rather than truncated or split
// further (§6 constants, §4.4 step 3/5).
const RtcpBufferSize = 1452

// RtcpBandwidthNumerator is the kilobit-ms product used to derive the next
// RTCP interval from the aggregate consumer send rate (§4.4 step 6).
const RtcpBandwidthNumerator = 360_000
