package transport

import (
	"github.com/pion/rtcp"
)

// Consumer represents one outbound media sink on a transport. As with
// Producer, its internal layer selection and NACK retransmit cache are out
// of scope; only the RTCP-facing contract is modeled.
type Consumer struct {
	IEventEmitter
	baseListener

	id      ConsumerId
	kind    MediaKind
	started bool
	closed  bool
	paused  bool

	rtpParameters RtpParameters

	// sendRateBps is the consumer's current outgoing bitrate estimate, fed
	// into RtcpScheduler's interval formula (§4.4 step 6).
	sendRateBps uint32

	logger Logger
}

func NewConsumer(id ConsumerId, kind MediaKind, rtpParameters RtpParameters) *Consumer {
	logger := NewLogger("Consumer")
	if err := applyDefaults(&rtpParameters.Rtcp, defaultRtcpParameters()); err != nil {
		logger.Warn("failed to apply rtcp parameter defaults: %s", err)
	}
	return &Consumer{
		IEventEmitter: NewEventEmitter(),
		id:            id,
		kind:          kind,
		rtpParameters: rtpParameters,
		logger:        logger,
	}
}

func (c *Consumer) Id() ConsumerId { return c.id }

func (c *Consumer) Kind() MediaKind { return c.kind }

func (c *Consumer) Closed() bool { return c.closed }

// Started reports whether the consumer has begun sending RTP. Only started
// consumers participate in the reverse SSRC lookup (§4.3).
func (c *Consumer) Started() bool { return c.started }

// currentSendRateBps satisfies consumerReporter for RtcpScheduler's interval
// formula (§4.4 step 6).
func (c *Consumer) currentSendRateBps() uint32 { return c.sendRateBps }

func (c *Consumer) SetStarted(started bool) { c.started = started }

// MatchesSsrc reports whether ssrc belongs to any of this consumer's
// primary, RTX, or FEC streams across all of its encodings, per the
// getStartedConsumer algorithm (§4.3).
func (c *Consumer) MatchesSsrc(ssrc uint32) bool {
	for _, enc := range c.rtpParameters.Encodings {
		if enc.Ssrc == ssrc {
			return true
		}
		if enc.Rtx != nil && enc.Rtx.Ssrc == ssrc {
			return true
		}
		if enc.Fec != nil && enc.Fec.Ssrc == ssrc {
			return true
		}
	}
	return false
}

// ReceiveRtcpReceiverReport delivers one RR block addressed to this
// consumer (§4.3 "Receiver Report") and emits it as the "rr" observer event.
func (c *Consumer) ReceiveRtcpReceiverReport(report rtcp.ReceptionReport) {
	if c.closed {
		return
	}
	c.logger.Debug("receiver report received [consumerId:%s, ssrc:%d]", c.id, report.SSRC)
	c.SafeEmit("rr", report)
}

// RequestKeyFrame notes a PLI/FIR request, tagged with the feedback
// message type that triggered it (§4.3 PSFB handling).
func (c *Consumer) RequestKeyFrame(messageType string) {
	if c.closed {
		return
	}
	c.SafeEmit("keyframerequested", messageType)
}

// ReceiveNack forwards a NACK packet to this consumer (§4.3 RTPFB handling).
func (c *Consumer) ReceiveNack(nack *rtcp.TransportLayerNack) {
	if c.closed {
		return
	}
	c.logger.Debug("nack received [consumerId:%s, ssrc:%d]", c.id, nack.MediaSSRC)
}

func (c *Consumer) close() {
	c.closed = true
	c.notifyClosed()
}

// getRtcp appends this consumer's outgoing sender/receiver state into the
// accumulator; a sender report added via addSenderReport sets the
// compound's hasSender flag, which is RtcpScheduler's flush trigger (§4.4
// step 3).
func (c *Consumer) getRtcp(compound *rtcpCompound, now int64) {
	if c.closed {
		return
	}
	// No real send-buffer statistics are modeled; a full implementation
	// would append a rtcp.SenderReport built from actual packet/octet
	// counts and RTP timestamp mapping.
}
