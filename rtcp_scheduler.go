package transport

import (
	"time"

	"github.com/pion/rtcp"
)

// rtcpCompound accumulates outbound RTCP packets for one flush, mirroring
// the legacy CompoundPacket accumulator (§4.4 step 2).
type rtcpCompound struct {
	packets    []rtcp.Packet
	hasSender  bool
	hasReceive bool
}

func newRtcpCompound() *rtcpCompound {
	return &rtcpCompound{}
}

func (c *rtcpCompound) addSenderReport(sr *rtcp.SenderReport) {
	c.packets = append(c.packets, sr)
	c.hasSender = true
}

func (c *rtcpCompound) addReceiverReport(rr *rtcp.ReceiverReport) {
	c.packets = append(c.packets, rr)
	c.hasReceive = true
}

func (c *rtcpCompound) empty() bool {
	return len(c.packets) == 0
}

func (c *rtcpCompound) marshal() ([]byte, error) {
	return rtcp.Marshal(c.packets)
}

// consumerReporter is the surface RtcpScheduler needs from a consumer:
// satisfied by *Consumer in production, and by lightweight test doubles
// that exercise Tick's abort behavior without a real send buffer.
type consumerReporter interface {
	getRtcp(compound *rtcpCompound, now int64)
	currentSendRateBps() uint32
}

// producerReporter is the surface RtcpScheduler needs from a producer:
// satisfied by *Producer.
type producerReporter interface {
	getRtcp(compound *rtcpCompound, now int64)
}

// RtcpScheduler drives periodic outbound RTCP: on each timer fire it walks
// the consumer and producer registries, accumulates a compound packet,
// flushes it under a size bound, and rearms itself with a jittered interval
// derived from the current aggregate send rate (§4.4).
type RtcpScheduler struct {
	getProducers func() []producerReporter
	getConsumers func() []consumerReporter
	sendCompound func(payload []byte)
	now          func() int64

	timer *time.Timer
	alive bool
	fire  func()

	logger Logger
}

func NewRtcpScheduler(getProducers func() []producerReporter, getConsumers func() []consumerReporter, sendCompound func(payload []byte), now func() int64) *RtcpScheduler {
	return &RtcpScheduler{
		getProducers: getProducers,
		getConsumers: getConsumers,
		sendCompound: sendCompound,
		now:          now,
		logger:       NewLogger("RtcpScheduler"),
	}
}

// Start arms the scheduler's first tick. fire is invoked from the timer's
// own goroutine and is expected to re-enter the transport's single-threaded
// loop (it must not run concurrently with request handling).
func (s *RtcpScheduler) Start(fire func()) {
	s.alive = true
	s.fire = fire
	s.timer = time.AfterFunc(time.Duration(MaxVideoIntervalMs)*time.Millisecond, fire)
}

// Stop disarms the scheduler. Any pending fire that raced the stop becomes
// a no-op in Tick via the alive gate (§5 cancellation).
func (s *RtcpScheduler) Stop() {
	s.alive = false
	if s.timer != nil {
		s.timer.Stop()
	}
}

// Tick performs one scheduling pass and rearms the timer. It is meant to be
// invoked only from within the transport's single-threaded loop. A flush
// that overflows the RTCP buffer aborts the remainder of this tick's
// consumer/producer pass (§4.4 step 3, mirroring the legacy SendRtcp's
// early return), but the interval is still recomputed and the timer still
// rearmed — only this tick's reports are lost, not the schedule itself.
func (s *RtcpScheduler) Tick() {
	if !s.alive {
		return
	}

	now := s.now()
	compound := newRtcpCompound()

	aborted := false
	for _, consumer := range s.getConsumers() {
		consumer.getRtcp(compound, now)
		if compound.hasSender {
			if !s.flush(compound) {
				aborted = true
				break
			}
			compound = newRtcpCompound()
		}
	}

	if !aborted {
		for _, producer := range s.getProducers() {
			producer.getRtcp(compound, now)
		}
		if compound.hasReceive {
			s.flush(compound)
		}
	}

	interval := s.nextInterval()
	if s.alive {
		s.timer = time.AfterFunc(interval, s.fire)
	}
}

// flush serializes compound and emits it via the wire hook, reporting false
// without sending if it fails to marshal or exceeds the fixed buffer size
// (§4.4 step 3, §7.4). An empty compound is a no-op success.
func (s *RtcpScheduler) flush(compound *rtcpCompound) bool {
	if compound.empty() {
		return true
	}
	payload, err := compound.marshal()
	if err != nil {
		s.logger.Warn("failed to marshal rtcp compound packet: %s", err)
		return false
	}
	if len(payload) > RtcpBufferSize {
		s.logger.Warn("rtcp compound packet exceeds buffer size, dropping [size:%d]", len(payload))
		return false
	}
	s.sendCompound(payload)
	return true
}

// nextInterval computes the next RTCP interval per the 360_000/rate_kbps
// formula, clamped to MaxVideoIntervalMs and jittered (§4.4 step 6, P4).
func (s *RtcpScheduler) nextInterval() time.Duration {
	base := float64(MaxVideoIntervalMs)

	consumers := s.getConsumers()
	if len(consumers) > 0 {
		var totalBps uint32
		for _, c := range consumers {
			totalBps += c.currentSendRateBps()
		}
		if totalBps > 0 {
			rateKbps := float64(totalBps) / 1000
			computed := float64(RtcpBandwidthNumerator) / rateKbps
			if computed < base {
				base = computed
			}
		}
	}

	jittered := base * jitterFactor()
	return time.Duration(jittered) * time.Millisecond
}
