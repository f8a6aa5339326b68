package transport

import (
	"sync/atomic"

	"github.com/pion/rtp"
)

// TransportCore owns the producers and consumers of one peer connection: it
// dispatches inbound RTCP, schedules outbound RTCP, demultiplexes SSRCs to
// producers, and relays lifecycle events to the owning router. All methods
// below execute on a single internal goroutine so that request handling,
// RTCP dispatch, and timer fires are mutually exclusive by construction,
// matching the cooperative event-loop model the rest of the core assumes —
// no field here is ever touched from two goroutines at once (§5).
type TransportCore struct {
	IEventEmitter

	id       TransportId
	listener RouterListener
	wire     WireSender

	producers map[ProducerId]*Producer
	consumers map[ConsumerId]*Consumer

	rtpListener        *RtpListener
	headerExtensionIds HeaderExtensionIds

	maxIncomingBitrate       uint64
	availableOutgoingBitrate uint32

	dispatcher *RtcpDispatcher
	scheduler  *RtcpScheduler

	closed atomic.Bool

	loop chan func()
	done chan struct{}

	logger Logger
}

// NewTransportCore constructs a transport and starts its event loop. now
// supplies the monotonic clock the scheduler snapshots on each tick (§4.4
// step 1); callers typically pass time.Now().UnixMilli.
func NewTransportCore(id TransportId, listener RouterListener, wire WireSender, now func() int64) *TransportCore {
	t := &TransportCore{
		IEventEmitter: NewEventEmitter(),
		id:            id,
		listener:      listener,
		wire:          wire,
		producers:     make(map[ProducerId]*Producer),
		consumers:     make(map[ConsumerId]*Consumer),
		rtpListener:   NewRtpListener(),
		loop:          make(chan func(), 64),
		done:          make(chan struct{}),
		logger:        NewLogger("TransportCore"),
	}

	t.dispatcher = NewRtcpDispatcher(t.rtpListener, t.getStartedConsumer, t.onRembBitrate)
	t.scheduler = NewRtcpScheduler(t.producerReporters, t.consumerReporters, t.wire.SendRtcpCompoundPacket, now)

	go t.run()

	t.scheduler.Start(func() {
		t.enqueue(func() { t.scheduler.Tick() })
	})

	return t
}

func (t *TransportCore) Id() TransportId { return t.id }

func (t *TransportCore) run() {
	for fn := range t.loop {
		fn()
	}
	close(t.done)
}

// enqueue schedules fn to run on the transport's loop goroutine. Calls
// after Close are dropped, modeling the "pending timer callback after
// Close is a no-op" requirement (§5 cancellation).
func (t *TransportCore) enqueue(fn func()) {
	if t.closed.Load() {
		return
	}
	t.loop <- fn
}

// call runs fn on the loop goroutine and blocks until it has completed,
// giving external callers (the router, the wire) the same run-to-completion
// semantics the spec assumes of every entry point.
func (t *TransportCore) call(fn func()) {
	if t.closed.Load() {
		return
	}
	done := make(chan struct{})
	t.loop <- func() {
		fn()
		close(done)
	}
	<-done
}

func (t *TransportCore) producerList() []*Producer {
	out := make([]*Producer, 0, len(t.producers))
	for _, p := range t.producers {
		out = append(out, p)
	}
	return out
}

func (t *TransportCore) consumerList() []*Consumer {
	out := make([]*Consumer, 0, len(t.consumers))
	for _, c := range t.consumers {
		out = append(out, c)
	}
	return out
}

// producerReporters and consumerReporters adapt the concrete registries to
// the interfaces RtcpScheduler depends on, so Tick's control flow can be
// exercised against test doubles independent of the real RTCP stack.
func (t *TransportCore) producerReporters() []producerReporter {
	list := t.producerList()
	out := make([]producerReporter, len(list))
	for i, p := range list {
		out[i] = p
	}
	return out
}

func (t *TransportCore) consumerReporters() []consumerReporter {
	list := t.consumerList()
	out := make([]consumerReporter, len(list))
	for i, c := range list {
		out[i] = c
	}
	return out
}

// getStartedConsumer scans consumers for a started one matching ssrc across
// its primary/rtx/fec streams (§4.3 "Consumer reverse lookup").
func (t *TransportCore) getStartedConsumer(ssrc uint32) *Consumer {
	for _, c := range t.consumers {
		if !c.Started() {
			continue
		}
		if c.MatchesSsrc(ssrc) {
			return c
		}
	}
	return nil
}

func (t *TransportCore) onRembBitrate(bitrate uint32) {
	t.availableOutgoingBitrate = bitrate
}

// ReceiveRtcpPacket routes one inbound compound RTCP packet through the
// dispatcher. Meant to be called from the wire layer once a packet has been
// decrypted.
func (t *TransportCore) ReceiveRtcpPacket(raw []byte) {
	t.call(func() {
		t.dispatcher.Dispatch(raw)
	})
}

// ReceiveRtpPacket demuxes one inbound RTP packet to its owning producer by
// SSRC (§4.2) and relays it to the router listener. Meant to be called from
// the wire layer once a packet has been decrypted. A packet whose SSRC
// resolves to no producer is logged and dropped.
func (t *TransportCore) ReceiveRtpPacket(raw []byte) {
	var header rtp.Header
	if _, err := header.Unmarshal(raw); err != nil {
		t.logger.Warn("failed to unmarshal rtp packet: %s", err)
		return
	}
	t.call(func() {
		producer := t.rtpListener.Get(header.SSRC)
		if producer == nil {
			t.logger.Warn("no producer found for received rtp packet [ssrc:%d]", header.SSRC)
			return
		}
		t.listener.OnTransportProducerRtpPacketReceived(t, producer, raw)
	})
}

// HandleRequest dispatches a Channel request by method tag (§4.1). All
// validation failures reject without mutating state; all successes accept.
func (t *TransportCore) HandleRequest(req *Request) {
	if t.closed.Load() {
		req.Reject(ErrTransportClosed.Error())
		return
	}
	t.call(func() {
		t.handleRequest(req)
	})
}

func (t *TransportCore) handleRequest(req *Request) {
	switch req.Method {
	case MethodTransportSetMaxIncomingBitrate:
		if req.Bitrate == nil {
			req.Reject(ErrMissingField.Error() + ": data.bitrate")
			return
		}
		bitrate := *req.Bitrate
		if bitrate < MinIncomingBitrate {
			bitrate = MinIncomingBitrate
		}
		t.maxIncomingBitrate = bitrate
		req.Accept()

	case MethodProducerClose:
		producer, ok := t.producers[req.ProducerId]
		if !ok {
			req.Reject(ErrProducerNotFound.Error())
			return
		}
		t.closeProducer(producer)
		req.Accept()

	case MethodConsumerClose:
		consumer, ok := t.consumers[req.ConsumerId]
		if !ok {
			req.Reject(ErrConsumerNotFound.Error())
			return
		}
		t.closeConsumer(consumer)
		req.Accept()

	default:
		req.Reject(ErrInvalidMethod.Error())
	}
}

// RegisterProducer installs producer into the rtpListener and producer map,
// merging its header extension ids into the transport's running union, and
// subscribes to its pause/resume/stream-enabled/stream-disabled observer
// events so they are relayed to the router listener verbatim (§4.1
// "Registering entities", §4.5, invariant 1/5).
func (t *TransportCore) RegisterProducer(producer *Producer) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	var err error
	t.call(func() {
		if _, exists := t.producers[producer.Id()]; exists {
			err = ErrProducerIdTaken
			return
		}
		if aerr := t.rtpListener.AddProducer(producer); aerr != nil {
			err = aerr
			return
		}
		t.producers[producer.Id()] = producer
		t.headerExtensionIds.merge(producer.headerExtIds)

		producer.On("pause", func() { t.listener.OnTransportProducerPaused(t, producer) })
		producer.On("resume", func() { t.listener.OnTransportProducerResumed(t, producer) })
		producer.On("streamenabled", func(rtpStream interface{}, mappedSsrc uint32) {
			t.listener.OnTransportProducerStreamEnabled(t, producer, rtpStream, mappedSsrc)
		})
		producer.On("streamdisabled", func(rtpStream interface{}, mappedSsrc uint32) {
			t.listener.OnTransportProducerStreamDisabled(t, producer, rtpStream, mappedSsrc)
		})
	})
	return err
}

// RegisterConsumer installs consumer into the consumer map and subscribes
// to its "keyframerequested" observer event so every PLI/FIR the
// RtcpDispatcher delivers is relayed to the router listener (§4.5). If the
// transport is already connected and the consumer carries video, a key
// frame is also requested immediately (§4.1 "Registering entities").
func (t *TransportCore) RegisterConsumer(consumer *Consumer) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	var err error
	t.call(func() {
		if _, exists := t.consumers[consumer.Id()]; exists {
			err = ErrConsumerIdTaken
			return
		}
		t.consumers[consumer.Id()] = consumer
		consumer.On("keyframerequested", func(string) {
			t.listener.OnTransportConsumerKeyFrameRequested(t, consumer)
		})
		if t.wire.IsConnected() && consumer.Kind() == MediaKind_Video {
			t.listener.OnTransportConsumerKeyFrameRequested(t, consumer)
		}
	})
	return err
}

// closeProducer removes producer from both the rtpListener and producer
// map, notifying the router listener before destruction (invariant 6, P5).
func (t *TransportCore) closeProducer(producer *Producer) {
	t.rtpListener.RemoveProducer(producer)
	delete(t.producers, producer.Id())
	t.listener.OnTransportProducerClosed(t, producer)
	producer.close()
}

func (t *TransportCore) closeConsumer(consumer *Consumer) {
	delete(t.consumers, consumer.Id())
	t.listener.OnTransportConsumerClosed(t, consumer)
	consumer.close()
}

// Close tears down every producer and consumer, notifying the router
// listener for each before destruction, then stops the RTCP timer. Calling
// Close on an already-empty transport performs no listener callbacks and
// still stops the timer (P8). The transport must not be used afterward.
func (t *TransportCore) Close() {
	t.call(func() {
		for _, producer := range t.producers {
			t.listener.OnTransportProducerClosed(t, producer)
			producer.close()
		}
		for _, consumer := range t.consumers {
			t.listener.OnTransportConsumerClosed(t, consumer)
			consumer.close()
		}
		t.producers = make(map[ProducerId]*Producer)
		t.consumers = make(map[ConsumerId]*Consumer)
		t.rtpListener = NewRtpListener()
		t.scheduler.Stop()
		t.closed.Store(true)
	})
	close(t.loop)
	<-t.done
}

// SendRtpPacket relays a consumer's outbound RTP packet directly to the
// wire hook (§4.5, one of the two un-relayed direct-send events).
func (t *TransportCore) SendRtpPacket(consumer *Consumer, payload []byte) {
	t.wire.SendRtpPacket(consumer, payload)
}

// SendProducerRtcpPacket relays a producer's outbound RTCP packet directly
// to the wire hook (§4.5).
func (t *TransportCore) SendProducerRtcpPacket(payload []byte) {
	t.wire.SendRtcpPacket(payload)
}
