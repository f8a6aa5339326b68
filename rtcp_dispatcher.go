package transport

import (
	"github.com/pion/rtcp"
)

// RtcpDispatcher parses an inbound compound RTCP packet and routes each
// contained report or feedback message to the producer or consumer it
// concerns (§4.3). It never mutates producers/consumers directly; it is a
// router over the entities it is handed at construction time.
type RtcpDispatcher struct {
	rtpListener   *RtpListener
	getConsumer   func(ssrc uint32) *Consumer
	onRembBitrate func(bitrate uint32)
	logger        Logger
}

func NewRtcpDispatcher(rtpListener *RtpListener, getConsumer func(ssrc uint32) *Consumer, onRembBitrate func(bitrate uint32)) *RtcpDispatcher {
	return &RtcpDispatcher{
		rtpListener:   rtpListener,
		getConsumer:   getConsumer,
		onRembBitrate: onRembBitrate,
		logger:        NewLogger("RtcpDispatcher"),
	}
}

// Dispatch unmarshals raw and routes every packet it contains, in wire
// order, matching the single-threaded ordering guarantee of §5.
func (d *RtcpDispatcher) Dispatch(raw []byte) {
	packets, err := rtcp.Unmarshal(raw)
	if err != nil {
		d.logger.Warn("failed to unmarshal rtcp packet: %s", err)
		return
	}
	for _, packet := range packets {
		d.dispatchOne(packet)
	}
}

func (d *RtcpDispatcher) dispatchOne(packet rtcp.Packet) {
	switch p := packet.(type) {
	case *rtcp.ReceiverReport:
		d.receiveRtcpReceiverReport(p)
	case *rtcp.SenderReport:
		d.receiveRtcpSenderReport(p)
	case *rtcp.PictureLossIndication:
		d.receiveKeyFrameRequest(p.MediaSSRC, "PLI")
	case *rtcp.FullIntraRequest:
		for _, entry := range p.FIR {
			d.receiveKeyFrameRequest(entry.SSRC, "FIR")
		}
	case *rtcp.ReceiverEstimatedMaximumBitrate:
		if d.onRembBitrate != nil {
			d.onRembBitrate(uint32(p.Bitrate))
		}
	case *rtcp.TransportLayerNack:
		d.receiveNack(p)
	case *rtcp.SourceDescription:
		d.receiveSdes(p)
	case *rtcp.Goodbye:
		d.logger.Debug("bye received, ignored")
	default:
		d.logger.Warn("unhandled rtcp packet type: %T", packet)
	}
}

// receiveRtcpReceiverReport matches the legacy iteration contract verbatim:
// on the first report whose SSRC does not resolve to a started consumer,
// processing of the REMAINING reports in this RR stops (S6).
func (d *RtcpDispatcher) receiveRtcpReceiverReport(report *rtcp.ReceiverReport) {
	for _, r := range report.Reports {
		consumer := d.getConsumer(r.SSRC)
		if consumer == nil {
			d.logger.Warn("no consumer found for received receiver report [ssrc:%d]", r.SSRC)
			return
		}
		consumer.ReceiveRtcpReceiverReport(r)
	}
}

// receiveRtcpSenderReport is asymmetric with receiveRtcpReceiverReport by
// design: a miss logs and the loop continues onto the next report.
func (d *RtcpDispatcher) receiveRtcpSenderReport(report *rtcp.SenderReport) {
	producer := d.rtpListener.Get(report.SSRC)
	if producer == nil {
		d.logger.Warn("no producer found for received sender report [ssrc:%d]", report.SSRC)
		return
	}
	producer.ReceiveRtcpSenderReport(report)
}

func (d *RtcpDispatcher) receiveKeyFrameRequest(mediaSsrc uint32, messageType string) {
	consumer := d.getConsumer(mediaSsrc)
	if consumer == nil {
		d.logger.Warn("no consumer found for key frame request [ssrc:%d, type:%s]", mediaSsrc, messageType)
		return
	}
	consumer.RequestKeyFrame(messageType)
}

func (d *RtcpDispatcher) receiveNack(nack *rtcp.TransportLayerNack) {
	consumer := d.getConsumer(nack.MediaSSRC)
	if consumer == nil {
		d.logger.Warn("no consumer found for nack [ssrc:%d]", nack.MediaSSRC)
		return
	}
	consumer.ReceiveNack(nack)
}

// receiveSdes looks each chunk up for logging purposes only; nothing is
// delivered, preserved from the legacy worker as a documented no-op
// (open question 2).
func (d *RtcpDispatcher) receiveSdes(sdes *rtcp.SourceDescription) {
	for _, chunk := range sdes.Chunks {
		if d.rtpListener.Get(chunk.Source) == nil {
			d.logger.Debug("no producer found for sdes chunk [ssrc:%d]", chunk.Source)
			continue
		}
	}
}
