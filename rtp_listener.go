package transport

// RtpListener maps SSRC to Producer, used to resolve inbound Sender Reports
// and SDES chunks to their source. It is mutated only by TransportCore
// during registerProducer / producer close / Close; lookups are read-only
// (§4.2).
type RtpListener struct {
	ssrcTable map[uint32]*Producer
}

func NewRtpListener() *RtpListener {
	return &RtpListener{ssrcTable: make(map[uint32]*Producer)}
}

// AddProducer indexes every primary SSRC declared by producer. It fails
// without mutating state if any SSRC collides with an already-registered
// producer (invariant 1 / P1), matching the legacy AddProducer contract
// where the caller must not insert into the producer registry on error.
func (l *RtpListener) AddProducer(producer *Producer) error {
	ssrcs := producer.Ssrcs()
	for _, ssrc := range ssrcs {
		if _, ok := l.ssrcTable[ssrc]; ok {
			return ErrSsrcAlreadyInUse
		}
	}
	for _, ssrc := range ssrcs {
		l.ssrcTable[ssrc] = producer
	}
	return nil
}

// RemoveProducer drops every SSRC entry pointing at producer. Safe to call
// even if some SSRCs were never registered.
func (l *RtpListener) RemoveProducer(producer *Producer) {
	for _, ssrc := range producer.Ssrcs() {
		if p, ok := l.ssrcTable[ssrc]; ok && p == producer {
			delete(l.ssrcTable, ssrc)
		}
	}
}

// Get resolves ssrc to its owning producer, or nil if unmapped.
func (l *RtpListener) Get(ssrc uint32) *Producer {
	return l.ssrcTable[ssrc]
}
