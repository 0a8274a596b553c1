package service

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
)

// ErrMalformedFragment is reported when buffered video holds no start code
var ErrMalformedFragment = errors.New("malformed video fragment")

const (
	nalTypeIDR = 5
	nalTypeSPS = 7
	nalTypePPS = 8

	// a NAL larger than this is flushed without waiting for the next start code
	maxNALWait = 100 * 1024
	// buffered bytes without any start code are dropped past this size
	maxPendingVideo = 1024 * 1024
)

// VideoSink receives complete Annex-B NAL units (start code included)
type VideoSink interface {
	WriteNAL(nal []byte) error
}

// VideoPresenter splits the raw H.264 fragments of one connect attempt into
// NAL units and fans them out to attached sinks. The latest SPS/PPS/IDR are
// cached so a sink attaching mid-stream can decode immediately.
type VideoPresenter struct {
	serial  string
	onFault func(error)

	mu       sync.Mutex
	running  bool
	ready    bool
	onReady  func()
	accBuf   []byte
	spsPkt   []byte
	ppsPkt   []byte
	idrPkt   []byte
	sinks    map[string]VideoSink
	nalCount int
}

// NewVideoPresenter creates a stopped presenter. onFault receives non-fatal
// decoder-level errors and may be nil.
func NewVideoPresenter(serial string, onFault func(error)) *VideoPresenter {
	return &VideoPresenter{
		serial:  serial,
		onFault: onFault,
		sinks:   make(map[string]VideoSink),
	}
}

// Start creates a fresh pipeline, discarding anything from a previous attempt
func (p *VideoPresenter) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
	p.resetLocked()
	log.Debugf("[%s] Video pipeline started", p.serial)
}

// Stop tears the pipeline down. Sinks stay attached for the next attempt.
func (p *VideoPresenter) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.running = false
	log.Debugf("[%s] Video pipeline stopped after %d NALs", p.serial, p.nalCount)
	p.resetLocked()
}

func (p *VideoPresenter) resetLocked() {
	p.accBuf = make([]byte, 0, 1024*1024)
	p.spsPkt, p.ppsPkt, p.idrPkt = nil, nil, nil
	p.nalCount = 0
	p.ready = false
}

// OnReady sets the callback run once per attempt when the decoder
// configuration (SPS and PPS) has been seen
func (p *VideoPresenter) OnReady(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onReady = fn
}

// Ready reports whether the current attempt has produced SPS and PPS
func (p *VideoPresenter) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

func (p *VideoPresenter) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Feed accepts one fragment as received from the transport.
// Fragments arriving while stopped are ignored.
func (p *VideoPresenter) Feed(fragment []byte) {
	if len(fragment) == 0 {
		return
	}

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}

	p.accBuf = append(p.accBuf, fragment...)

	var nals [][]byte
	for {
		nal, remaining := nextNAL(p.accBuf)
		p.accBuf = remaining
		if nal == nil {
			break
		}
		nal = append([]byte(nil), nal...)
		p.cacheLocked(nal)
		nals = append(nals, nal)
	}

	var fault error
	if len(p.accBuf) > maxPendingVideo && !hasStartCode(p.accBuf) {
		fault = fmt.Errorf("%w: %d bytes without start code", ErrMalformedFragment, len(p.accBuf))
		p.accBuf = p.accBuf[:0]
	}
	p.nalCount += len(nals)
	if p.nalCount > 0 && p.nalCount == len(nals) {
		log.Infof("[%s] First NAL received (%d bytes)", p.serial, len(nals[0]))
	}
	var ready func()
	if !p.ready && p.spsPkt != nil && p.ppsPkt != nil {
		p.ready = true
		ready = p.onReady
	}
	sinks := p.sinkSnapshotLocked()
	p.mu.Unlock()

	if fault != nil {
		p.fault(fault)
	}
	for _, nal := range nals {
		p.deliver(sinks, nal)
	}
	if ready != nil {
		ready()
	}
}

// Attach registers a sink and primes it with the cached stream headers
func (p *VideoPresenter) Attach(id string, sink VideoSink) {
	p.mu.Lock()
	p.sinks[id] = sink
	var headers [][]byte
	for _, pkt := range [][]byte{p.spsPkt, p.ppsPkt, p.idrPkt} {
		if pkt != nil {
			headers = append(headers, pkt)
		}
	}
	p.mu.Unlock()

	for _, pkt := range headers {
		if err := sink.WriteNAL(pkt); err != nil {
			p.Detach(id)
			p.fault(fmt.Errorf("prime sink %s: %w", id, err))
			return
		}
	}
}

func (p *VideoPresenter) Detach(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.sinks, id)
}

// StreamHeaders returns copies of the cached SPS, PPS and last IDR
func (p *VideoPresenter) StreamHeaders() (sps, pps, idr []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneBytes(p.spsPkt), cloneBytes(p.ppsPkt), cloneBytes(p.idrPkt)
}

func (p *VideoPresenter) NALCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nalCount
}

func (p *VideoPresenter) cacheLocked(nal []byte) {
	switch nalType(nal) {
	case nalTypeSPS:
		p.spsPkt = nal
	case nalTypePPS:
		p.ppsPkt = nal
	case nalTypeIDR:
		p.idrPkt = nal
	}
}

func (p *VideoPresenter) sinkSnapshotLocked() map[string]VideoSink {
	out := make(map[string]VideoSink, len(p.sinks))
	for id, s := range p.sinks {
		out[id] = s
	}
	return out
}

func (p *VideoPresenter) deliver(sinks map[string]VideoSink, nal []byte) {
	for id, sink := range sinks {
		if err := sink.WriteNAL(nal); err != nil {
			p.Detach(id)
			delete(sinks, id)
			p.fault(fmt.Errorf("sink %s: %w", id, err))
		}
	}
}

func (p *VideoPresenter) fault(err error) {
	log.Warnf("[%s] Video error: %v", p.serial, err)
	if p.onFault != nil {
		p.onFault(err)
	}
}

var annexBStartCode = []byte{0x00, 0x00, 0x01}

// nextStartCode finds the first Annex-B start code at or after from and
// returns its offset and length (3, or 4 for the 00 00 00 01 form)
func nextStartCode(buf []byte, from int) (int, int) {
	if from >= len(buf) {
		return -1, 0
	}
	i := bytes.Index(buf[from:], annexBStartCode)
	if i < 0 {
		return -1, 0
	}
	i += from
	if i > from && buf[i-1] == 0 {
		return i - 1, 4
	}
	return i, 3
}

// nextNAL cuts the first complete NAL unit, start code included, off buf.
// Bytes before the first start code are dropped. A unit with no following
// start code is held back until it grows past maxNALWait.
func nextNAL(buf []byte) (nal, rest []byte) {
	if len(buf) < 4 {
		return nil, buf
	}
	start, size := nextStartCode(buf, 0)
	if start < 0 {
		return nil, buf
	}
	if end, _ := nextStartCode(buf, start+size); end > 0 {
		return buf[start:end], buf[end:]
	}
	if len(buf)-start > maxNALWait {
		return buf[start:], nil
	}
	return nil, buf[start:]
}

func hasStartCode(buf []byte) bool {
	i, _ := nextStartCode(buf, 0)
	return i >= 0
}

func nalType(nal []byte) int {
	if len(nal) >= 4 && nal[0] == 0 && nal[1] == 0 {
		if nal[2] == 1 {
			return int(nal[3] & 0x1F)
		}
		if nal[2] == 0 && nal[3] == 1 && len(nal) > 4 {
			return int(nal[4] & 0x1F)
		}
	}
	return -1
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
