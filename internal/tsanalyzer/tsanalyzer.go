// Package tsanalyzer parses MPEG transport stream segments and computes
// the Priority-1/Priority-2 compliance indicators from spec.md §4.3: sync
// byte errors, continuity errors, transport errors, PAT integrity, PCR
// discontinuities, and SCTE-35 ad-signaling detection.
package tsanalyzer

const (
	packetSize     = 188
	syncByte       = 0x47
	pidNull        = 0x1FFF
	pidPAT         = 0x0000
	tableIDPAT     = 0x00
	tableIDSCTE35  = 0xFC
	pcrMaxJump27MH = 27_000_000 * 2 // 2 seconds of 27MHz ticks
)

// Metrics is the per-segment output of the analyzer (spec.md §3 "TS Metrics").
type Metrics struct {
	PacketCount        int64
	SyncByteErrors     int64
	ContinuityErrors   int64
	TransportErrors    int64
	PATErrors          int64
	PCRCount           int64
	PCRDiscontinuities int64
	NullPacketCount    int64
	PerPIDCounts       map[uint16]int64
	SCTE35PIDs         []uint16
	SCTE35Messages     int64
	SCTE35Events       []SCTE35Event
}

// SCTE35Event is one detected splice_info_section, carrying enough of the
// splice_info_section() header (SCTE-35 §9.2) to label the event without
// decoding the full splice command.
type SCTE35Event struct {
	PID               uint16
	SpliceCommandType byte
}

func newMetrics() *Metrics {
	return &Metrics{PerPIDCounts: make(map[uint16]int64)}
}

type pidState struct {
	hasCC    bool
	lastCC   uint8
	hasPCR   bool
	lastPCR  int64
}

// Analyzer holds per-PID state that must persist for the lifetime of a
// monitored stream (spec.md §4.3: "stateless across segments except for
// per-PID CC/PCR trackers maintained for the lifetime of the monitored
// stream"). Use one Analyzer per stream; it is not safe for concurrent
// use by multiple goroutines analyzing the same stream's segments out of
// order relative to sequence.
type Analyzer struct {
	pids map[uint16]*pidState
	scte map[uint16]bool
}

// New returns an Analyzer with empty per-PID state.
func New() *Analyzer {
	return &Analyzer{
		pids: make(map[uint16]*pidState),
		scte: make(map[uint16]bool),
	}
}

// Reset clears all per-PID continuity and PCR trackers.
func (a *Analyzer) Reset() {
	a.pids = make(map[uint16]*pidState)
	a.scte = make(map[uint16]bool)
}

// Analyze scans data as a sequence of 188-byte packets and returns the
// compliance metrics for this segment. A trailing partial packet is
// ignored. Analyze never returns an error: malformed packets increment
// the relevant error counter and parsing continues (spec.md §4.2/§4.3
// "parser is total").
func (a *Analyzer) Analyze(data []byte) *Metrics {
	m := newMetrics()
	a.scte = make(map[uint16]bool)

	n := len(data) / packetSize
	for i := 0; i < n; i++ {
		pkt := data[i*packetSize : (i+1)*packetSize]
		a.analyzePacket(pkt, m)
	}

	for pid := range a.scte {
		m.SCTE35PIDs = append(m.SCTE35PIDs, pid)
	}

	return m
}

func (a *Analyzer) analyzePacket(pkt []byte, m *Metrics) {
	if pkt[0] != syncByte {
		m.SyncByteErrors++
		return
	}

	m.PacketCount++

	tei := pkt[1]&0x80 != 0
	pusi := pkt[1]&0x40 != 0
	pid := uint16(pkt[1]&0x1F)<<8 | uint16(pkt[2])

	hasAdaptation := pkt[3]&0x20 != 0
	hasPayload := pkt[3]&0x10 != 0
	cc := pkt[3] & 0x0F

	if tei {
		m.TransportErrors++
	}

	if pid == pidNull {
		m.NullPacketCount++
		return
	}

	m.PerPIDCounts[pid]++

	a.checkContinuity(pid, cc, hasAdaptation, hasPayload, m)

	adaptationLen := -1
	if hasAdaptation {
		if len(pkt) < 5 {
			return
		}
		adaptationLen = int(pkt[4])
		a.checkPCR(pid, pkt, adaptationLen, m)
	}

	if !hasPayload {
		return
	}

	payloadStart := 4
	if hasAdaptation {
		payloadStart += 1 + adaptationLen
	}
	if payloadStart >= len(pkt) {
		return
	}
	payload := pkt[payloadStart:]

	if pid == pidPAT && pusi {
		a.checkPAT(payload, m)
	}

	if pusi {
		a.checkSCTE35(pid, payload, m)
	}
}

// checkContinuity implements spec.md §4.3: expected = (last+1) mod 16;
// a repeat of the last CC is a permitted duplicate, not an error.
func (a *Analyzer) checkContinuity(pid uint16, cc uint8, hasAdaptation, hasPayload bool, m *Metrics) {
	if !hasPayload && hasAdaptation {
		// Adaptation-field-only packets do not carry a meaningful CC.
		return
	}

	st, ok := a.pids[pid]
	if !ok {
		st = &pidState{}
		a.pids[pid] = st
	}

	if st.hasCC {
		expected := (st.lastCC + 1) % 16
		if cc != expected && cc != st.lastCC {
			m.ContinuityErrors++
		}
	}
	st.lastCC = cc
	st.hasCC = true
}

// checkPCR reconstructs the 33-bit PCR base from the adaptation field
// (bytes 6..10 of the packet, per spec.md §4.3) and flags discontinuities.
func (a *Analyzer) checkPCR(pid uint16, pkt []byte, adaptationLen int, m *Metrics) {
	if adaptationLen < 1 || len(pkt) < 5+adaptationLen {
		return
	}
	flags := pkt[5]
	hasPCR := flags&0x10 != 0
	if !hasPCR || adaptationLen < 7 {
		return
	}

	b := pkt[6:11]
	pcrBase := int64(b[0])<<25 | int64(b[1])<<17 | int64(b[2])<<9 | int64(b[3])<<1 | int64(b[4]>>7)

	m.PCRCount++

	st, ok := a.pids[pid]
	if !ok {
		st = &pidState{}
		a.pids[pid] = st
	}

	if st.hasPCR {
		diff := pcrBase - st.lastPCR
		// The base counts 90kHz ticks; ×300 converts to 27MHz ticks.
		if diff < 0 || diff*300 > pcrMaxJump27MH {
			m.PCRDiscontinuities++
		}
	}
	st.lastPCR = pcrBase
	st.hasPCR = true
}

func (a *Analyzer) checkPAT(payload []byte, m *Metrics) {
	if len(payload) < 2 {
		m.PATErrors++
		return
	}
	pointer := int(payload[0])
	if 1+pointer >= len(payload) {
		m.PATErrors++
		return
	}
	tableID := payload[1+pointer]
	if tableID != tableIDPAT {
		m.PATErrors++
	}
}

// checkSCTE35 detects a splice_info_section by its table_id and, when
// enough bytes are present, reads splice_command_type out of the fixed
// splice_info_section() header (table_id, section_length(2),
// protocol_version, encrypted_packet/algorithm/pts_adjustment(5),
// cw_index, tier/splice_command_length(3), splice_command_type) — 13
// bytes past the table_id byte (SCTE-35 §9.2).
func (a *Analyzer) checkSCTE35(pid uint16, payload []byte, m *Metrics) {
	if len(payload) < 2 {
		return
	}
	pointer := int(payload[0])
	if 1+pointer >= len(payload) {
		return
	}
	start := 1 + pointer
	tableID := payload[start]
	if tableID != tableIDSCTE35 {
		return
	}
	a.scte[pid] = true
	m.SCTE35Messages++

	evt := SCTE35Event{PID: pid}
	if cmdOffset := start + 13; cmdOffset < len(payload) {
		evt.SpliceCommandType = payload[cmdOffset]
	}
	m.SCTE35Events = append(m.SCTE35Events, evt)
}
