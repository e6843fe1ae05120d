package hsapi

import (
	"fmt"
	"net/http"
	"net/textproto"
)

// headerState is the field-then-value state machine described in spec.md
// §4.1: transitions trigger on the first value byte after a field and the
// first field byte after a value. A streaming Fetcher can feed header lines
// through this machine as they arrive off the wire; this module's reference
// Fetcher (fetcher.go) reads a whole response at once via net/http and then
// replays its header lines through the machine. It has no streaming path of
// its own.
type headerState int

const (
	stateField headerState = iota
	stateValue
	stateDone
)

// incrementalHeaderParser accumulates header bytes and reports field/value
// transitions. It does not itself do I/O; callers feed it CRLF-stripped
// lines (e.g. from a bufio.Reader) through FeedLine and read back a
// completed http.Header once Done() is true.
type incrementalHeaderParser struct {
	state       headerState
	header      http.Header
	fieldBuf    []byte
	valueBuf    []byte
	sawAnyField bool
	err         error
}

func newIncrementalHeaderParser() *incrementalHeaderParser {
	return &incrementalHeaderParser{state: stateField, header: http.Header{}}
}

// FeedLine processes one CRLF-stripped header line. An empty line ends the
// header block (transition to stateDone). Malformed lines (no colon) put the
// parser into an error state; the caller must then report a transport error
// with message "Invalid response from homeserver" per spec.md §4.1.
func (p *incrementalHeaderParser) FeedLine(line string) {
	if p.state == stateDone || p.err != nil {
		return
	}
	if line == "" {
		p.flush()
		p.state = stateDone
		return
	}
	idx := -1
	for i := 0; i < len(line); i++ {
		if line[i] == ':' {
			idx = i
			break
		}
	}
	if idx <= 0 {
		p.err = fmt.Errorf("invalid header line: %q", line)
		return
	}
	// A new field begins: flush any in-progress value first (field-then-value
	// transition described in spec.md §4.1).
	p.flush()
	p.state = stateValue
	p.sawAnyField = true
	p.fieldBuf = []byte(textproto.TrimString(line[:idx]))
	p.valueBuf = []byte(textproto.TrimString(line[idx+1:]))
}

func (p *incrementalHeaderParser) flush() {
	if len(p.fieldBuf) == 0 {
		return
	}
	canon := textproto.CanonicalMIMEHeaderKey(string(p.fieldBuf))
	p.header.Add(canon, string(p.valueBuf))
	p.fieldBuf = nil
	p.valueBuf = nil
	p.state = stateField
}

func (p *incrementalHeaderParser) Done() bool { return p.state == stateDone }
func (p *incrementalHeaderParser) Err() error  { return p.err }
func (p *incrementalHeaderParser) Header() http.Header {
	return p.header
}
