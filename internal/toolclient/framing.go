package toolclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Framing selects the wire framing for stdio transports.
type Framing string

const (
	// FramingContentLength frames each message with a Content-Length header
	// followed by a blank line, per the LSP/MCP convention. This is the
	// default.
	FramingContentLength Framing = "content-length"

	// FramingNewline emits one JSON object per newline-terminated line.
	FramingNewline Framing = "newline"
)

const contentLengthHeader = "Content-Length:"

// writeFrame encodes a message and writes it with the given framing.
func writeFrame(w io.Writer, msg *rpcMessage, framing Framing) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	if framing == FramingNewline {
		payload = append(payload, '\n')
		_, err = w.Write(payload)
		return err
	}

	if _, err := fmt.Fprintf(w, "%s %d\r\n\r\n", contentLengthHeader, len(payload)); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// frameParser incrementally extracts JSON messages from a byte stream. It
// accepts both framings leniently: a Content-Length header is honored when
// found; residual bytes are split on newlines and each line is parsed as
// JSON. Lines that are not JSON are reported as stray output. Malformed
// frames are dropped.
type frameParser struct {
	buf       []byte
	onMessage func([]byte)
	onStray   func([]byte)
}

func newFrameParser(onMessage, onStray func([]byte)) *frameParser {
	return &frameParser{onMessage: onMessage, onStray: onStray}
}

// Feed appends data and emits every complete message it contains.
func (p *frameParser) Feed(data []byte) {
	p.buf = append(p.buf, data...)

	for {
		idx := bytes.Index(p.buf, []byte(contentLengthHeader))
		if idx < 0 {
			p.consumeLines(len(p.buf))
			return
		}

		// Everything before the header is line-delimited residue.
		p.consumeLines(idx)

		idx = bytes.Index(p.buf, []byte(contentLengthHeader))
		if idx > 0 {
			// Unterminated text directly before a header cannot become a
			// message; surface it as stray output and resync.
			if p.onStray != nil {
				p.onStray(append([]byte{}, p.buf[:idx]...))
			}
			p.buf = p.buf[idx:]
		}

		headerEnd := bytes.Index(p.buf, []byte("\r\n\r\n"))
		sepLen := 4
		if headerEnd < 0 {
			headerEnd = bytes.Index(p.buf, []byte("\n\n"))
			sepLen = 2
		}
		if headerEnd < 0 {
			return // incomplete header
		}

		lengthText := strings.TrimSpace(string(p.buf[len(contentLengthHeader):headerEnd]))
		length, err := strconv.Atoi(lengthText)
		if err != nil || length < 0 {
			// Unparseable header, drop the header line and resync.
			p.buf = p.buf[headerEnd+sepLen:]
			continue
		}

		bodyStart := headerEnd + sepLen
		if len(p.buf) < bodyStart+length {
			return // incomplete body
		}

		body := make([]byte, length)
		copy(body, p.buf[bodyStart:bodyStart+length])
		p.buf = p.buf[bodyStart+length:]

		if json.Valid(body) {
			p.onMessage(body)
		}
	}
}

// consumeLines processes complete newline-terminated lines within the first n
// bytes of the buffer, treating valid JSON lines as messages and everything
// else as stray output. Incomplete trailing data stays buffered.
func (p *frameParser) consumeLines(n int) {
	region := p.buf[:n]
	lastNewline := bytes.LastIndexByte(region, '\n')
	if lastNewline < 0 {
		return
	}

	lines := bytes.Split(region[:lastNewline+1], []byte("\n"))
	for _, line := range lines {
		line = bytes.TrimSpace(bytes.TrimSuffix(line, []byte("\r")))
		if len(line) == 0 {
			continue
		}
		if (line[0] == '{' || line[0] == '[') && json.Valid(line) {
			p.onMessage(line)
		} else if p.onStray != nil {
			p.onStray(append(line, '\n'))
		}
	}

	p.buf = p.buf[lastNewline+1:]
}

// Flush treats any buffered remainder as a final line. Called on stream end.
func (p *frameParser) Flush() {
	if len(p.buf) == 0 {
		return
	}
	line := bytes.TrimSpace(p.buf)
	p.buf = nil
	if len(line) == 0 {
		return
	}
	if (line[0] == '{' || line[0] == '[') && json.Valid(line) {
		p.onMessage(line)
	} else if p.onStray != nil {
		p.onStray(line)
	}
}
