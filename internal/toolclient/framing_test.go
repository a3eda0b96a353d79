package toolclient

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectParser() (*frameParser, *[][]byte, *[][]byte) {
	var messages, stray [][]byte
	parser := newFrameParser(
		func(msg []byte) { messages = append(messages, append([]byte{}, msg...)) },
		func(s []byte) { stray = append(stray, append([]byte{}, s...)) },
	)
	return parser, &messages, &stray
}

func frame(payload string) string {
	return fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(payload), payload)
}

func TestParseContentLengthFrame(t *testing.T) {
	parser, messages, _ := collectParser()

	parser.Feed([]byte(frame(`{"jsonrpc":"2.0","id":1,"result":{}}`)))

	require.Len(t, *messages, 1)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{}}`, string((*messages)[0]))
}

func TestParseSplitAcrossChunks(t *testing.T) {
	parser, messages, _ := collectParser()

	full := frame(`{"jsonrpc":"2.0","id":7,"result":"ok"}`)
	for i := 0; i < len(full); i += 5 {
		end := i + 5
		if end > len(full) {
			end = len(full)
		}
		parser.Feed([]byte(full[i:end]))
	}

	require.Len(t, *messages, 1)
}

func TestParseMultipleFramesInOneChunk(t *testing.T) {
	parser, messages, _ := collectParser()

	parser.Feed([]byte(frame(`{"id":1}`) + frame(`{"id":2}`)))

	require.Len(t, *messages, 2)
	assert.JSONEq(t, `{"id":1}`, string((*messages)[0]))
	assert.JSONEq(t, `{"id":2}`, string((*messages)[1]))
}

func TestParseNewlineDelimited(t *testing.T) {
	parser, messages, _ := collectParser()

	parser.Feed([]byte(`{"jsonrpc":"2.0","id":1,"result":1}` + "\n" + `{"jsonrpc":"2.0","id":2,"result":2}` + "\n"))

	require.Len(t, *messages, 2)
}

func TestParseMixedStrayAndFramed(t *testing.T) {
	parser, messages, stray := collectParser()

	parser.Feed([]byte("server starting up...\n"))
	parser.Feed([]byte(frame(`{"id":3}`)))

	require.Len(t, *messages, 1)
	require.Len(t, *stray, 1)
	assert.Contains(t, string((*stray)[0]), "server starting up")
}

func TestParseDropsMalformedFrameBody(t *testing.T) {
	parser, messages, _ := collectParser()

	bad := "not json!!"
	parser.Feed([]byte(fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(bad), bad)))
	parser.Feed([]byte(frame(`{"id":4}`)))

	require.Len(t, *messages, 1)
	assert.JSONEq(t, `{"id":4}`, string((*messages)[0]))
}

func TestParseLenientNewlineSeparator(t *testing.T) {
	parser, messages, _ := collectParser()

	payload := `{"id":9}`
	parser.Feed([]byte(fmt.Sprintf("Content-Length: %d\n\n%s", len(payload), payload)))

	require.Len(t, *messages, 1)
}

func TestFlushParsesTrailingLine(t *testing.T) {
	parser, messages, _ := collectParser()

	parser.Feed([]byte(`{"id":5}`))
	require.Empty(t, *messages)

	parser.Flush()
	require.Len(t, *messages, 1)
}

func TestWriteFrameContentLength(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, newRequest(1, "initialize", nil), FramingContentLength))

	out := buf.String()
	assert.Contains(t, out, "Content-Length: ")
	assert.Contains(t, out, "\r\n\r\n")

	// Round-trip through the parser.
	parser, messages, _ := collectParser()
	parser.Feed(buf.Bytes())
	require.Len(t, *messages, 1)
}

func TestWriteFrameNewline(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeFrame(&buf, newRequest(2, "tools/list", nil), FramingNewline))

	out := buf.String()
	assert.NotContains(t, out, "Content-Length")
	assert.True(t, out[len(out)-1] == '\n')
}
