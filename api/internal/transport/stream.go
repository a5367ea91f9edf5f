package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	"answer-ocr/api/internal/errs"
)

// Message is the non-streamed messages-API response object. A reassembled
// stream is encoded into exactly this shape.
type Message struct {
	ID         string         `json:"id,omitempty"`
	Type       string         `json:"type"`
	Role       string         `json:"role"`
	Model      string         `json:"model"`
	Content    []ContentBlock `json:"content"`
	StopReason string         `json:"stop_reason,omitempty"`
	Usage      Usage          `json:"usage"`

	// Skipped counts malformed event lines dropped during reassembly.
	Skipped int `json:"-"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Text concatenates all text blocks.
func (m Message) Text() string {
	var b bytes.Buffer
	for _, c := range m.Content {
		if c.Type == "text" || c.Type == "" {
			b.WriteString(c.Text)
		}
	}
	return b.String()
}

type streamEvent struct {
	Type    string `json:"type"`
	Message *struct {
		ID    string `json:"id"`
		Model string `json:"model"`
		Usage Usage  `json:"usage"`
	} `json:"message,omitempty"`
	Delta *struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

const maxEventLine = 1 << 20

// Reassemble reads an event stream until its terminator (or EOF) and returns
// the equivalent complete message. Malformed lines are skipped and counted.
func Reassemble(r io.Reader) (Message, error) {
	msg := Message{Type: "message", Role: "assistant"}
	var text bytes.Buffer

	br := bufio.NewReaderSize(r, 64<<10)

	finish := func() Message {
		msg.Content = []ContentBlock{{Type: "text", Text: text.String()}}
		return msg
	}

	for {
		raw, tooLong, err := readLine(br)
		if tooLong {
			msg.Skipped++
		}
		if err != nil {
			if err == io.EOF {
				return finish(), nil
			}
			return finish(), err
		}
		line := bytes.TrimSpace(raw)
		data, ok := eventData(line)
		if !ok {
			continue
		}
		if string(data) == "[DONE]" {
			return finish(), nil
		}

		var ev streamEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			msg.Skipped++
			continue
		}

		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				msg.ID = ev.Message.ID
				msg.Model = ev.Message.Model
				msg.Usage.InputTokens = ev.Message.Usage.InputTokens
			}
		case "content_block_delta":
			if ev.Delta != nil && (ev.Delta.Type == "text_delta" || ev.Delta.Type == "") {
				text.WriteString(ev.Delta.Text)
			}
		case "message_delta":
			if ev.Usage != nil {
				msg.Usage.OutputTokens = ev.Usage.OutputTokens
			}
			if ev.Delta != nil && ev.Delta.StopReason != "" {
				msg.StopReason = ev.Delta.StopReason
			}
		case "message_stop":
			return finish(), nil
		case "error":
			m := "stream error"
			if ev.Error != nil {
				m = ev.Error.Type + ": " + ev.Error.Message
			}
			return finish(), errs.New("", errs.KindServer, m)
		}
	}
}

// readLine returns the next line without its terminator. A line longer than
// maxEventLine is drained and reported as tooLong with an empty body, so one
// oversized event never ends the stream. The final unterminated line is
// returned with a nil error; io.EOF comes only after it.
func readLine(br *bufio.Reader) (line []byte, tooLong bool, err error) {
	var buf []byte
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > maxEventLine {
				tooLong, buf = true, nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch {
		case err == bufio.ErrBufferFull:
			continue
		case err == io.EOF && (len(buf) > 0 || tooLong):
			return buf, tooLong, nil
		case err != nil:
			return nil, tooLong, err
		}
		return buf, tooLong, nil
	}
}

// eventData extracts the JSON payload of an SSE "data:" line or a bare JSON
// line. Event names, comments and blank lines report false.
func eventData(line []byte) ([]byte, bool) {
	switch {
	case len(line) == 0:
		return nil, false
	case bytes.HasPrefix(line, []byte("data:")):
		return bytes.TrimSpace(line[len("data:"):]), true
	case line[0] == '{':
		return line, true
	default:
		return nil, false
	}
}
