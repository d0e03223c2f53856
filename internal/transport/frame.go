package transport

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/roach88/tempo/internal/message"
)

// The legacy raw-socket transport frames operations as delimited text:
//
//	VERSION§LENGTH§OPCODE§arg1§arg2...
//
// where LENGTH is the byte length of everything after the LENGTH field.
// The codec here encodes and decodes those frames so a reimplemented
// socket transport stays interoperable; the relay semantics are the same
// regardless of wire encoding.

// FrameVersion is the only protocol version this codec speaks.
const FrameVersion = 1

// frameSep separates frame fields. Arguments must not contain it.
const frameSep = "§"

// Opcode names a legacy wire operation.
type Opcode string

const (
	// OpcodeNewMessage submits a message to the relay
	// (args: sender, recipient, body, timestamp).
	OpcodeNewMessage Opcode = "NEW_MESSAGE"

	// OpcodeReceivedMessage pushes a delivered message to a recipient
	// (args: sender, recipient, body, timestamp).
	OpcodeReceivedMessage Opcode = "RECEIVED_MESSAGE"
)

// Frame decode errors.
var (
	ErrFrameTooShort      = errors.New("frame has fewer than three fields")
	ErrFrameVersion       = errors.New("unsupported frame version")
	ErrFrameLength        = errors.New("frame length mismatch")
	ErrFrameArgsDelimiter = errors.New("frame argument contains the field delimiter")
)

// Frame is one decoded legacy wire frame.
type Frame struct {
	Version int
	Opcode  Opcode
	Args    []string
}

// Encode renders the frame as delimited text. It fails if any argument
// contains the field delimiter, which the format cannot escape.
func (f Frame) Encode() (string, error) {
	for _, arg := range f.Args {
		if strings.Contains(arg, frameSep) {
			return "", fmt.Errorf("%w: %q", ErrFrameArgsDelimiter, arg)
		}
	}

	payload := string(f.Opcode)
	if len(f.Args) > 0 {
		payload += frameSep + strings.Join(f.Args, frameSep)
	}
	return fmt.Sprintf("%d%s%d%s%s", FrameVersion, frameSep, len(payload), frameSep, payload), nil
}

// DecodeFrame parses delimited text into a Frame, validating version and
// declared length.
func DecodeFrame(raw string) (Frame, error) {
	parts := strings.SplitN(raw, frameSep, 3)
	if len(parts) < 3 {
		return Frame{}, ErrFrameTooShort
	}

	version, err := strconv.Atoi(parts[0])
	if err != nil {
		return Frame{}, fmt.Errorf("parse frame version %q: %w", parts[0], err)
	}
	if version != FrameVersion {
		return Frame{}, fmt.Errorf("%w: %d", ErrFrameVersion, version)
	}

	length, err := strconv.Atoi(parts[1])
	if err != nil {
		return Frame{}, fmt.Errorf("parse frame length %q: %w", parts[1], err)
	}
	payload := parts[2]
	if len(payload) != length {
		return Frame{}, fmt.Errorf("%w: declared %d, got %d", ErrFrameLength, length, len(payload))
	}

	fields := strings.Split(payload, frameSep)
	return Frame{
		Version: version,
		Opcode:  Opcode(fields[0]),
		Args:    fields[1:],
	}, nil
}

// EncodeMessage frames a message under the given opcode.
func EncodeMessage(op Opcode, m message.Message) (string, error) {
	return Frame{
		Version: FrameVersion,
		Opcode:  op,
		Args:    []string{m.Sender, m.Recipient, m.Body, m.Timestamp},
	}.Encode()
}

// DecodeMessage parses a NEW_MESSAGE or RECEIVED_MESSAGE frame back into
// a message.
func DecodeMessage(raw string) (message.Message, Opcode, error) {
	f, err := DecodeFrame(raw)
	if err != nil {
		return message.Message{}, "", err
	}
	if f.Opcode != OpcodeNewMessage && f.Opcode != OpcodeReceivedMessage {
		return message.Message{}, "", fmt.Errorf("unexpected opcode %q", f.Opcode)
	}
	if len(f.Args) != 4 {
		return message.Message{}, "", fmt.Errorf("opcode %s wants 4 args, got %d", f.Opcode, len(f.Args))
	}
	return message.Message{
		Sender:    f.Args[0],
		Recipient: f.Args[1],
		Body:      f.Args[2],
		Timestamp: f.Args[3],
	}, f.Opcode, nil
}
