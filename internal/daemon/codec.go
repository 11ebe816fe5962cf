package daemon

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec names a wire encoding.
type Codec string

const (
	CodecJSON    Codec = "json"
	CodecMsgpack Codec = "msgpack"
)

// ParseCodec validates a configured codec name. Empty means JSON.
func ParseCodec(s string) (Codec, error) {
	switch Codec(s) {
	case "", CodecJSON:
		return CodecJSON, nil
	case CodecMsgpack:
		return CodecMsgpack, nil
	}
	return "", fmt.Errorf("unknown codec %q (want json or msgpack)", s)
}

// The first byte of every connection is a header: a fixed high nibble
// followed by codec and compression flags. The response uses the same
// format as the request.
const (
	headerMagic byte = 0xF0
	flagMsgpack byte = 0x01
	flagLZ4     byte = 0x02
)

// wireFormat is the negotiated encoding of one connection.
type wireFormat struct {
	codec    Codec
	compress bool
}

func (f wireFormat) header() byte {
	h := headerMagic
	if f.codec == CodecMsgpack {
		h |= flagMsgpack
	}
	if f.compress {
		h |= flagLZ4
	}
	return h
}

func parseHeader(b byte) (wireFormat, error) {
	if b&0xF0 != headerMagic || b&^(headerMagic|flagMsgpack|flagLZ4) != 0 {
		return wireFormat{}, fmt.Errorf("bad wire header 0x%02x", b)
	}
	f := wireFormat{codec: CodecJSON, compress: b&flagLZ4 != 0}
	if b&flagMsgpack != 0 {
		f.codec = CodecMsgpack
	}
	return f, nil
}

func (f wireFormat) String() string {
	if f.compress {
		return string(f.codec) + "+lz4"
	}
	return string(f.codec)
}

func (f wireFormat) marshal(v any) ([]byte, error) {
	if f.codec == CodecMsgpack {
		return msgpack.Marshal(v)
	}
	return json.Marshal(v)
}

func (f wireFormat) unmarshal(data []byte, v any) error {
	if f.codec == CodecMsgpack {
		return msgpack.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}

// convert re-encodes a generically decoded value into a typed one.
func (f wireFormat) convert(in, out any) error {
	if in == nil {
		return nil
	}
	data, err := f.marshal(in)
	if err != nil {
		return err
	}
	return f.unmarshal(data, out)
}

// writeMessage encodes v onto w as one message. A compressed message is
// a complete lz4 frame.
func (f wireFormat) writeMessage(w io.Writer, v any) error {
	data, err := f.marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", f, err)
	}
	if !f.compress {
		_, err = w.Write(data)
		return err
	}

	zw := lz4.NewWriter(w)
	if _, err := zw.Write(data); err != nil {
		return fmt.Errorf("compress message: %w", err)
	}
	return zw.Close()
}

// readMessage decodes one message from r into v.
func (f wireFormat) readMessage(r io.Reader, v any) error {
	if f.compress {
		r = lz4.NewReader(r)
	}
	var err error
	if f.codec == CodecMsgpack {
		err = msgpack.NewDecoder(r).Decode(v)
	} else {
		err = json.NewDecoder(r).Decode(v)
	}
	if err != nil {
		return fmt.Errorf("decode %s message: %w", f, err)
	}
	return nil
}
