package daemon

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ferretbind/internal/engine"
	"github.com/Aman-CERP/ferretbind/internal/index"
)

func allFormats() []wireFormat {
	return []wireFormat{
		{codec: CodecJSON},
		{codec: CodecJSON, compress: true},
		{codec: CodecMsgpack},
		{codec: CodecMsgpack, compress: true},
	}
}

func TestParseCodec(t *testing.T) {
	tests := []struct {
		in      string
		want    Codec
		wantErr bool
	}{
		{"", CodecJSON, false},
		{"json", CodecJSON, false},
		{"msgpack", CodecMsgpack, false},
		{"protobuf", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCodec(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWireHeader_RoundTrip(t *testing.T) {
	for _, f := range allFormats() {
		t.Run(f.String(), func(t *testing.T) {
			got, err := parseHeader(f.header())
			require.NoError(t, err)
			assert.Equal(t, f, got)
		})
	}
}

func TestWireHeader_RejectsGarbage(t *testing.T) {
	for _, b := range []byte{'{', 0x00, 0xF4, 0xFF} {
		_, err := parseHeader(b)
		assert.Error(t, err, "header 0x%02x", b)
	}
}

func TestWireFormat_MessageRoundTrip(t *testing.T) {
	for _, f := range allFormats() {
		t.Run(f.String(), func(t *testing.T) {
			// Given: a request carrying a document
			req := Request{
				JSONRPC: "2.0",
				Method:  MethodAddDocument,
				ID:      "req-1",
				Params: AddDocumentParams{
					Model: "Article",
					Document: engine.Document{
						ID:        "7",
						ClassName: "Article",
						Fields:    []engine.Field{{Name: "title", Value: "rails", Repeat: 3}},
					},
				},
			}

			// When: writing then reading it
			var buf bytes.Buffer
			require.NoError(t, f.writeMessage(&buf, req))
			var got Request
			require.NoError(t, f.readMessage(&buf, &got))

			// Then: the typed params survive the generic decode
			assert.Equal(t, "req-1", got.ID)
			var params AddDocumentParams
			require.NoError(t, f.convert(got.Params, &params))
			assert.Equal(t, req.Params, params)
		})
	}
}

func TestWireFormat_ConvertSearchOptions(t *testing.T) {
	for _, f := range allFormats() {
		t.Run(f.String(), func(t *testing.T) {
			in := SearchParams{
				Model: "Article",
				Query: "title:rails",
				Options: index.SearchOptions{
					Offset: 5, Limit: -1, Models: []string{index.ModelsAll}, Filter: &index.Filter{Conditions: "x = ?"},
				},
			}
			var generic any
			data, err := f.marshal(in)
			require.NoError(t, err)
			require.NoError(t, f.unmarshal(data, &generic))

			var out SearchParams
			require.NoError(t, f.convert(generic, &out))

			assert.Equal(t, 5, out.Options.Offset)
			assert.Equal(t, -1, out.Options.Limit)
			assert.Equal(t, []string{index.ModelsAll}, out.Options.Models)
			assert.Nil(t, out.Options.Filter, "filters stay local")
		})
	}
}

func TestCompressedMessage_IsSmallerForRepetitiveData(t *testing.T) {
	big := make([]string, 200)
	for i := range big {
		big[i] = "the quick brown fox jumps over the lazy dog"
	}
	var plain, packed bytes.Buffer
	require.NoError(t, wireFormat{codec: CodecJSON}.writeMessage(&plain, big))
	require.NoError(t, wireFormat{codec: CodecJSON, compress: true}.writeMessage(&packed, big))
	assert.Less(t, packed.Len(), plain.Len())
}
