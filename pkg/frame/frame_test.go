package frame

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestDecodeRawText(t *testing.T) {
	p, err := DecodeRawText([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, KindRawText, p.Kind)
	require.Equal(t, "hello", p.Text)
	require.Empty(t, p.Side)

	_, err = DecodeRawText([]byte{0xff, 0xfe})
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	require.Equal(t, KindRawText, de.Kind)
}

func TestDecodeStructuredChat(t *testing.T) {
	p, err := DecodeStructuredChat([]byte(`{"side":"left","message":"hi"}`))
	require.NoError(t, err)
	require.Equal(t, StructuredChat("left", "hi"), p)

	p, err = DecodeStructuredChat([]byte(`{"message":""}`))
	require.NoError(t, err)
	require.Equal(t, "", p.Text)
	require.Equal(t, "", p.Side)
}

func TestDecodeStructuredChat_Rejects(t *testing.T) {
	for name, in := range map[string]string{
		"not json":        `hello`,
		"missing message": `{"side":"right"}`,
		"wrong type":      `{"message":42}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := StructuredChatDecoder.Decode([]byte(in))
			var de *DecodeError
			require.True(t, errors.As(err, &de), "got %v", err)
		})
	}
}

func TestEncodeStructuredChat_OmitsEmptySide(t *testing.T) {
	b, err := EncodeStructuredChat("", "hi")
	require.NoError(t, err)
	require.JSONEq(t, `{"message":"hi"}`, string(b))

	b, err = EncodeStructuredChat("both", "hi")
	require.NoError(t, err)
	require.JSONEq(t, `{"side":"both","message":"hi"}`, string(b))
}
