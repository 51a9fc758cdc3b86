package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"omniclip/internal/crypto"
	"omniclip/internal/errs"
)

func TestFraming_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, payload := range [][]byte{{}, []byte("Hello, World!"), bytes.Repeat([]byte{0xab}, 4096)} {
		var buf bytes.Buffer
		require.NoError(t, WriteFrame(&buf, payload))
		require.Equal(t, uint32(len(payload)), binary.BigEndian.Uint32(buf.Bytes()[:4]))

		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		require.Equal(t, len(payload), len(got))
		require.True(t, bytes.Equal(payload, got))
	}
}

func TestFraming_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		payload := rapid.SliceOfN(rapid.Byte(), 0, 2048).Draw(t, "payload")
		var buf bytes.Buffer
		if err := WriteFrame(&buf, payload); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if !bytes.Equal(payload, got) {
			t.Fatalf("payload mismatch")
		}
		if buf.Len() != 0 {
			t.Fatalf("expected frame to be fully consumed, %d bytes left", buf.Len())
		}
	})
}

type countingReader struct {
	r    io.Reader
	read int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += n
	return n, err
}

func TestReadFrame_RejectsOversizeBeforePayload(t *testing.T) {
	t.Parallel()

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxMessageSize+1)
	r := &countingReader{r: io.MultiReader(bytes.NewReader(hdr[:]), strings.NewReader("trailing"))}

	_, err := ReadFrame(r)
	require.ErrorIs(t, err, errs.ErrInvalidMessage)
	require.Equal(t, 4, r.read)
}

func TestReadFrame_AcceptsExactLimitHeader(t *testing.T) {
	t.Parallel()

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxMessageSize)
	_, err := ReadFrame(bytes.NewReader(hdr[:]))
	// the limit itself is allowed, so the failure comes from the short payload
	require.ErrorIs(t, err, errs.ErrNetwork)
	require.True(t, errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF))
}

func TestWriteFrame_RejectsOversize(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	err := WriteFrame(&buf, make([]byte, MaxMessageSize+1))
	require.ErrorIs(t, err, errs.ErrInvalidMessage)
	require.Zero(t, buf.Len())
}

func TestReadFrame_ShortHeader(t *testing.T) {
	t.Parallel()

	_, err := ReadFrame(bytes.NewReader([]byte{0, 0}))
	require.ErrorIs(t, err, errs.ErrNetwork)
}

func allMessages(t *testing.T) []Message {
	t.Helper()
	e, err := crypto.GenerateEphemeral()
	require.NoError(t, err)
	sk, err := crypto.GenerateSigningKey()
	require.NoError(t, err)

	return []Message{
		&Announce{DeviceID: uuid.New(), DeviceName: "desk", PubkeyFingerprint: sk.Fingerprint(), ProtocolVersion: ProtocolVersion},
		&PairRequest{SessionID: uuid.New(), DeviceID: uuid.New(), DeviceName: "phone", EphemeralPubkey: e.PublicKey(), IdentityPubkey: sk.Public()},
		&PairAccept{SessionID: uuid.New(), DeviceID: uuid.New(), DeviceName: "desk", EphemeralPubkey: e.PublicKey(), IdentityPubkey: sk.Public(), Signature: sk.Sign([]byte("x"))},
		&PairReject{SessionID: uuid.New(), Reason: "session mismatch"},
		&ClipboardSync{MessageID: uuid.New(), SenderID: uuid.New(), ContentHash: Text("hi").Hash(), EncryptedContent: crypto.EncryptedPayload{Ciphertext: []byte{1, 2, 3}}, Timestamp: 1700000000},
		&Ack{MessageID: uuid.New()},
		&Ping{Timestamp: 42},
		&Pong{Timestamp: 43},
	}
}

func TestMessages_RoundTripAllKinds(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, msg := range allMessages(t) {
		data, err := Marshal(msg)
		require.NoError(t, err)

		var env map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &env))
		require.Len(t, env, 1)
		_, ok := env[msg.Kind()]
		require.True(t, ok, "expected tag %s in %s", msg.Kind(), data)

		got, err := Unmarshal(data)
		require.NoError(t, err)
		require.Equal(t, msg, got)
		seen[got.Kind()] = true
	}
	require.Len(t, seen, len(constructors))
}

func TestMessages_WireShape(t *testing.T) {
	t.Parallel()

	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	data, err := Marshal(&PairReject{SessionID: id, Reason: "nope"})
	require.NoError(t, err)
	require.JSONEq(t, `{"PairReject":{"session_id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","reason":"nope"}}`, string(data))

	data, err = Marshal(&Ack{MessageID: id})
	require.NoError(t, err)
	require.JSONEq(t, `{"Ack":{"message_id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8"}}`, string(data))
}

func TestUnmarshal_Errors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want error
	}{
		{"not json", `{`, errs.ErrSerialization},
		{"unknown tag", `{"Hello":{}}`, errs.ErrInvalidMessage},
		{"two tags", `{"Ping":{"timestamp":1},"Pong":{"timestamp":2}}`, errs.ErrInvalidMessage},
		{"empty", `{}`, errs.ErrInvalidMessage},
		{"bad field", `{"Ack":{"message_id":"not-a-uuid"}}`, errs.ErrSerialization},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Unmarshal([]byte(tc.in))
			require.ErrorIs(t, err, tc.want)
		})
	}
}

func TestWriteReadMessage(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	msg := &Ping{Timestamp: 7}
	require.NoError(t, WriteMessage(&buf, msg))
	got, err := ReadMessage(&buf)
	require.NoError(t, err)
	require.Equal(t, msg, got)
}

func TestContentHash(t *testing.T) {
	t.Parallel()

	require.Equal(t, Text("hello").Hash(), Text("hello").Hash())
	require.NotEqual(t, Text("hello").Hash(), Text("world").Hash())
	require.NotEqual(t, Text("hello").Hash(), RichText("hello", "").Hash())
	require.NotEqual(t, RichText("a", "<b>a</b>").Hash(), RichText("a", "<i>a</i>").Hash())
}

func TestContent_JSON(t *testing.T) {
	t.Parallel()

	data, err := EncodeContent(Text("hi"))
	require.NoError(t, err)
	require.JSONEq(t, `{"Text":"hi"}`, string(data))

	data, err = EncodeContent(RichText("hi", "<b>hi</b>"))
	require.NoError(t, err)
	require.JSONEq(t, `{"RichText":{"plain":"hi","html":"<b>hi</b>"}}`, string(data))

	got, err := DecodeContent(data)
	require.NoError(t, err)
	require.Equal(t, RichText("hi", "<b>hi</b>"), got)

	_, err = DecodeContent([]byte(`{"Image":"..."}`))
	require.ErrorIs(t, err, errs.ErrInvalidMessage)
}

func TestContentHash_Text(t *testing.T) {
	t.Parallel()

	h := Text("x").Hash()
	text, err := h.MarshalText()
	require.NoError(t, err)

	var back ContentHash
	require.NoError(t, back.UnmarshalText(text))
	require.Equal(t, h, back)
	require.ErrorIs(t, back.UnmarshalText([]byte("AAAA")), errs.ErrSerialization)
}
