package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"region-capture/src/capture"
)

func TestDataURLRoundTrip(t *testing.T) {
	all := make([]byte, 256)
	for i := range all {
		all[i] = byte(i)
	}
	inputs := [][]byte{
		{},
		{0},
		{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a},
		all,
		bytes.Repeat([]byte{0xff, 0x00}, 1000),
	}
	for _, in := range inputs {
		got, err := DecodeDataURL(EncodeDataURL("image/png", in))
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !bytes.Equal(got, in) {
			t.Fatalf("round trip changed %d bytes into %d bytes", len(in), len(got))
		}
	}
}

func TestDecodeDataURLMalformed(t *testing.T) {
	tests := []string{
		"",
		"iVBORw0KGgo=",
		"data:image/png;base64",
		"data:image/png,rawtext",
		"data:image/png;base64,***",
	}
	for _, in := range tests {
		if _, err := DecodeDataURL(in); !errors.Is(err, ErrMalformedDataURL) {
			t.Errorf("DecodeDataURL(%q) err = %v, want ErrMalformedDataURL", in, err)
		}
	}
}

func TestBytesMarshalNumericArray(t *testing.T) {
	b, err := json.Marshal(SaveRequest{Action: ActionSaveScreenshot, Data: Bytes{0, 7, 255}})
	if err != nil {
		t.Fatal(err)
	}
	want := `{"action":"saveScreenshot","data":[0,7,255]}`
	if string(b) != want {
		t.Errorf("got %s, want %s", b, want)
	}

	empty, _ := json.Marshal(Bytes{})
	if string(empty) != "[]" {
		t.Errorf("empty Bytes = %s, want []", empty)
	}
}

func TestBytesUnmarshal(t *testing.T) {
	var b Bytes
	if err := json.Unmarshal([]byte("[1,2,250]"), &b); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, []byte{1, 2, 250}) {
		t.Errorf("got %v", b)
	}
	if err := json.Unmarshal([]byte("[256]"), &b); err == nil {
		t.Error("expected out of range error")
	}
	if err := json.Unmarshal([]byte(`"AAE="`), &b); err == nil {
		t.Error("base64 strings must be rejected")
	}
}

type fakeChannel struct {
	resp Response
	err  error
	got  chan []byte
	host chan string
}

func (f *fakeChannel) Send(ctx context.Context, host string, msg any) (Response, error) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return Response{}, err
	}
	f.host <- host
	f.got <- raw
	return f.resp, f.err
}

func newFakeChannel(resp Response, err error) *fakeChannel {
	return &fakeChannel{resp: resp, err: err, got: make(chan []byte, 1), host: make(chan string, 1)}
}

func TestDispatchDeliversExactBytes(t *testing.T) {
	payload := make([]byte, 1024)
	for i := range payload {
		payload[i] = byte(i * 31)
	}
	ch := newFakeChannel(Response{Status: "ok", Size: len(payload)}, nil)
	results := make(chan error, 1)
	d := NewDispatcher(ch, "", func(_ Response, err error) { results <- err })

	if err := d.Dispatch(context.Background(), capture.Encoded(EncodeDataURL("image/png", payload))); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	select {
	case host := <-ch.host:
		if host != DefaultHost {
			t.Errorf("host = %q, want %q", host, DefaultHost)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for send")
	}
	raw := <-ch.got
	var msg struct {
		Action string `json:"action"`
		Data   []int  `json:"data"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatal(err)
	}
	if msg.Action != ActionSaveScreenshot {
		t.Errorf("action = %q", msg.Action)
	}
	if len(msg.Data) != len(payload) {
		t.Fatalf("consumer received %d values, want %d", len(msg.Data), len(payload))
	}
	for i, v := range msg.Data {
		if v != int(payload[i]) {
			t.Fatalf("value %d = %d, want %d", i, v, payload[i])
		}
	}
	if err := <-results; err != nil {
		t.Errorf("unexpected result error: %v", err)
	}
}

func TestDispatchDecodeFailureIsSynchronous(t *testing.T) {
	ch := newFakeChannel(Response{Status: "ok"}, nil)
	d := NewDispatcher(ch, "x", nil)
	if err := d.Dispatch(context.Background(), "not a data url"); !errors.Is(err, ErrMalformedDataURL) {
		t.Fatalf("expected ErrMalformedDataURL, got %v", err)
	}
	select {
	case <-ch.got:
		t.Fatal("nothing should have been sent")
	default:
	}
}

func TestDispatchFailuresReported(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		err  error
	}{
		{"ChannelError", Response{}, errors.New("host not found")},
		{"ConsumerError", Response{Status: "error", Message: "clipboard unavailable"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newFakeChannel(tt.resp, tt.err)
			results := make(chan error, 1)
			d := NewDispatcher(ch, "h", func(_ Response, err error) { results <- err })
			if err := d.Dispatch(context.Background(), capture.Encoded(EncodeDataURL("image/png", []byte{1}))); err != nil {
				t.Fatalf("Dispatch should not fail synchronously: %v", err)
			}
			select {
			case err := <-results:
				if !errors.Is(err, ErrDispatch) {
					t.Errorf("expected ErrDispatch, got %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("timeout")
			}
		})
	}
}
