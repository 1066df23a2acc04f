package transport

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeCapture(t *testing.T, records ...[]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.bin")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create capture: %v", err)
	}
	defer f.Close()
	for _, r := range records {
		if err := WriteCaptureRecord(f, r); err != nil {
			t.Fatalf("write record: %v", err)
		}
	}
	return path
}

func TestFileSourceReplay(t *testing.T) {
	a := []byte{1, 2, 3}
	b := bytes.Repeat([]byte{0xAB}, 64)
	path := writeCapture(t, a, b)

	src, err := OpenFileSource(NewUDPEndpoint(nil, "239.0.0.1", 3000), path)
	if err != nil {
		t.Fatalf("open capture: %v", err)
	}
	defer src.Close()

	buf := make([]byte, 128)
	n, err := src.Receive(buf)
	if err != nil || !bytes.Equal(buf[:n], a) {
		t.Fatalf("first record: n=%d err=%v", n, err)
	}
	n, err = src.Receive(buf)
	if err != nil || !bytes.Equal(buf[:n], b) {
		t.Fatalf("second record: n=%d err=%v", n, err)
	}
	if _, err := src.Receive(buf); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty at end of capture, got %v", err)
	}
}

func TestFileSourceOversizeRecordStops(t *testing.T) {
	big := bytes.Repeat([]byte{0xCD}, 256)
	path := writeCapture(t, big, []byte{1, 2, 3})

	src, err := OpenFileSource(NewUDPEndpoint(nil, "239.0.0.1", 3000), path)
	if err != nil {
		t.Fatalf("open capture: %v", err)
	}
	defer src.Close()

	buf := make([]byte, 64)
	if _, err := src.Receive(buf); err == nil || errors.Is(err, ErrEmpty) {
		t.Fatalf("expected a real error for an oversize record, got %v", err)
	}
	// 长度前缀已被消费，流已失步，之后不得再交出错位的数据
	if _, err := src.Receive(buf); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty after oversize record, got %v", err)
	}
}
