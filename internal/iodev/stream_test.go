package iodev

import "testing"

func TestAllStreamsWrittenIsMinOffset(t *testing.T) {
	d := newTestDevice(t, &stubBackend{})
	d.AddStream(1)
	d.AddStream(2)
	d.StreamWritten(1, 100)
	d.StreamWritten(2, 60)

	if got := d.AllStreamsWritten(); got != 60 {
		t.Fatalf("AllStreamsWritten = %d, want 60", got)
	}
}

func TestAllStreamsWrittenRotatesOffsets(t *testing.T) {
	d := newTestDevice(t, &stubBackend{})
	d.AddStream(1)
	d.AddStream(2)
	d.StreamWritten(1, 100)
	d.StreamWritten(2, 60)
	d.AllStreamsWritten()

	off1, _ := d.StreamOffset(1)
	off2, _ := d.StreamOffset(2)
	if off1 != 40 {
		t.Fatalf("stream 1 offset after rotation = %d, want 40", off1)
	}
	if off2 != 0 {
		t.Fatalf("stream 2 offset after rotation = %d, want 0", off2)
	}
}

func TestAllStreamsWrittenNoStreamsReturnsZero(t *testing.T) {
	d := newTestDevice(t, &stubBackend{})
	if got := d.AllStreamsWritten(); got != 0 {
		t.Fatalf("AllStreamsWritten with no streams = %d, want 0", got)
	}
}

func TestMaxStreamOffset(t *testing.T) {
	d := newTestDevice(t, &stubBackend{})
	d.AddStream(1)
	d.AddStream(2)
	d.StreamWritten(1, 30)
	d.StreamWritten(2, 90)
	if got := d.MaxStreamOffset(); got != 90 {
		t.Fatalf("MaxStreamOffset = %d, want 90", got)
	}
}

func TestRemoveStreamDropsItWithoutAffectingOthers(t *testing.T) {
	d := newTestDevice(t, &stubBackend{})
	d.AddStream(1)
	d.AddStream(2)
	d.StreamWritten(1, 50)
	d.StreamWritten(2, 50)
	d.RemoveStream(1)

	if _, ok := d.StreamOffset(1); ok {
		t.Fatal("stream 1 should be detached")
	}
	if got := d.StreamCount(); got != 1 {
		t.Fatalf("StreamCount = %d, want 1", got)
	}
	if got := d.AllStreamsWritten(); got != 50 {
		t.Fatalf("AllStreamsWritten after removal = %d, want 50", got)
	}
}

func TestStreamWrittenOnUnknownStreamIsNoOp(t *testing.T) {
	d := newTestDevice(t, &stubBackend{})
	d.StreamWritten(999, 10) // must not panic
	if d.StreamCount() != 0 {
		t.Fatal("StreamWritten on an unknown id must not create an entry")
	}
}
