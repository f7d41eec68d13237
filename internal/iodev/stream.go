package iodev

// AddStream attaches a new stream to the device's buffer_share, starting
// at write offset zero. Main-thread only, and only while the device is
// suspended if other streams are already attached (spec §5).
func (d *Device) AddStream(id StreamID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.streams[id] = &streamEntry{}
}

// RemoveStream detaches a stream. Its row is deleted without disturbing
// other streams' offsets.
func (d *Device) RemoveStream(id StreamID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.streams, id)
}

// StreamWritten advances stream id's write offset by n frames.
// Audio-thread callable.
func (d *Device) StreamWritten(id StreamID, n uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.streams[id]; ok {
		s.offset += n
	}
}

// StreamOffset returns stream id's current write offset and whether it is
// attached.
func (d *Device) StreamOffset(id StreamID) (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.streams[id]
	if !ok {
		return 0, false
	}
	return s.offset, true
}

// MaxStreamOffset reports the maximum offset across attached streams, used
// for latency diagnostics. Returns 0 if no streams are attached.
func (d *Device) MaxStreamOffset() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var max uint64
	for _, s := range d.streams {
		if s.offset > max {
			max = s.offset
		}
	}
	return max
}

// AllStreamsWritten returns the minimum write offset across all currently
// attached streams — that many frames are fully mixed and may be
// committed to hardware — and rotates the buffer_share origin by that
// amount (every stream's offset is decremented by the minimum, preserving
// each stream's delta relative to the others). Returns 0 if no streams are
// attached. Audio-thread callable; this is the one buffer_share operation
// the audio thread performs without main-thread coordination, since it
// only ever shrinks offsets that the main thread does not concurrently
// grow (stream membership changes only while suspended, per spec §5).
func (d *Device) AllStreamsWritten() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.streams) == 0 {
		return 0
	}

	var min uint64
	first := true
	for _, s := range d.streams {
		if first || s.offset < min {
			min = s.offset
			first = false
		}
	}
	if min == 0 {
		return 0
	}
	for _, s := range d.streams {
		s.offset -= min
	}
	return min
}

// StreamCount returns the number of currently attached streams.
func (d *Device) StreamCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}
