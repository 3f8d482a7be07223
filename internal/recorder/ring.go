package recorder

// preRollRing is a fixed-capacity ring of PCM frames holding the audio
// immediately before speech onset. Pushing onto a full ring evicts the
// oldest frame.
type preRollRing struct {
	frames [][]byte
	head   int
	size   int
}

func newPreRollRing(capacity int) *preRollRing {
	if capacity < 1 {
		capacity = 1
	}
	return &preRollRing{frames: make([][]byte, capacity)}
}

// push copies frame into the ring, evicting the oldest entry when full.
func (p *preRollRing) push(frame []byte) {
	idx := (p.head + p.size) % len(p.frames)
	if p.size == len(p.frames) {
		idx = p.head
		p.head = (p.head + 1) % len(p.frames)
	} else {
		p.size++
	}
	p.frames[idx] = append(p.frames[idx][:0], frame...)
}

// concat appends the buffered frames, oldest first, to dst.
func (p *preRollRing) concat(dst []byte) []byte {
	for i := range p.size {
		dst = append(dst, p.frames[(p.head+i)%len(p.frames)]...)
	}
	return dst
}

// clear empties the ring without releasing frame storage.
func (p *preRollRing) clear() {
	p.head = 0
	p.size = 0
}
