package mu

// MaxSize is the largest message in transport words, header included.
const MaxSize = 8

// Header is the leading transport word. Only the size field is
// interpreted here; the rest is carried byte-identical.
type Header uint32

const (
	hdrVersionShift = 0
	hdrSizeShift    = 8
	hdrCommandShift = 16
	hdrTagShift     = 24
)

// MakeHeader packs the i.MX MU header layout.
func MakeHeader(version, size, command, tag uint8) Header {
	return Header(uint32(version)<<hdrVersionShift |
		uint32(size)<<hdrSizeShift |
		uint32(command)<<hdrCommandShift |
		uint32(tag)<<hdrTagShift)
}

// Size is the message length in words including the header word.
func (h Header) Size() int      { return int(uint32(h) >> hdrSizeShift & 0xFF) }
func (h Header) Version() uint8 { return uint8(uint32(h) >> hdrVersionShift) }
func (h Header) Command() uint8 { return uint8(uint32(h) >> hdrCommandShift) }
func (h Header) Tag() uint8     { return uint8(uint32(h) >> hdrTagShift) }

// Message is one fixed-capacity MU transaction buffer.
type Message struct {
	Header Header
	Data   [MaxSize - 1]uint32
}

// word returns transport word i (0 is the header).
func (m *Message) word(i int) uint32 {
	if i == 0 {
		return uint32(m.Header)
	}
	return m.Data[i-1]
}

func (m *Message) setWord(i int, w uint32) {
	if i == 0 {
		m.Header = Header(w)
		return
	}
	m.Data[i-1] = w
}

// Payload returns the words after the header, bounded by the header size.
func (m *Message) Payload() []uint32 {
	n := m.Header.Size() - 1
	if n < 0 {
		n = 0
	}
	if n > len(m.Data) {
		n = len(m.Data)
	}
	return m.Data[:n]
}

func validSize(n int) bool { return n >= 1 && n <= MaxSize }
