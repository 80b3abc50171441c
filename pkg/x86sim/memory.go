package x86sim

const pageBits = 12

// memory is a sparse little-endian address space. Pages are allocated on
// first touch and read as zero before.
type memory struct {
	pages map[uint64]*[1 << pageBits]byte
}

func newMemory() *memory {
	return &memory{pages: map[uint64]*[1 << pageBits]byte{}}
}

func (m *memory) page(addr uint64) *[1 << pageBits]byte {
	p, ok := m.pages[addr>>pageBits]
	if !ok {
		p = new([1 << pageBits]byte)
		m.pages[addr>>pageBits] = p
	}
	return p
}

func (m *memory) readByte(addr uint64) byte {
	return m.page(addr)[addr&(1<<pageBits-1)]
}

func (m *memory) writeByte(addr uint64, b byte) {
	m.page(addr)[addr&(1<<pageBits-1)] = b
}

// read loads n bytes at addr
func (m *memory) read(addr uint64, n int) Value {
	var v Value
	for i := 0; i < n && i < 16; i++ {
		v[i/8] |= uint64(m.readByte(addr+uint64(i))) << (uint(i%8) * 8)
	}
	return v
}

// write stores the low n bytes of v at addr
func (m *memory) write(addr uint64, n int, v Value) {
	for i := 0; i < n && i < 16; i++ {
		m.writeByte(addr+uint64(i), byte(v[i/8]>>(uint(i%8)*8)))
	}
}

// ReadBytes copies n bytes starting at addr
func (m *Machine) ReadBytes(addr uint64, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = m.mem.readByte(addr + uint64(i))
	}
	return out
}

// WriteBytes copies b to addr
func (m *Machine) WriteBytes(addr uint64, b []byte) {
	for i, x := range b {
		m.mem.writeByte(addr+uint64(i), x)
	}
}

// ReadMem reads n bytes at addr
func (m *Machine) ReadMem(addr uint64, n int) Value { return m.mem.read(addr, n) }

// WriteMem writes the low n bytes of v at addr
func (m *Machine) WriteMem(addr uint64, n int, v Value) { m.mem.write(addr, n, v) }

// Alloc reserves size bytes of zeroed data aligned to 16 and returns
// their address
func (m *Machine) Alloc(size int) uint64 {
	addr := m.dataTop
	m.dataTop = (m.dataTop + uint64(size) + 15) &^ 15
	return addr
}
