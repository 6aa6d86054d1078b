package apds9960

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// Register defaults seeded into the cache on attach. ATIME powers up at its
// shortest setting (0xFF, a single integration cycle).
var regDefaults = map[byte]byte{
	APDS9960_REGISTER_ATIME: 0xFF,
}

func readableReg(reg byte) bool {
	return reg >= apds9960ReadableFirst && reg <= apds9960ReadableLast
}

func volatileReg(reg byte) bool {
	return reg >= apds9960VolatileFirst && reg <= apds9960VolatileLast
}

func preciousReg(reg byte) bool {
	return reg >= apds9960PreciousFirst && reg <= apds9960PreciousLast
}

// regmap mediates every register transaction for one sensor. Configuration
// registers are kept in a write-through cache; volatile registers are always
// fetched live and never cached; precious registers are only touched by an
// explicit read, never by a speculative or diagnostic path. A single
// transaction is in flight at a time, the bus protocol is not reentrant.
type regmap struct {
	tr    Transport
	mu    sync.Mutex
	cache map[byte]byte
}

func newRegmap(tr Transport) *regmap {
	rm := &regmap{
		tr:    tr,
		cache: make(map[byte]byte, len(regDefaults)),
	}
	for reg, val := range regDefaults {
		rm.cache[reg] = val
	}
	return rm
}

func cacheableReg(reg byte) bool {
	return !volatileReg(reg) && !preciousReg(reg)
}

// Read8 returns a single register byte, served from the cache when the
// register is cacheable and populated.
func (rm *regmap) Read8(reg byte) (byte, error) {
	if !readableReg(reg) {
		return 0, fmt.Errorf("%w: register 0x%02X is not readable", ErrBus, reg)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	if cacheableReg(reg) {
		if val, ok := rm.cache[reg]; ok {
			return val, nil
		}
	}

	var buf [1]byte
	if err := rm.tr.ReadReg(reg, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: read register 0x%02X: %v", ErrBus, reg, err)
	}
	if cacheableReg(reg) {
		rm.cache[reg] = buf[0]
	}
	return buf[0], nil
}

// Write8 writes a single register byte, write-through to the cache.
func (rm *regmap) Write8(reg byte, val byte) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.write8Locked(reg, val)
}

func (rm *regmap) write8Locked(reg byte, val byte) error {
	if err := rm.tr.WriteReg(reg, []byte{val}); err != nil {
		return fmt.Errorf("%w: write register 0x%02X: %v", ErrBus, reg, err)
	}
	if cacheableReg(reg) {
		rm.cache[reg] = val
	}
	return nil
}

// Update8 folds val under mask into a register with a read-modify-write.
// The current value comes from the cache when possible, and the bus write
// is skipped when no bit would change. The cache is only updated once the
// write has landed, so a bus failure leaves the mirrored state untouched.
func (rm *regmap) Update8(reg byte, mask, val byte) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	var old byte
	var known bool
	if cacheableReg(reg) {
		old, known = rm.cache[reg]
	}
	if !known {
		if !readableReg(reg) {
			return fmt.Errorf("%w: register 0x%02X is not readable", ErrBus, reg)
		}
		var buf [1]byte
		if err := rm.tr.ReadReg(reg, buf[:]); err != nil {
			return fmt.Errorf("%w: read register 0x%02X: %v", ErrBus, reg, err)
		}
		old = buf[0]
	}

	next := (old &^ mask) | (val & mask)
	if next == old {
		if !known && cacheableReg(reg) {
			rm.cache[reg] = old
		}
		return nil
	}
	return rm.write8Locked(reg, next)
}

// ReadWord returns a 16-bit little-endian register pair with a live bus
// read. The data registers are volatile, the cache is never consulted or
// filled here.
func (rm *regmap) ReadWord(reg byte) (uint16, error) {
	if !readableReg(reg) {
		return 0, fmt.Errorf("%w: register 0x%02X is not readable", ErrBus, reg)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	var buf [2]byte
	if err := rm.tr.ReadReg(reg, buf[:]); err != nil {
		return 0, fmt.Errorf("%w: read register pair 0x%02X: %v", ErrBus, reg, err)
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

// SnapshotCache copies the cached configuration registers for diagnostics.
// Volatile and precious registers never appear here, and no bus traffic is
// generated on this path.
func (rm *regmap) SnapshotCache() map[byte]byte {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	out := make(map[byte]byte, len(rm.cache))
	for reg, val := range rm.cache {
		if !cacheableReg(reg) {
			continue
		}
		out[reg] = val
	}
	return out
}
