package apds9960

import (
	"errors"
	"testing"
)

func TestRegisterAccessPolicy(t *testing.T) {
	cases := []struct {
		reg                          byte
		readable, volatile, precious bool
	}{
		{APDS9960_REGISTER_ENABLE, false, false, false},
		{APDS9960_REGISTER_ATIME, true, false, false},
		{APDS9960_REGISTER_WTIME, true, false, false},
		{APDS9960_REGISTER_CONTROL, true, false, false},
		{APDS9960_REGISTER_ID, true, false, false},
		{APDS9960_REGISTER_STATUS, true, false, false},
		{APDS9960_REGISTER_CDATAL, true, true, false},
		{APDS9960_REGISTER_CDATAH, true, true, false},
		{APDS9960_REGISTER_RDATAL, true, true, false},
		// The red high byte sits between the volatile and precious windows.
		{APDS9960_REGISTER_RDATAH, true, false, false},
		{APDS9960_REGISTER_GDATAL, true, false, true},
		{APDS9960_REGISTER_GDATAH, true, false, true},
		{APDS9960_REGISTER_BDATAL, true, false, true},
		{APDS9960_REGISTER_BDATAH, false, false, false},
	}
	for _, c := range cases {
		if got := readableReg(c.reg); got != c.readable {
			t.Errorf("readableReg(0x%02X) = %v, want %v", c.reg, got, c.readable)
		}
		if got := volatileReg(c.reg); got != c.volatile {
			t.Errorf("volatileReg(0x%02X) = %v, want %v", c.reg, got, c.volatile)
		}
		if got := preciousReg(c.reg); got != c.precious {
			t.Errorf("preciousReg(0x%02X) = %v, want %v", c.reg, got, c.precious)
		}
		if got, want := cacheableReg(c.reg), !c.volatile && !c.precious; got != want {
			t.Errorf("cacheableReg(0x%02X) = %v, want %v", c.reg, got, want)
		}
	}
}

func TestRead8ServesConfigRegistersFromCache(t *testing.T) {
	tr := newTestTransport()
	tr.regs[APDS9960_REGISTER_WTIME] = 0x5A
	rm := newRegmap(tr)

	// First read misses and goes to the bus, the second is served back.
	for i := 0; i < 2; i++ {
		val, err := rm.Read8(APDS9960_REGISTER_WTIME)
		if err != nil {
			t.Fatalf("Read8(WTIME) #%d: %v", i, err)
		}
		if val != 0x5A {
			t.Fatalf("Read8(WTIME) #%d = 0x%02X, want 0x5A", i, val)
		}
	}
	if n := tr.readsOf(APDS9960_REGISTER_WTIME); n != 1 {
		t.Errorf("WTIME read twice hit the bus %d times, want 1", n)
	}
}

// ATIME starts out in the cache at its power-up default, so reading it
// never touches the bus even when the backing register disagrees.
func TestRead8SeedsRegisterDefaults(t *testing.T) {
	tr := newTestTransport()
	tr.regs[APDS9960_REGISTER_ATIME] = 0x00
	rm := newRegmap(tr)

	val, err := rm.Read8(APDS9960_REGISTER_ATIME)
	if err != nil {
		t.Fatalf("Read8(ATIME): %v", err)
	}
	if val != 0xFF {
		t.Errorf("Read8(ATIME) = 0x%02X, want the 0xFF default", val)
	}
	if n := tr.readsOf(APDS9960_REGISTER_ATIME); n != 0 {
		t.Errorf("default-seeded ATIME read hit the bus %d times", n)
	}
}

func TestRead8VolatileAlwaysLive(t *testing.T) {
	tr := newTestTransport()
	tr.regs[APDS9960_REGISTER_CDATAL] = 0x01
	rm := newRegmap(tr)

	if val, err := rm.Read8(APDS9960_REGISTER_CDATAL); err != nil || val != 0x01 {
		t.Fatalf("Read8(CDATAL) = 0x%02X, %v", val, err)
	}
	tr.mu.Lock()
	tr.regs[APDS9960_REGISTER_CDATAL] = 0x02
	tr.mu.Unlock()
	if val, err := rm.Read8(APDS9960_REGISTER_CDATAL); err != nil || val != 0x02 {
		t.Fatalf("Read8(CDATAL) after change = 0x%02X, %v; want live 0x02", val, err)
	}
	if n := tr.readsOf(APDS9960_REGISTER_CDATAL); n != 2 {
		t.Errorf("volatile register read twice hit the bus %d times, want 2", n)
	}
}

func TestRead8PreciousNeverCached(t *testing.T) {
	tr := newTestTransport()
	rm := newRegmap(tr)

	for i := 0; i < 2; i++ {
		if _, err := rm.Read8(APDS9960_REGISTER_GDATAL); err != nil {
			t.Fatalf("Read8(GDATAL) #%d: %v", i, err)
		}
	}
	if n := tr.readsOf(APDS9960_REGISTER_GDATAL); n != 2 {
		t.Errorf("precious register read twice hit the bus %d times, want 2", n)
	}
	if _, ok := rm.SnapshotCache()[APDS9960_REGISTER_GDATAL]; ok {
		t.Error("precious register leaked into the cache")
	}
}

func TestUpdate8SkipsRedundantWrites(t *testing.T) {
	tr := newTestTransport()
	rm := newRegmap(tr)

	if err := rm.Write8(APDS9960_REGISTER_ATIME, 0xAB); err != nil {
		t.Fatalf("Write8: %v", err)
	}
	writes := tr.writeCount()

	if err := rm.Update8(APDS9960_REGISTER_ATIME, 0xFF, 0xAB); err != nil {
		t.Fatalf("Update8 same value: %v", err)
	}
	if n := tr.writeCount(); n != writes {
		t.Errorf("no-op update reached the bus: %d new writes", n-writes)
	}

	if err := rm.Update8(APDS9960_REGISTER_ATIME, 0xFF, 0xCD); err != nil {
		t.Fatalf("Update8 new value: %v", err)
	}
	if n := tr.writeCount(); n != writes+1 {
		t.Errorf("changed update produced %d writes, want 1", n-writes)
	}
	if got := tr.regValue(APDS9960_REGISTER_ATIME); got != 0xCD {
		t.Errorf("ATIME = 0x%02X, want 0xCD", got)
	}
}

func TestUpdate8FoldsUnderMask(t *testing.T) {
	tr := newTestTransport()
	rm := newRegmap(tr)

	if err := rm.Write8(APDS9960_REGISTER_ATIME, 0xF0); err != nil {
		t.Fatalf("Write8: %v", err)
	}
	if err := rm.Update8(APDS9960_REGISTER_ATIME, 0x0F, 0xFF); err != nil {
		t.Fatalf("Update8: %v", err)
	}
	if got := tr.regValue(APDS9960_REGISTER_ATIME); got != 0xFF {
		t.Errorf("ATIME = 0x%02X, want 0xFF", got)
	}

	if err := rm.Update8(APDS9960_REGISTER_ATIME, 0xF0, 0x20); err != nil {
		t.Fatalf("Update8: %v", err)
	}
	if got := tr.regValue(APDS9960_REGISTER_ATIME); got != 0x2F {
		t.Errorf("ATIME = 0x%02X, want 0x2F", got)
	}
}

// An update to an uncached register reads its current value once and then
// skips the write when nothing would change.
func TestUpdate8UncachedReadsThenSkips(t *testing.T) {
	tr := newTestTransport()
	tr.regs[APDS9960_REGISTER_WTIME] = 0x11
	rm := newRegmap(tr)

	if err := rm.Update8(APDS9960_REGISTER_WTIME, 0xFF, 0x11); err != nil {
		t.Fatalf("Update8: %v", err)
	}
	if n := tr.readsOf(APDS9960_REGISTER_WTIME); n != 1 {
		t.Errorf("uncached update read the bus %d times, want 1", n)
	}
	if n := tr.writeCount(); n != 0 {
		t.Errorf("no-op uncached update reached the bus: %d writes", n)
	}

	// The read-modify-write seeds the cache, later updates skip the read.
	if err := rm.Update8(APDS9960_REGISTER_WTIME, 0xFF, 0x22); err != nil {
		t.Fatalf("Update8: %v", err)
	}
	if n := tr.readsOf(APDS9960_REGISTER_WTIME); n != 1 {
		t.Errorf("cached update re-read the bus: %d reads", n)
	}
	if got := tr.regValue(APDS9960_REGISTER_WTIME); got != 0x22 {
		t.Errorf("WTIME = 0x%02X, want 0x22", got)
	}
}

func TestUpdate8BusFailureLeavesCache(t *testing.T) {
	tr := newTestTransport()
	rm := newRegmap(tr)

	if err := rm.Write8(APDS9960_REGISTER_ATIME, 0x20); err != nil {
		t.Fatalf("Write8: %v", err)
	}
	tr.setWriteErr(errors.New("nack"))
	if err := rm.Update8(APDS9960_REGISTER_ATIME, 0xFF, 0x31); !errors.Is(err, ErrBus) {
		t.Fatalf("Update8 with dead bus = %v, want ErrBus", err)
	}
	tr.setWriteErr(nil)

	reads := tr.readCount()
	val, err := rm.Read8(APDS9960_REGISTER_ATIME)
	if err != nil {
		t.Fatalf("Read8: %v", err)
	}
	if val != 0x20 {
		t.Errorf("cached ATIME after failed update = 0x%02X, want 0x20", val)
	}
	if tr.readCount() != reads {
		t.Error("cache read hit the bus")
	}
}

func TestReadWordLittleEndian(t *testing.T) {
	tr := newTestTransport()
	tr.regs[APDS9960_REGISTER_CDATAL] = 0x10
	tr.regs[APDS9960_REGISTER_CDATAH] = 0x27
	rm := newRegmap(tr)

	val, err := rm.ReadWord(APDS9960_REGISTER_CDATAL)
	if err != nil {
		t.Fatalf("ReadWord: %v", err)
	}
	if val != 10000 {
		t.Errorf("ReadWord(CDATAL) = %d, want 10000", val)
	}
}

func TestAccessOutsideReadableWindow(t *testing.T) {
	tr := newTestTransport()
	rm := newRegmap(tr)

	for _, reg := range []byte{0x00, 0x7F, APDS9960_REGISTER_ENABLE, APDS9960_REGISTER_BDATAH, 0xFF} {
		if _, err := rm.Read8(reg); !errors.Is(err, ErrBus) {
			t.Errorf("Read8(0x%02X) = %v, want ErrBus", reg, err)
		}
		if _, err := rm.ReadWord(reg); !errors.Is(err, ErrBus) {
			t.Errorf("ReadWord(0x%02X) = %v, want ErrBus", reg, err)
		}
	}
	if err := rm.Update8(APDS9960_REGISTER_ENABLE, 0x01, 0x01); !errors.Is(err, ErrBus) {
		t.Errorf("Update8(ENABLE) = %v, want ErrBus; read-modify-write cannot run blind", err)
	}
	if tr.readCount() != 0 || tr.writeCount() != 0 {
		t.Error("rejected access generated bus traffic")
	}
}
