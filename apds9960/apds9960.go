package apds9960

/*
 * apds9960 - Package for interacting with APDS-9960 ALS/RGB sensors.
 *
 * Ref:
 * https://docs.broadcom.com/doc/AV02-4191EN
 * drivers/iio/light/apds9960.c (mainline kernel)
 *
 */

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/io/i2c"
)

var l *logrus.Logger

func init() {
	l = logrus.New()
	// Setup the logger, so it can be parsed by datadog
	l.Formatter = &logrus.JSONFormatter{}
	l.SetOutput(os.Stdout)
	// Set the log level
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))
	switch logLevel {
	case "debug":
		l.SetLevel(logrus.DebugLevel)
	case "info":
		l.SetLevel(logrus.InfoLevel)
	case "error":
		l.SetLevel(logrus.ErrorLevel)
	default:
		l.SetLevel(logrus.InfoLevel)
	}
}

var (
	// ErrBus reports a transport-level register read/write failure. The
	// transaction is not retried; the failure surfaces synchronously.
	ErrBus = errors.New("apds9960: bus transaction failed")

	// ErrInvalidGain rejects amplification factors the part cannot apply.
	ErrInvalidGain = errors.New("apds9960: gain must be 1, 4, 16 or 64")

	// ErrInvalidChannel rejects channel selectors outside clear/red/green/blue.
	ErrInvalidChannel = errors.New("apds9960: no such ALS channel")

	// ErrInvalidIntegrationTime rejects control values outside the ATIME
	// byte range.
	ErrInvalidIntegrationTime = errors.New("apds9960: integration control value must be in [0, 255]")

	// ErrNotPowered reports register access before the power request has
	// completed, or after it was released.
	ErrNotPowered = errors.New("apds9960: device is not powered")

	// ErrNotDevice reports that the ID register did not identify an
	// APDS-9960 at the bus address.
	ErrNotDevice = errors.New("apds9960: ID register does not match 0xAB")
)

// Transport is the byte-addressed register connection the sensor answers
// on. *i2c.Device from golang.org/x/exp/io/i2c satisfies it; tests inject
// instrumented in-memory implementations.
type Transport interface {
	ReadReg(reg byte, buf []byte) error
	WriteReg(reg byte, buf []byte) error
	Close() error
}

// APDS9960 is one attached sensor. All register traffic is serialized per
// device; the embedded mutex also guards the mirrored configuration state.
type APDS9960 struct {
	Powered bool // power request state; guarded by the embedded mutex
	Gain    int  // ALS amplification factor: 1, 4, 16 or 64

	regs   *regmap
	tr     Transport
	power  PowerPolicy
	events *eventDispatcher
	stopc  chan struct{}

	integrationUs  int64  // committed integration time in µs, clamped
	integrationVal int    // last committed control value
	eventID        uint32 // atomic; last enable/threshold byte written or read

	*sync.Mutex
}

// channelSpec is the per-channel info table the consumer surface is built
// from.
type channelSpec struct {
	Name    string
	Address byte
}

var alsChannels = [...]channelSpec{
	ChannelClear: {Name: "clear", Address: ChannelClear.address()},
	ChannelRed:   {Name: "red", Address: ChannelRed.address()},
	ChannelGreen: {Name: "green", Address: ChannelGreen.address()},
	ChannelBlue:  {Name: "blue", Address: ChannelBlue.address()},
}

func chanSpec(ch Channel) (channelSpec, error) {
	if !ch.valid() {
		return channelSpec{}, ErrInvalidChannel
	}
	return alsChannels[ch], nil
}

// NewAPDS9960 attaches to an APDS-9960 on an I2C bus and powers it up.
func NewAPDS9960(gain int, path string) (*APDS9960, error) {
	if path == "" {
		// i2c-1 is the default I2C bus for the Raspberry Pi
		path = "/dev/i2c-1"
	}
	device, err := i2c.Open(&i2c.Devfs{Dev: path}, int(APDS9960_ADDR))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	d, err := NewWithTransport(device, NewRegisterPower(device), gain)
	if err != nil {
		device.Close()
		return nil, err
	}
	return d, nil
}

// NewWithTransport attaches to a sensor over an existing transport with an
// explicit power policy.
func NewWithTransport(tr Transport, power PowerPolicy, gain int) (*APDS9960, error) {
	if _, ok := GainRegValue(gain); !ok {
		return nil, ErrInvalidGain
	}

	d := &APDS9960{
		Gain:   gain,
		regs:   newRegmap(tr),
		tr:     tr,
		power:  power,
		events: newEventDispatcher(eventQueueDepth),
		stopc:  make(chan struct{}),
		Mutex:  &sync.Mutex{},
	}

	if err := power.RequestActive(); err != nil {
		return nil, fmt.Errorf("failed to power the sensor: %w", err)
	}
	d.Powered = true

	// Confirm an APDS-9960 answers at this address before touching config.
	id, err := d.regs.Read8(APDS9960_REGISTER_ID)
	if err != nil {
		power.Release()
		return nil, fmt.Errorf("failed to read device ID: %w", err)
	}
	if id != APDS9960_DEVICE_ID {
		power.Release()
		return nil, ErrNotDevice
	}

	// Power-on register state: shortest integration time, as programmed on
	// attach by the upstream driver.
	if err := d.regs.Write8(APDS9960_REGISTER_ATIME, 0xFF); err != nil {
		power.Release()
		return nil, fmt.Errorf("failed to write ATIME: %w", err)
	}

	go d.serviceLoop()
	l.Debugf("apds9960: attached, gain %s", GainToString(gain))
	return d, nil
}

// Close stops the event worker, releases the power request and closes the
// transport.
func (d *APDS9960) Close() error {
	d.Lock()
	defer d.Unlock()
	if !d.Powered {
		return nil
	}
	close(d.stopc)
	d.Powered = false
	if err := d.power.Release(); err != nil {
		l.Errorf("apds9960: failed to release the power request: %v", err)
	}
	return d.tr.Close()
}

// ReadChannel returns the raw ADC count for one ALS channel. Channel data
// registers are volatile, so every call is a live two-byte read from the
// device.
func (d *APDS9960) ReadChannel(ch Channel) (uint16, error) {
	spec, err := chanSpec(ch)
	if err != nil {
		return 0, err
	}

	d.Lock()
	defer d.Unlock()
	if !d.Powered {
		return 0, ErrNotPowered
	}

	count, err := d.regs.ReadWord(spec.Address)
	if err != nil {
		return 0, err
	}
	l.Debugf("apds9960: %s count %d", spec.Name, count)
	return count, nil
}

// Scale reports the raw-count-to-lux ratio for a channel as a numerator and
// denominator pair. The channel table is consulted first so unknown
// channels are rejected; no calibrated per-channel scale is published for
// this part, every channel reports the shared fixed ratio.
func (d *APDS9960) Scale(ch Channel) (int, int, error) {
	if _, err := chanSpec(ch); err != nil {
		return 0, 0, err
	}
	return APDS9960_SCALE_NUM, APDS9960_SCALE_DEN, nil
}

// SetIntegrationTime commits a new ALS integration time from a control
// value in [0, 255] and an amplification factor in {1, 4, 16, 64}, and
// returns the committed duration.
//
// The microsecond figure is derived as 1000000 * (256 - val) * gain / 1000
// and clamped to [1ms, 1s]. The ATIME byte committed to hardware is always
// 255 - val whether or not the derived figure was clamped; consumers rely
// on that byte mapping, so the two halves stay independent.
func (d *APDS9960) SetIntegrationTime(val int, gain int) (time.Duration, error) {
	if val < 0 || val > 0xFF {
		return 0, ErrInvalidIntegrationTime
	}
	if _, ok := GainRegValue(gain); !ok {
		return 0, ErrInvalidGain
	}

	d.Lock()
	defer d.Unlock()
	if !d.Powered {
		return 0, ErrNotPowered
	}

	// Work in 64-bit to keep the intermediate product exact.
	us := int64(1000000) * int64(256-val) * int64(gain) / 1000
	us = clamp(us, APDS9960_MIN_INT_TIME_US, APDS9960_MAX_INT_TIME_US)

	if err := d.regs.Update8(APDS9960_REGISTER_ATIME, 0xFF, byte(255-val)); err != nil {
		return 0, err
	}

	d.integrationUs = us
	d.integrationVal = val
	d.Gain = gain
	l.Debugf("apds9960: integration time %dus (control %d, gain %s)", us, val, GainToString(gain))
	return time.Duration(us) * time.Microsecond, nil
}

// IntegrationTime returns the committed integration time. It is zero until
// the first successful SetIntegrationTime.
func (d *APDS9960) IntegrationTime() time.Duration {
	d.Lock()
	defer d.Unlock()
	return time.Duration(d.integrationUs) * time.Microsecond
}

// IntegrationControl returns the last committed integration control value.
func (d *APDS9960) IntegrationControl() int {
	d.Lock()
	defer d.Unlock()
	return d.integrationVal
}

// DeviceStatus is a point-in-time copy of the mutable device state.
type DeviceStatus struct {
	Powered            bool
	Gain               int
	IntegrationTime    time.Duration
	IntegrationControl int
}

// Status returns a snapshot of the mutable device state taken under the
// device lock.
func (d *APDS9960) Status() DeviceStatus {
	d.Lock()
	defer d.Unlock()
	return DeviceStatus{
		Powered:            d.Powered,
		Gain:               d.Gain,
		IntegrationTime:    time.Duration(d.integrationUs) * time.Microsecond,
		IntegrationControl: d.integrationVal,
	}
}

// SetGain records the ALS amplification factor used when deriving
// integration times. The register contract carries no gain write; the
// factor participates in conversions only.
func (d *APDS9960) SetGain(gain int) error {
	if _, ok := GainRegValue(gain); !ok {
		return ErrInvalidGain
	}
	d.Lock()
	defer d.Unlock()
	d.Gain = gain
	return nil
}

// SetEventConfig arms (true) or disarms (false) the threshold event
// source. The enable value lives in the clear-channel data register, which
// this driver family repurposes as the event threshold store.
func (d *APDS9960) SetEventConfig(enable bool) error {
	var val byte
	if enable {
		val = 1
	}
	return d.writeEventValue(val)
}

// ArmThreshold writes an arbitrary enable byte into the threshold store.
// Any non-zero value arms the event source.
func (d *APDS9960) ArmThreshold(value byte) error {
	return d.writeEventValue(value)
}

func (d *APDS9960) writeEventValue(val byte) error {
	d.Lock()
	defer d.Unlock()
	if !d.Powered {
		return ErrNotPowered
	}
	if err := d.regs.Write8(APDS9960_REGISTER_CDATAL, val); err != nil {
		return err
	}
	atomic.StoreUint32(&d.eventID, uint32(val))
	return nil
}

// EventConfig reports whether the event source is armed by reading the
// threshold store back. The read observes live hardware state and settles a
// latched interrupt condition, so nothing may call it speculatively; the
// deferred interrupt worker uses this same path after each assertion.
func (d *APDS9960) EventConfig() (bool, error) {
	d.Lock()
	defer d.Unlock()
	if !d.Powered {
		return false, ErrNotPowered
	}
	val, err := d.regs.Read8(APDS9960_REGISTER_CDATAL)
	if err != nil {
		return false, err
	}
	atomic.StoreUint32(&d.eventID, uint32(val))
	return val != 0, nil
}

// SnapshotCache copies the cached configuration registers for diagnostics.
// Volatile and precious registers are excluded and no bus traffic happens.
func (d *APDS9960) SnapshotCache() map[byte]byte {
	return d.regs.SnapshotCache()
}

// clamp limits v to [lo, hi].
func clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
