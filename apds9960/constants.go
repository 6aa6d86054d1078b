package apds9960

const (
	APDS9960_ADDR      uint16 = 0x39 ///< Default I2C address
	APDS9960_DEVICE_ID byte   = 0xAB ///< Value of the ID register for this part

	APDS9960_MAX_ALS_THRES_VAL uint16 = 0xFFFF ///< Ceiling for the chip-side ALS threshold
	APDS9960_MIN_INT_TIME_US   int64  = 1000   ///< Shortest reportable integration time
	APDS9960_MAX_INT_TIME_US   int64  = 1000000

	// Every ALS channel reports the same fixed lux ratio: raw count / 10000.
	// This mirrors the upstream driver and has not been checked against a
	// photometric calibration.
	APDS9960_SCALE_NUM int = 0
	APDS9960_SCALE_DEN int = 10000
)

// APDS9960 register map
const (
	APDS9960_REGISTER_ENABLE  byte = 0x80 // Power on and engine enables
	APDS9960_REGISTER_ATIME   byte = 0x81 // ALS integration time, 256-cycle encoding
	APDS9960_REGISTER_WTIME   byte = 0x83 // Wait time between cycles
	APDS9960_REGISTER_AILTL   byte = 0x84 // ALS interrupt low threshold, low byte
	APDS9960_REGISTER_AILTH   byte = 0x85 // ALS interrupt low threshold, high byte
	APDS9960_REGISTER_AIHTL   byte = 0x86 // ALS interrupt high threshold, low byte
	APDS9960_REGISTER_AIHTH   byte = 0x87 // ALS interrupt high threshold, high byte
	APDS9960_REGISTER_PERS    byte = 0x8C // Interrupt persistence filter
	APDS9960_REGISTER_CONTROL byte = 0x8F // LED drive / gain control
	APDS9960_REGISTER_ID      byte = 0x92 // Device identification
	APDS9960_REGISTER_STATUS  byte = 0x93 // Device status
	APDS9960_REGISTER_CDATAL  byte = 0x94 // Clear channel data, low byte
	APDS9960_REGISTER_CDATAH  byte = 0x95 // Clear channel data, high byte
	APDS9960_REGISTER_RDATAL  byte = 0x96 // Red channel data, low byte
	APDS9960_REGISTER_RDATAH  byte = 0x97 // Red channel data, high byte
	APDS9960_REGISTER_GDATAL  byte = 0x98 // Green channel data, low byte
	APDS9960_REGISTER_GDATAH  byte = 0x99 // Green channel data, high byte
	APDS9960_REGISTER_BDATAL  byte = 0x9A // Blue channel data, low byte
	APDS9960_REGISTER_BDATAH  byte = 0x9B // Blue channel data, high byte
)

// ENABLE register flags
const (
	APDS9960_ENABLE_POWEROFF byte = 0x00 ///< Clears all enables, oscillator off
	APDS9960_ENABLE_PON      byte = 0x01 ///< Power on. Activates the internal oscillator.
	APDS9960_ENABLE_AEN      byte = 0x02 ///< ALS enable. Starts clear/RGB conversions.
	APDS9960_ENABLE_PEN      byte = 0x04 ///< Proximity enable (unused by this driver)
	APDS9960_ENABLE_WEN      byte = 0x08 ///< Wait enable
	APDS9960_ENABLE_AIEN     byte = 0x10 ///< ALS interrupt enable. Lets threshold crossings assert INT.
	APDS9960_ENABLE_GEN      byte = 0x40 ///< Gesture enable (unused by this driver)
)

// STATUS register flags
const (
	APDS9960_STATUS_AVALID byte = 0x01 ///< ALS data valid since last read
	APDS9960_STATUS_AINT   byte = 0x10 ///< ALS interrupt latched
)

// CONTROL register AGAIN codes. The ALS gain factors supported by the part.
const (
	APDS9960_AGAIN_1X  byte = 0x00
	APDS9960_AGAIN_4X  byte = 0x01
	APDS9960_AGAIN_16X byte = 0x02
	APDS9960_AGAIN_64X byte = 0x03
)

// Register access policy, matching the upstream register map:
// reads are confined to [ATIME, BDATAL]; the clear/red data bytes are
// volatile (always fetched live); the green/blue data bytes are precious
// (reading observes hardware state, so nothing may read them speculatively).
const (
	apds9960ReadableFirst byte = APDS9960_REGISTER_ATIME
	apds9960ReadableLast  byte = APDS9960_REGISTER_BDATAL
	apds9960VolatileFirst byte = APDS9960_REGISTER_CDATAL
	apds9960VolatileLast  byte = APDS9960_REGISTER_RDATAL
	apds9960PreciousFirst byte = APDS9960_REGISTER_GDATAL
	apds9960PreciousLast  byte = APDS9960_REGISTER_BDATAL
)

// Channel selects one of the four ALS photodiode outputs.
type Channel byte

const (
	ChannelClear Channel = iota
	ChannelRed
	ChannelGreen
	ChannelBlue
)

// Data registers are 16-bit little-endian pairs laid out in channel order
// above the clear-channel base address.
func (c Channel) address() byte {
	return APDS9960_REGISTER_CDATAL + 2*byte(c)
}

func (c Channel) valid() bool {
	return c <= ChannelBlue
}

func (c Channel) String() string {
	switch c {
	case ChannelClear:
		return "clear"
	case ChannelRed:
		return "red"
	case ChannelGreen:
		return "green"
	case ChannelBlue:
		return "blue"
	default:
		return "unknown"
	}
}

// ParseChannel maps a channel name to its Channel value.
func ParseChannel(name string) (Channel, error) {
	switch name {
	case "clear":
		return ChannelClear, nil
	case "red":
		return ChannelRed, nil
	case "green":
		return ChannelGreen, nil
	case "blue":
		return ChannelBlue, nil
	default:
		return 0, ErrInvalidChannel
	}
}

// Channels lists every ALS channel in register order.
func Channels() []Channel {
	return []Channel{ChannelClear, ChannelRed, ChannelGreen, ChannelBlue}
}

// GainRegValue maps an ALS amplification factor to its AGAIN register code.
// Only 1x, 4x, 16x and 64x exist on this part.
func GainRegValue(gain int) (byte, bool) {
	switch gain {
	case 1:
		return APDS9960_AGAIN_1X, true
	case 4:
		return APDS9960_AGAIN_4X, true
	case 16:
		return APDS9960_AGAIN_16X, true
	case 64:
		return APDS9960_AGAIN_64X, true
	default:
		return 0, false
	}
}

func GainToString(gain int) string {
	switch gain {
	case 1:
		return "1x"
	case 4:
		return "4x"
	case 16:
		return "16x"
	case 64:
		return "64x"
	default:
		return "unknown"
	}
}
