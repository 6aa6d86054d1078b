package apds9960

import "fmt"

// PowerPolicy is the external power-management collaborator. The driver
// requests "active" once on attach and releases the request on close; in
// between it assumes register access can fail whenever the request has not
// completed.
type PowerPolicy interface {
	RequestActive() error
	Release() error
}

// RegisterPower drives the chip's ENABLE register over the sensor
// transport: oscillator plus the ALS and ALS-interrupt engines on request,
// everything off on release. It is the userspace stand-in for the runtime
// power-management hooks the kernel driver leans on. ENABLE sits outside
// the driver's readable register window, so the collaborator talks to the
// transport directly rather than through the register cache.
type RegisterPower struct {
	tr Transport
}

func NewRegisterPower(tr Transport) *RegisterPower {
	return &RegisterPower{tr: tr}
}

func (p *RegisterPower) RequestActive() error {
	on := APDS9960_ENABLE_PON | APDS9960_ENABLE_AEN | APDS9960_ENABLE_AIEN
	if err := p.tr.WriteReg(APDS9960_REGISTER_ENABLE, []byte{on}); err != nil {
		return fmt.Errorf("%w: enable register: %v", ErrBus, err)
	}
	return nil
}

func (p *RegisterPower) Release() error {
	if err := p.tr.WriteReg(APDS9960_REGISTER_ENABLE, []byte{APDS9960_ENABLE_POWEROFF}); err != nil {
		return fmt.Errorf("%w: enable register: %v", ErrBus, err)
	}
	return nil
}
