// Package tmc2209 configures a TMC2209 stepper driver over its single-wire
// UART.
package tmc2209

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"cubefw/mathx"
)

// Register addresses.
const (
	GCONF      = 0x00
	GSTAT      = 0x01
	IFCNT      = 0x02
	NODECONF   = 0x03
	IOIN       = 0x06
	IHOLD_IRUN = 0x10
	TPOWERDOWN = 0x11
	TSTEP      = 0x12
	CHOPCONF   = 0x6c
	DRV_STATUS = 0x6f
)

// GCONF bits.
const (
	iScaleAnalog   = 1 << 0
	shaft          = 1 << 3
	pdnDisable     = 1 << 6
	mstepRegSelect = 1 << 7
	multistepFilt  = 1 << 8
)

const (
	sync     = 0x05
	replyTo  = 0xff
	writeBit = 0x80

	mresShift = 24
	mresMask  = 0xf << mresShift
	toffMask  = 0xf
	toffOn    = 3

	// vfs is the full scale sense voltage, in volts.
	vfs = 0.325
)

// ErrNoReply is returned when the driver does not answer a read, which is
// what an unpowered or unwired driver looks like.
var ErrNoReply = errors.New("tmc2209: no reply")

// Device is one driver on the UART.
type Device struct {
	Bus  io.ReadWriter
	Addr uint8
	// Sense is the sense resistance in milliohm.
	Sense int
	// Echo is set when TX and RX share the wire, so every byte written is
	// read back before the reply.
	Echo bool
	// Invert reverses the motor direction in GCONF.
	Invert bool

	buf [12]byte
}

// CRC computes the datagram checksum (CRC-8, polynomial x^8+x^2+x+1,
// bytes shifted in LSB first).
func CRC(data []byte) byte {
	var crc byte
	for _, b := range data {
		for i := 0; i < 8; i++ {
			if (crc>>7)^(b&1) != 0 {
				crc = crc<<1 ^ 0x07
			} else {
				crc <<= 1
			}
			b >>= 1
		}
	}
	return crc
}

// Configure selects UART control of the microstep resolution and current
// and clears the status flags.
func (d *Device) Configure() error {
	gconf, err := d.Read(GCONF)
	if err != nil {
		return fmt.Errorf("tmc2209: read GCONF: %w", err)
	}
	gconf |= pdnDisable | mstepRegSelect | multistepFilt
	gconf &^= iScaleAnalog
	if d.Invert {
		gconf |= shaft
	} else {
		gconf &^= shaft
	}
	if err := d.Write(GCONF, gconf); err != nil {
		return fmt.Errorf("tmc2209: set GCONF: %w", err)
	}
	if err := d.Write(GSTAT, 0b111); err != nil {
		return fmt.Errorf("tmc2209: set GSTAT: %w", err)
	}
	return nil
}

// SetMicrosteps sets the microstep resolution. 0 selects full steps, other
// values must be a power of two up to 256.
func (d *Device) SetMicrosteps(n uint16) error {
	mres, ok := mresFor(n)
	if !ok {
		return fmt.Errorf("tmc2209: unsupported microstep count %d", n)
	}
	chop, err := d.Read(CHOPCONF)
	if err != nil {
		return fmt.Errorf("tmc2209: read CHOPCONF: %w", err)
	}
	chop = chop&^mresMask | uint32(mres)<<mresShift
	if chop&toffMask == 0 {
		chop |= toffOn
	}
	if err := d.Write(CHOPCONF, chop); err != nil {
		return fmt.Errorf("tmc2209: set CHOPCONF: %w", err)
	}
	return nil
}

// Microsteps reads the microstep resolution back, 0 meaning full steps.
func (d *Device) Microsteps() (uint16, error) {
	chop, err := d.Read(CHOPCONF)
	if err != nil {
		return 0, err
	}
	mres := (chop & mresMask) >> mresShift
	if mres >= 8 {
		return 0, nil
	}
	return 256 >> mres, nil
}

func mresFor(n uint16) (uint8, bool) {
	if n == 0 || n == 1 {
		return 8, true
	}
	for mres := uint8(0); mres < 8; mres++ {
		if 256>>mres == int(n) {
			return mres, true
		}
	}
	return 0, false
}

// SetRunCurrent sets the RMS run current in mA. The hold current is half of
// it.
func (d *Device) SetRunCurrent(mA uint16) error {
	if d.Sense <= 0 {
		return errors.New("tmc2209: sense resistance not set")
	}
	irun := CurrentScale(int(mA), d.Sense)
	ihold := irun / 2
	v := uint32(8)<<16 | uint32(irun)<<8 | uint32(ihold)
	if err := d.Write(IHOLD_IRUN, v); err != nil {
		return fmt.Errorf("tmc2209: set IHOLD_IRUN: %w", err)
	}
	return nil
}

// CurrentScale converts an RMS current in mA and a sense resistance in mΩ to
// the 5 bit current scale:
//
//	CS = 32*Irms*√2*(Rsense+20mΩ)/Vfs - 1
func CurrentScale(mA, senseMilliOhm int) uint8 {
	cs := 32*float64(mA)/1000*math.Sqrt2*(float64(senseMilliOhm)/1000+.02)/vfs - 1
	return uint8(mathx.Clamp(math.Round(cs), 0, 31))
}

// Status returns an error when GSTAT reports a reset, a driver error or
// charge pump undervoltage.
func (d *Device) Status() error {
	stat, err := d.Read(GSTAT)
	if err != nil {
		return err
	}
	if stat&0b111 != 0 {
		return fmt.Errorf("tmc2209: status flags %03b", stat&0b111)
	}
	return nil
}

// Read reads one register.
func (d *Device) Read(reg uint8) (uint32, error) {
	req := d.buf[:4]
	req[0], req[1], req[2] = sync, d.Addr, reg&^writeBit
	req[3] = CRC(req[:3])
	if _, err := d.Bus.Write(req); err != nil {
		return 0, fmt.Errorf("write request: %w", err)
	}
	if d.Echo {
		if _, err := io.ReadFull(d.Bus, d.buf[4:8]); err != nil {
			return 0, fmt.Errorf("read echo: %w", err)
		}
	}
	reply := d.buf[4:12]
	if _, err := io.ReadFull(d.Bus, reply); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, ErrNoReply
		}
		return 0, fmt.Errorf("read reply: %w", err)
	}
	switch {
	case reply[0] != sync || reply[1] != replyTo:
		return 0, fmt.Errorf("tmc2209: bad reply header % x", reply[:2])
	case reply[2] != reg&^writeBit:
		return 0, fmt.Errorf("tmc2209: reply for register %#x, want %#x", reply[2], reg)
	case CRC(reply[:7]) != reply[7]:
		return 0, fmt.Errorf("tmc2209: reply CRC mismatch")
	}
	return binary.BigEndian.Uint32(reply[3:7]), nil
}

// Write writes one register and checks the interface counter advanced.
func (d *Device) Write(reg uint8, val uint32) error {
	before, err := d.Read(IFCNT)
	if err != nil {
		return err
	}
	dg := d.buf[:8]
	dg[0], dg[1], dg[2] = sync, d.Addr, reg|writeBit
	binary.BigEndian.PutUint32(dg[3:7], val)
	dg[7] = CRC(dg[:7])
	if _, err := d.Bus.Write(dg); err != nil {
		return fmt.Errorf("write datagram: %w", err)
	}
	if d.Echo {
		if _, err := io.ReadFull(d.Bus, d.buf[:8]); err != nil {
			return fmt.Errorf("read echo: %w", err)
		}
	}
	after, err := d.Read(IFCNT)
	if err != nil {
		return err
	}
	if uint8(after)-uint8(before) != 1 {
		return fmt.Errorf("tmc2209: write to %#x not acknowledged", reg)
	}
	return nil
}
