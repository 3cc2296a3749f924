//go:build rp2040

package main

import (
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"cubefw/core"
)

// Step program. Each command word is
//
//	bits 0-15:  pulses minus one
//	bits 16-23: delay loops between pulses minus one
//	bit 24:     direction level
//
// and the state machine emits the pulses with a fixed high time.
func buildStepperProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		asm.Pull(false, true).Encode(),          // 0: pull block
		asm.Out(rp2pio.OutDestX, 16).Encode(),   // 1: out x, 16
		asm.Out(rp2pio.OutDestY, 8).Encode(),    // 2: out y, 8
		asm.Out(rp2pio.OutDestPins, 1).Encode(), // 3: out pins, 1
		// step_loop:
		asm.Set(rp2pio.SetDestPins, 1).Delay(7).Encode(), // 4: set pins, 1 [7]
		asm.Set(rp2pio.SetDestPins, 0).Encode(),          // 5: set pins, 0
		// delay_loop:
		asm.Jmp(6, rp2pio.JmpYNZeroDec).Encode(), // 6: jmp y--, 6
		asm.Jmp(4, rp2pio.JmpXNZeroDec).Encode(), // 7: jmp x--, 4
	}
}

const (
	stepperPIOOrigin = 0
	// 125 MHz / 25 gives 200 ns per PIO cycle, a 1.6 us step pulse.
	stepperClkDiv = 25
	dirBit        = 1 << 24
)

// PIOStepperBackend implements core.StepperBackend on a PIO state machine.
type PIOStepperBackend struct {
	pio       *rp2pio.PIO
	sm        rp2pio.StateMachine
	stepPin   machine.Pin
	dirPin    machine.Pin
	invertDir bool
	direction bool
}

// NewPIOStepperBackend uses state machine smNum of PIO block pioNum.
func NewPIOStepperBackend(pioNum, smNum uint8) *PIOStepperBackend {
	hw := rp2pio.PIO0
	if pioNum == 1 {
		hw = rp2pio.PIO1
	}
	return &PIOStepperBackend{pio: hw, sm: hw.StateMachine(smNum)}
}

// Init loads the program and claims the pins. Step inversion is not
// supported by the program.
func (b *PIOStepperBackend) Init(stepPin, dirPin uint8, invertStep, invertDir bool) error {
	if invertStep {
		return core.Errorf(core.ConfigRejected, "pio stepper", "inverted step output not supported")
	}
	b.stepPin = machine.Pin(stepPin)
	b.dirPin = machine.Pin(dirPin)
	b.invertDir = invertDir

	if !b.sm.TryClaim() {
		return core.Errorf(core.HardwareConnection, "pio stepper", "state machine in use")
	}
	program := buildStepperProgram()
	offset, err := b.pio.AddProgram(program, stepperPIOOrigin)
	if err != nil {
		return core.Wrap(core.HardwareConnection, "pio stepper", err)
	}

	b.stepPin.Configure(machine.PinConfig{Mode: b.pio.PinMode()})
	b.dirPin.Configure(machine.PinConfig{Mode: b.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(b.stepPin, 1)
	cfg.SetOutPins(b.dirPin, 1)
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	cfg.SetClkDivIntFrac(stepperClkDiv, 0)

	// Pin directions must be set after Init.
	b.sm.Init(offset, cfg)
	b.sm.SetPindirsConsecutive(b.stepPin, 1, true)
	b.sm.SetPindirsConsecutive(b.dirPin, 1, true)
	b.sm.SetPinsConsecutive(b.stepPin, 1, false)
	b.sm.SetPinsConsecutive(b.dirPin, 1, invertDir)
	b.sm.SetEnabled(true)
	return nil
}

// Step queues one pulse, blocking while the FIFO is full.
func (b *PIOStepperBackend) Step() {
	var cmd uint32
	if b.direction != b.invertDir {
		cmd |= dirBit
	}
	for b.sm.IsTxFIFOFull() {
	}
	b.sm.TxPut(cmd)
}

// SetDirection takes effect with the next queued pulse.
func (b *PIOStepperBackend) SetDirection(dir bool) {
	b.direction = dir
}

// Stop drops queued pulses.
func (b *PIOStepperBackend) Stop() {
	b.sm.SetEnabled(false)
	b.sm.ClearFIFOs()
	b.sm.Restart()
	b.sm.SetEnabled(true)
}

func (b *PIOStepperBackend) GetName() string {
	return "PIO"
}
