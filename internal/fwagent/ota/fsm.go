package ota

import (
	"github.com/looplab/fsm"

	fsmutil "github.com/autopeer-io/fwagent/internal/pkg/util/fsm"
)

// States of an update attempt.
const (
	StateIdle         = "idle"
	StateSelectTarget = "select-target"
	StateConnect      = "connect"
	StateHeaderCheck  = "header-check"
	StateWriting      = "writing"
	StateFinalize     = "finalize"
	StateActivate     = "activate"
	StateReboot       = "reboot"
	StateAborted      = "aborted"
)

const (
	// EventStart begins an attempt.
	EventStart = "event_start"
	// EventConnect opens the image stream.
	EventConnect = "event_connect"
	// EventReceive reads and checks the image prefix.
	EventReceive = "event_receive"
	// EventWrite streams the rest of the image into the session.
	EventWrite = "event_write"
	// EventFinalize closes and validates the session.
	EventFinalize = "event_finalize"
	// EventActivate selects the new partition for boot.
	EventActivate = "event_activate"
	// EventReboot restarts into the new image.
	EventReboot = "event_reboot"
	// EventAbort releases everything and ends the attempt.
	EventAbort = "event_abort"
	// EventReset returns the machine to idle.
	EventReset = "event_reset"
)

// newStateMachine wires the attempt states to the engine actions.
// Every action receives the *attempt as its first argument and either sets
// attempt.next or returns an abortError.
func (e *Engine) newStateMachine() *fsm.FSM {
	working := []string{StateSelectTarget, StateConnect, StateHeaderCheck, StateWriting, StateFinalize, StateActivate}

	events := fsm.Events{
		{Name: EventStart, Src: []string{StateIdle}, Dst: StateSelectTarget},
		{Name: EventConnect, Src: []string{StateSelectTarget}, Dst: StateConnect},
		{Name: EventReceive, Src: []string{StateConnect}, Dst: StateHeaderCheck},
		{Name: EventWrite, Src: []string{StateHeaderCheck}, Dst: StateWriting},
		{Name: EventFinalize, Src: []string{StateHeaderCheck, StateWriting}, Dst: StateFinalize},
		{Name: EventActivate, Src: []string{StateFinalize}, Dst: StateActivate},
		{Name: EventReboot, Src: []string{StateActivate}, Dst: StateReboot},
		{Name: EventAbort, Src: working, Dst: StateAborted},
		{Name: EventReset, Src: []string{StateAborted, StateReboot}, Dst: StateIdle},
	}

	callbacks := fsm.Callbacks{
		"enter_" + StateSelectTarget: fsmutil.WrapEvent(e.actionSelectTarget),
		"enter_" + StateConnect:      fsmutil.WrapEvent(e.actionConnect),
		"enter_" + StateHeaderCheck:  fsmutil.WrapEvent(e.actionHeaderCheck),
		"enter_" + StateWriting:      fsmutil.WrapEvent(e.actionWrite),
		"enter_" + StateFinalize:     fsmutil.WrapEvent(e.actionFinalize),
		"enter_" + StateActivate:     fsmutil.WrapEvent(e.actionActivate),
		"enter_" + StateReboot:       fsmutil.WrapEvent(e.actionReboot),
		"enter_" + StateAborted:      fsmutil.WrapEvent(e.actionAbort),
	}

	return fsm.NewFSM(StateIdle, events, callbacks)
}
