package conversation

import "testing"

func TestFlowStateTerminal(t *testing.T) {
	for _, f := range []FlowState{FlowCompleted, FlowFailed, FlowEscalated} {
		if !f.Terminal() {
			t.Errorf("%s should be terminal", f)
		}
	}
	for _, f := range []FlowState{FlowIdle, FlowGreeting, FlowCollectingSlots, FlowBooking} {
		if f.Terminal() {
			t.Errorf("%s should not be terminal", f)
		}
	}
}

func TestFlowStateInBookingLane(t *testing.T) {
	for _, f := range []FlowState{FlowIdle, FlowCollectingSlots, FlowPresentingSlots, FlowAwaitingConfirmation, FlowBooking} {
		if !f.InBookingLane() {
			t.Errorf("%s should be in the booking lane", f)
		}
	}
	for _, f := range []FlowState{FlowInfoSeeking, FlowEscalated, FlowCompleted} {
		if f.InBookingLane() {
			t.Errorf("%s should not be in the booking lane", f)
		}
	}
}

func TestFlowStateValid(t *testing.T) {
	if !FlowDisambiguating.Valid() {
		t.Error("defined state reported invalid")
	}
	if FlowState("negotiating").Valid() {
		t.Error("undefined state reported valid")
	}
	if FlowState("").Valid() {
		t.Error("empty state reported valid")
	}
}

func TestControlModeBotSilent(t *testing.T) {
	if ControlAgent.BotSilent() {
		t.Error("agent mode must not silence the bot")
	}
	if !ControlHuman.BotSilent() {
		t.Error("human mode must silence the bot")
	}
	if !ControlPaused.BotSilent() {
		t.Error("paused mode must silence the bot")
	}
}
