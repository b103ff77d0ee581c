package chatbot

import (
	"context"

	"Respondr/internal/dispatcher"
	"Respondr/internal/emergency"
	"Respondr/internal/events"
)

func (cb *ChatBot) onTransition(t emergency.Transition) {
	cb.logger.Info("emergency transition", "from", t.From.String(), "to", t.To.String())
	if t.To == emergency.Ended {
		return
	}
	if t.To == emergency.Normal {
		cb.bumpEpoch()
	}
	cb.emit(events.EmergencyChanged{Active: cb.machine.Active(), State: t.To})
}

// startCall dials and plays the connect sequence: calling notice, connected notice,
// typing indicator, opener.
func (cb *ChatBot) startCall(chatID string) {
	if err := cb.machine.Dial(); err != nil {
		cb.logger.Warn("cannot start call", "error", err)
		return
	}
	if cb.emergencyCalls != nil {
		cb.emergencyCalls.Add(context.Background(), 1)
	}

	callingID := cb.showNotice(emergency.CallingNotice, false)
	ticket := cb.epoch
	t := cb.timings

	cb.rt.After(t.Connect, func() {
		cb.emit(events.NoticeRemoved{ID: callingID})
		if cb.stale(ticket) {
			return
		}
		if err := cb.machine.Connect(); err != nil {
			cb.logger.Warn("cannot connect call", "error", err)
			return
		}
		cb.showNotice(emergency.ConnectedNotice, true)

		cb.rt.After(t.OpenerDelay, func() {
			if cb.stale(ticket) {
				return
			}
			loadingID := cb.showLoading()
			cb.rt.After(t.Typing, func() {
				cb.emit(events.LoadingRemoved{ID: loadingID})
				if cb.stale(ticket) {
					return
				}
				cb.appendAI(chatID, emergency.Opener)
			})
		})
	})
}

func (cb *ChatBot) dispatcherReply(chatID, text string) {
	loadingID := cb.showLoading()
	ticket := cb.epoch
	reply := dispatcher.Respond(text)

	cb.rt.After(cb.timings.DispatcherReply, func() {
		cb.emit(events.LoadingRemoved{ID: loadingID})
		if cb.stale(ticket) {
			return
		}
		cb.appendAI(chatID, reply)
	})
}

// endCall hangs up after a short pause, shows the ended notice, then confirms.
func (cb *ChatBot) endCall(chatID string) {
	loadingID := cb.showLoading()
	ticket := cb.epoch

	cb.rt.After(cb.timings.EndDelay, func() {
		cb.emit(events.LoadingRemoved{ID: loadingID})
		if cb.stale(ticket) {
			return
		}
		if err := cb.machine.Hangup(); err != nil {
			cb.logger.Warn("cannot end call", "error", err)
			return
		}
		cb.showNotice(emergency.EndedNotice, true)

		after := cb.epoch
		cb.rt.After(cb.timings.ConfirmDelay, func() {
			if cb.stale(after) {
				return
			}
			cb.appendAI(chatID, emergency.Confirmation)
		})
	})
}
