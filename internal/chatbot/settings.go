package chatbot

import (
	"context"
	"strings"

	"Respondr/internal/backend"
	"Respondr/internal/events"
	"Respondr/internal/store"
)

const (
	EmptyCredentialMessage   = "Please enter a valid API key"
	InvalidCredentialMessage = "Invalid API key. Please check and try again."
	CredentialSavedMessage   = "API key saved successfully"
)

// VerifyCredential probes the backend with candidate. It blocks, so it must run off
// the loop.
func (cb *ChatBot) VerifyCredential(ctx context.Context, candidate string) bool {
	ctx, cancel := context.WithTimeout(ctx, cb.requestTimeout)
	defer cancel()
	return cb.gen.Verify(ctx, candidate)
}

// SaveCredential verifies candidate in the background and keeps it when accepted. A
// save while another verification is pending is dropped.
func (cb *ChatBot) SaveCredential(candidate string) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		cb.emit(events.CredentialResult{Message: EmptyCredentialMessage})
		return
	}
	if cb.verifying {
		cb.logger.Debug("credential save dropped: verification pending")
		return
	}

	cb.verifying = true
	cb.rt.Go(func() func() {
		ok := cb.VerifyCredential(context.Background(), candidate)
		return func() { cb.finishCredential(candidate, ok) }
	})
}

func (cb *ChatBot) finishCredential(candidate string, ok bool) {
	cb.verifying = false
	fp := backend.Fingerprint(candidate)
	if !ok {
		cb.logger.Warn("credential rejected", "key", fp)
		cb.emit(events.CredentialResult{Message: InvalidCredentialMessage})
		return
	}

	cb.credential = candidate
	if !cb.persist.SaveCredential(candidate) {
		cb.logger.Warn("credential kept in memory only", "key", fp)
	}
	cb.logger.Info("credential accepted", "key", fp)
	cb.emit(events.CredentialResult{Accepted: true, Message: CredentialSavedMessage, Masked: cb.MaskedCredential()})
	cb.showNotice(CredentialSavedMessage, false)

	if chat, created := cb.model.EnsureActive(); created {
		cb.openView(chat)
		cb.scheduleGreeting(chat.ID)
	}
}

// ToggleTheme flips between dark and light and persists the choice.
func (cb *ChatBot) ToggleTheme() store.Theme {
	if cb.theme == store.ThemeLight {
		cb.theme = store.ThemeDark
	} else {
		cb.theme = store.ThemeLight
	}
	cb.persist.SaveTheme(cb.theme)
	cb.emit(events.ThemeChanged{Theme: cb.theme})
	cb.showNotice("Switched to "+string(cb.theme)+" theme", false)
	return cb.theme
}
