package pipeline

import (
	"time"

	"github.com/Agent-Zoey/Zoey-sub001/ratelimit"
)

// ACL names the allow-lists an admission check is evaluated against.
type ACL struct {
	AllowedChats []string
	AllowedUsers []string
}

func contains(list []string, v string) bool {
	if len(list) == 0 {
		return true // no allow-list configured means unrestricted
	}
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Allowed reports whether chatID/userID pass the ACL.
func (a ACL) Allowed(chatID, userID string) bool {
	return contains(a.AllowedChats, chatID) && contains(a.AllowedUsers, userID)
}

// AddressedToMe reports whether a message counts as addressed to the agent:
// a private message, an explicit mention, a reply to the bot's own prior
// message, or membership in an explicitly allowed (always-on) chat.
func AddressedToMe(msg InboundMessage, alwaysOnChats []string) bool {
	if msg.IsPrivate || msg.Mentioned {
		return true
	}
	if msg.ReplyToExternalID != "" {
		return true
	}
	return contains(alwaysOnChats, msg.ChatID)
}

// AdmissionLimiter bundles the rate limiter and ACL used at the Admitted
// transition. The sliding window is keyed per spec.md §4.6: window=60s,
// max=30 per (chat, user).
type AdmissionLimiter struct {
	window *ratelimit.SlidingWindow
	acl    ACL
	alwaysOnChats []string
}

// NewAdmissionLimiter constructs the default 60s/30-event window with the
// given ACL and always-addressed chat list.
func NewAdmissionLimiter(acl ACL, alwaysOnChats []string) *AdmissionLimiter {
	return &AdmissionLimiter{
		window:        ratelimit.NewSlidingWindow(60*time.Second, 30),
		acl:           acl,
		alwaysOnChats: alwaysOnChats,
	}
}

// Check runs the rate-limit, ACL, and addressed-to-me gates in that order,
// per spec.md §4.6, returning ok=true only if all three pass. On the first
// failing gate it returns the corresponding DropReason and stops — it does
// not evaluate later gates once an earlier one has failed.
func (a *AdmissionLimiter) Check(msg InboundMessage) (ok bool, reason DropReason) {
	key := msg.ChatID + ":" + msg.UserExternalID
	if !a.window.Check(key) {
		return false, DropRateLimited
	}
	if !a.acl.Allowed(msg.ChatID, msg.UserExternalID) {
		return false, DropNotAllowed
	}
	if !AddressedToMe(msg, a.alwaysOnChats) {
		return false, DropNotAddressed
	}
	return true, ""
}
