// Package i18n renders engine outcomes in the display vocabulary of the
// host ("gang" or "guild"). The engine itself never depends on the noun.
package i18n

import (
	"fmt"
	"strings"

	"guildkeep/bizerror"
)

type Vocabulary struct {
	Noun   string
	Plural string
}

var (
	Gang  = Vocabulary{Noun: "gang", Plural: "gangs"}
	Guild = Vocabulary{Noun: "guild", Plural: "guilds"}
)

func ForNoun(noun string) (Vocabulary, error) {
	switch strings.ToLower(strings.TrimSpace(noun)) {
	case Gang.Noun:
		return Gang, nil
	case Guild.Noun:
		return Guild, nil
	}
	return Vocabulary{}, fmt.Errorf("unsupported group noun %q", noun)
}

var messages = map[string]string{
	"group.not_found":              "That %s does not exist.",
	"group.not_member":             "You are not a member of that %s.",
	"group.member_already_removed": "That player already left the %s.",
	"group.no_audience":            "Nobody from your %s is online.",
	"group.name_taken":             "A %s with that name already exists.",
	"group.already_member":         "That player is already in a %s.",
	"group.not_leader":             "Only the %s leader can do that.",
	"group.leader_removal":         "The %s leader cannot be removed; transfer leadership or disband first.",
	"group.self_target":            "You cannot target yourself in your own %s.",
	"group.disband_required":       "You are the last member; disband the %s instead.",
	"group.invalid_name":           "That is not a valid %s name.",
	"group.invalid_description":    "That %s description is too long.",
	"invite.not_found":             "You have no pending %s invite.",
	"invite.group_gone":            "The %s that invited you no longer exists.",
	"invite.pending":               "That player already has a pending %s invite.",
	"invite.expired":               "Your %s invite has expired.",
	"confirmation.not_found":       "There is nothing to confirm for your %s.",
	"confirmation.expired":         "Your %s confirmation has expired.",
}

var kindMessages = map[bizerror.Kind]string{
	bizerror.NotFound:       "That %s record was not found.",
	bizerror.Conflict:       "That %s change conflicts with another one.",
	bizerror.Forbidden:      "You are not allowed to do that in this %s.",
	bizerror.InvalidInput:   "That %s request is not valid.",
	bizerror.Expired:        "That %s request has expired.",
	bizerror.StorageFailure: "The %s store is unavailable, try again later.",
}

// Message renders err for a player. Stale confirmations are prefixed so the
// player understands the world changed between propose and confirm.
func (v Vocabulary) Message(err error) string {
	if err == nil {
		return ""
	}
	var text string
	if tmpl, ok := messages[bizerror.Code(err)]; ok {
		text = fmt.Sprintf(tmpl, v.Noun)
	} else if tmpl, ok := kindMessages[bizerror.KindOf(err)]; ok {
		text = fmt.Sprintf(tmpl, v.Noun)
	} else {
		text = "Something went wrong."
	}
	if bizerror.IsStaleConfirmation(err) {
		return "Confirmation is no longer valid: " + text
	}
	return text
}

func (v Vocabulary) Title() string {
	if v.Noun == "" {
		return ""
	}
	return strings.ToUpper(v.Noun[:1]) + v.Noun[1:]
}
