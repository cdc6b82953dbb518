package platform

import (
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// Outcome classifies the result of a remote Discord call so callers can
// branch on the failure class instead of sniffing error strings.
type Outcome int

const (
	// OutcomeOK indicates the call succeeded.
	OutcomeOK Outcome = iota
	// OutcomeNotFound indicates the target entity no longer exists
	// (unknown member/user/channel). Benign for override application.
	OutcomeNotFound
	// OutcomeForbidden indicates the bot lacks permission for the mutation.
	OutcomeForbidden
	// OutcomeRateLimited indicates the platform throttled the call.
	OutcomeRateLimited
	// OutcomeOther covers everything else (network faults, 5xx, decode errors).
	OutcomeOther
)

// String returns a human-readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeForbidden:
		return "forbidden"
	case OutcomeRateLimited:
		return "rate_limited"
	default:
		return "other"
	}
}

// Classify maps a Discord REST error to an Outcome.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}

	var rle *discordgo.RateLimitError
	if errors.As(err, &rle) {
		return OutcomeRateLimited
	}

	var rest *discordgo.RESTError
	if errors.As(err, &rest) {
		if rest.Message != nil {
			switch rest.Message.Code {
			case discordgo.ErrCodeUnknownMember,
				discordgo.ErrCodeUnknownUser,
				discordgo.ErrCodeUnknownChannel,
				discordgo.ErrCodeUnknownMessage:
				return OutcomeNotFound
			case discordgo.ErrCodeMissingPermissions,
				discordgo.ErrCodeMissingAccess:
				return OutcomeForbidden
			}
		}
		if rest.Response != nil {
			switch rest.Response.StatusCode {
			case http.StatusNotFound:
				return OutcomeNotFound
			case http.StatusForbidden:
				return OutcomeForbidden
			case http.StatusTooManyRequests:
				return OutcomeRateLimited
			}
		}
	}

	return OutcomeOther
}

// IsBenignMissing reports whether the error is the "target no longer exists"
// class that handlers suppress from logs entirely.
func IsBenignMissing(err error) bool {
	return Classify(err) == OutcomeNotFound
}
