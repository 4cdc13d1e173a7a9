package lead

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusNew         Status = "new"
	StatusContacted   Status = "contacted"
	StatusQualified   Status = "qualified"
	StatusProposal    Status = "proposal"
	StatusNegotiation Status = "negotiation"
	StatusWon         Status = "won"
	StatusLost        Status = "lost"
)

var statuses = []Status{
	StatusNew,
	StatusContacted,
	StatusQualified,
	StatusProposal,
	StatusNegotiation,
	StatusWon,
	StatusLost,
}

// remoteStatusCodes maps lower-cased remote status codes onto the internal enumeration.
var remoteStatusCodes = map[string]Status{
	"lead":           StatusNew,
	"open":           StatusNew,
	"replied":        StatusContacted,
	"interested":     StatusQualified,
	"opportunity":    StatusQualified,
	"quotation":      StatusProposal,
	"converted":      StatusWon,
	"lost quotation": StatusLost,
	"do not contact": StatusLost,
}

// Statuses returns the internal enumeration in pipeline order.
func Statuses() []Status {
	out := make([]Status, len(statuses))
	copy(out, statuses)
	return out
}

// MapRemoteStatus never fails: unknown codes become StatusNew.
func MapRemoteStatus(code string) Status {
	normalized := strings.ToLower(strings.TrimSpace(code))
	if normalized == "" {
		return StatusNew
	}
	if status, ok := remoteStatusCodes[normalized]; ok {
		return status
	}
	if status, err := ParseStatus(normalized); err == nil {
		return status
	}
	return StatusNew
}

// ParseStatus accepts only internal status names.
func ParseStatus(input string) (Status, error) {
	normalized := Status(strings.ToLower(strings.TrimSpace(input)))
	for _, status := range statuses {
		if status == normalized {
			return status, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, input)
}
