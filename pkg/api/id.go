package api

import (
	"math/big"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

type (
	// WorkitemUID is the SOP Instance UID of a workitem
	WorkitemUID string

	// TransactionUID is the capability token held by the actor that owns
	// an IN PROGRESS workitem
	TransactionUID string

	// SubscriptionID uniquely identifies a subscription
	SubscriptionID string

	// AETitle names an Application Entity subscribing to worklist events
	AETitle string
)

// Well-known UIDs from PS3.4 CC.2.3: subscribing to these instead of a
// specific workitem requests worklist-wide event delivery
const (
	GlobalSubscriptionUID   WorkitemUID = "1.2.840.10008.5.1.4.34.5"
	FilteredSubscriptionUID WorkitemUID = "1.2.840.10008.5.1.4.34.5.1"
)

// ValidUID matches a syntactically valid DICOM UID: dot-separated numeric
// components, no leading zeros on multi-digit components, max 64 chars
var ValidUID = regexp.MustCompile(`^(0|[1-9][0-9]*)(\.(0|[1-9][0-9]*))+$`)

// NewUID generates a UUID-derived DICOM UID under the 2.25 root
func NewUID() string {
	var n big.Int
	id := uuid.New()
	n.SetBytes(id[:])
	return "2.25." + n.String()
}

// NewWorkitemUID generates a fresh workitem UID
func NewWorkitemUID() WorkitemUID {
	return WorkitemUID(NewUID())
}

// NewTransactionUID generates a fresh transaction UID
func NewTransactionUID() TransactionUID {
	return TransactionUID(NewUID())
}

// NewSubscriptionID generates a fresh subscription identifier
func NewSubscriptionID() SubscriptionID {
	return SubscriptionID(uuid.NewString())
}

// IsValid reports whether the UID is syntactically a DICOM UID
func (u WorkitemUID) IsValid() bool {
	return len(u) <= 64 && ValidUID.MatchString(string(u))
}

// IsWellKnown reports whether the UID names the global or filtered
// subscription target rather than a specific workitem
func (u WorkitemUID) IsWellKnown() bool {
	return u == GlobalSubscriptionUID || u == FilteredSubscriptionUID
}

// IsValid reports whether the transaction UID is syntactically a DICOM UID
func (u TransactionUID) IsValid() bool {
	return len(u) <= 64 && ValidUID.MatchString(string(u))
}

// SanitizeAETitle uppercases and trims an AE title, removing characters
// outside the DICOM default character repertoire for AEs
func SanitizeAETitle(ae AETitle) AETitle {
	upper := strings.ToUpper(strings.TrimSpace(string(ae)))
	sanitized := invalidAEChars.ReplaceAllString(upper, "")
	if len(sanitized) > 16 {
		sanitized = sanitized[:16]
	}
	return AETitle(sanitized)
}

var invalidAEChars = regexp.MustCompile(`[^A-Z0-9_.\- ]`)
