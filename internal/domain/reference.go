package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// ExternalReference is the opaque token embedded in a gateway preference at
// creation time and decoded on notification receipt to recover the
// originating charge. Wire shape:
//
//	charge_<chargeID>_unit_<clubID>
//	charge_<chargeID>_unit_<clubID>_subunit_<teamID>
type ExternalReference struct {
	ChargeID int64
	ClubID   int64
	TeamID   *int64
}

// Encode renders the token in its wire shape.
func (r ExternalReference) Encode() string {
	token := fmt.Sprintf("charge_%d_unit_%d", r.ChargeID, r.ClubID)
	if r.TeamID != nil {
		token += fmt.Sprintf("_subunit_%d", *r.TeamID)
	}
	return token
}

// ParseExternalReference decodes a token received from the gateway. Tokens
// that do not match the expected shape return an error; callers on the
// reconciliation path treat that as a data-integrity signal, not a crash.
func ParseExternalReference(token string) (ExternalReference, error) {
	parts := strings.Split(strings.TrimSpace(token), "_")
	if len(parts) != 4 && len(parts) != 6 {
		return ExternalReference{}, fmt.Errorf("malformed external reference %q", token)
	}
	if parts[0] != "charge" || parts[2] != "unit" {
		return ExternalReference{}, fmt.Errorf("malformed external reference %q", token)
	}

	chargeID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ExternalReference{}, fmt.Errorf("malformed charge id in external reference %q", token)
	}
	clubID, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return ExternalReference{}, fmt.Errorf("malformed unit id in external reference %q", token)
	}

	ref := ExternalReference{ChargeID: chargeID, ClubID: clubID}
	if len(parts) == 6 {
		if parts[4] != "subunit" {
			return ExternalReference{}, fmt.Errorf("malformed external reference %q", token)
		}
		teamID, err := strconv.ParseInt(parts[5], 10, 64)
		if err != nil {
			return ExternalReference{}, fmt.Errorf("malformed subunit id in external reference %q", token)
		}
		ref.TeamID = &teamID
	}

	return ref, nil
}
