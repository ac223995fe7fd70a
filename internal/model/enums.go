package model

// OptInKind distinguishes who initiated a double opt-in: the account
// offering its data (grant) or the would-be grantee asking for it (request).
type OptInKind string

const (
	OptInKindGrant   OptInKind = "grant"
	OptInKindRequest OptInKind = "request"
)

type OptInState string

const (
	OptInStateInitiated OptInState = "initiated"
	OptInStateAccepted  OptInState = "accepted"
	OptInStateDenied    OptInState = "denied"
	OptInStateExpired   OptInState = "expired"
)

// IsTerminal reports whether no further transition is allowed.
func (s OptInState) IsTerminal() bool {
	return s != OptInStateInitiated
}

// ResolveAction is the outcome of the temporal resolution logic: what the
// grantee should be offered for an (account, campaign) pair.
type ResolveAction string

const (
	ResolveActionCreate ResolveAction = "create"
	ResolveActionUpdate ResolveAction = "update"
	ResolveActionShare  ResolveAction = "share"
)

type UnitSystem string

const (
	UnitSystemStandard   UnitSystem = "standard"
	UnitSystemImperial   UnitSystem = "imperial"
	UnitSystemRank       UnitSystem = "rank"
	UnitSystemEnumerated UnitSystem = "enumerated"
	UnitSystemFreetext   UnitSystem = "freetext"
	UnitSystemDatetime   UnitSystem = "datetime"
)

// IsNumerical reports whether measured values in this system are numbers
// subject to equivalence conversion, as opposed to choice references.
func (s UnitSystem) IsNumerical() bool {
	switch s {
	case UnitSystemStandard, UnitSystemImperial, UnitSystemRank:
		return true
	}
	return false
}
