package progressive

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LevelType is how a level is funded and resolved.
type LevelType int

const (
	LevelTypeSap LevelType = iota
	LevelTypeSelectable
	LevelTypeLP
)

var levelTypeNames = []string{"sap", "selectable", "lp"}

func (t LevelType) String() string { return enumName(levelTypeNames, int(t)) }

// MarshalText implements encoding.TextMarshaler.
func (t LevelType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *LevelType) UnmarshalText(b []byte) error { return parseEnum(levelTypeNames, string(b), (*int)(t)) }

// ParseLevelType parses a manifest level type, defaulting to sap.
func ParseLevelType(s string) (LevelType, error) {
	var t LevelType
	if s == "" {
		return LevelTypeSap, nil
	}
	err := t.UnmarshalText([]byte(s))
	return t, err
}

// FundingType selects the calculator strategy of a level.
type FundingType int

const (
	FundingStandard FundingType = iota
	// FundingBulkOnly levels receive pre-aggregated contributions only.
	FundingBulkOnly
)

var fundingTypeNames = []string{"standard", "bulk_only"}

func (t FundingType) String() string { return enumName(fundingTypeNames, int(t)) }

// MarshalText implements encoding.TextMarshaler.
func (t FundingType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FundingType) UnmarshalText(b []byte) error {
	return parseEnum(fundingTypeNames, string(b), (*int)(t))
}

// ParseFundingType parses a manifest funding type, defaulting to standard.
func ParseFundingType(s string) (FundingType, error) {
	var t FundingType
	if s == "" {
		return FundingStandard, nil
	}
	err := t.UnmarshalText([]byte(s))
	return t, err
}

// TriggerControl decides what triggers a win.
type TriggerControl int

const (
	TriggerStandard TriggerControl = iota
	TriggerMystery
)

var triggerControlNames = []string{"standard", "mystery"}

func (t TriggerControl) String() string { return enumName(triggerControlNames, int(t)) }

// MarshalText implements encoding.TextMarshaler.
func (t TriggerControl) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *TriggerControl) UnmarshalText(b []byte) error {
	return parseEnum(triggerControlNames, string(b), (*int)(t))
}

// ParseTriggerControl parses a manifest trigger control, defaulting to standard.
func ParseTriggerControl(s string) (TriggerControl, error) {
	var t TriggerControl
	if s == "" {
		return TriggerStandard, nil
	}
	err := t.UnmarshalText([]byte(s))
	return t, err
}

// AssignableProgressiveType is the kind of pool a level is attached to.
type AssignableProgressiveType int

const (
	AssignNone AssignableProgressiveType = iota
	AssignCustomSap
	AssignAssociativeSap
	AssignLinked
)

var assignTypeNames = []string{"none", "custom_sap", "associative_sap", "linked"}

func (t AssignableProgressiveType) String() string { return enumName(assignTypeNames, int(t)) }

// MarshalText implements encoding.TextMarshaler.
func (t AssignableProgressiveType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *AssignableProgressiveType) UnmarshalText(b []byte) error {
	return parseEnum(assignTypeNames, string(b), (*int)(t))
}

// AssignableProgressiveID points a level at the pool that owns its value.
// Key is a shared SAP id or a linked level name.
type AssignableProgressiveID struct {
	Type AssignableProgressiveType `json:"type"`
	Key  string                    `json:"key,omitempty"`
}

// IsAssigned reports whether the level is attached to a pool.
func (a AssignableProgressiveID) IsAssigned() bool { return a.Type != AssignNone }

func (a AssignableProgressiveID) String() string {
	if a.Key == "" {
		return a.Type.String()
	}
	return a.Type.String() + ":" + a.Key
}

// LevelState is the lifecycle state of a level.
type LevelState int

const (
	StateInit LevelState = iota
	StateReady
	StateActive
	StateHit
	StateCommitted
	StatePending
)

var levelStateNames = []string{"init", "ready", "active", "hit", "committed", "pending"}

func (s LevelState) String() string { return enumName(levelStateNames, int(s)) }

// MarshalText implements encoding.TextMarshaler.
func (s LevelState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *LevelState) UnmarshalText(b []byte) error {
	return parseEnum(levelStateNames, string(b), (*int)(s))
}

// ErrorFlags are recoverable faults carried on a level. They are state, not errors.
type ErrorFlags uint32

const (
	ErrorMinimumThresholdNotReached ErrorFlags = 1 << iota
	ErrorUpdateTimeout
	ErrorCommitTimeout
	ErrorDisconnected
	// ErrorLinkedAmount marks a level whose linked pool reports an unusable amount.
	ErrorLinkedAmount
)

var errorFlagNames = []string{"minimum_threshold_not_reached", "update_timeout", "commit_timeout", "disconnected", "linked_amount"}

// Has reports whether all bits of f are set.
func (e ErrorFlags) Has(f ErrorFlags) bool { return e&f == f }

// With returns e with f set or cleared.
func (e ErrorFlags) With(f ErrorFlags, set bool) ErrorFlags {
	if set {
		return e | f
	}
	return e &^ f
}

func (e ErrorFlags) String() string {
	if e == 0 {
		return "none"
	}
	var parts []string
	for i, name := range errorFlagNames {
		if e&(1<<i) != 0 {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, "|")
}

// PayMethod is how a win is paid out.
type PayMethod int

const (
	PayUnknown PayMethod = iota
	PayCreditMeter
	PayHandpay
)

var payMethodNames = []string{"unknown", "credit_meter", "handpay"}

func (p PayMethod) String() string { return enumName(payMethodNames, int(p)) }

// MarshalText implements encoding.TextMarshaler.
func (p PayMethod) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *PayMethod) UnmarshalText(b []byte) error {
	return parseEnum(payMethodNames, string(b), (*int)(p))
}

// PoolValue holds the money fields shared by every pool kind. All amounts are millicents.
type PoolValue struct {
	CurrentValue int64 `json:"currentValue"`
	InitialValue int64 `json:"initialValue"`
	ResetValue   int64 `json:"resetValue"`
	// MaximumValue of zero means no ceiling.
	MaximumValue int64 `json:"maximumValue"`
	// Residual is the sub-millicent carry, always in [0, Divisor).
	Residual int64 `json:"residual"`
	Overflow int64 `json:"overflow"`
	// OverflowTotal never decreases; Reset and Claim leave it alone.
	OverflowTotal       int64           `json:"overflowTotal"`
	HiddenValue         int64           `json:"hiddenValue"`
	HiddenTotal         int64           `json:"hiddenTotal"`
	IncrementRate       decimal.Decimal `json:"incrementRate"`
	HiddenIncrementRate decimal.Decimal `json:"hiddenIncrementRate"`
}

// Pool is anything a calculator can operate on.
type Pool interface {
	Value() *PoolValue
	// LockEdit freezes configuration once contributions begin.
	LockEdit()
}

// ProgressiveLevel is one funding pool instance for a pack/game/denom/bet option/level tuple.
type ProgressiveLevel struct {
	DeviceID      int     `json:"deviceId"`
	LevelID       int     `json:"levelId"`
	LevelName     string  `json:"levelName"`
	PackName      string  `json:"packName"`
	PackID        int     `json:"packId"`
	GameID        int     `json:"gameId"`
	Denominations []int64 `json:"denominations"`
	BetOption     string  `json:"betOption,omitempty"`
	WagerCredits  int     `json:"wagerCredits,omitempty"`
	CreationType  string  `json:"creationType,omitempty"`

	LevelType      LevelType      `json:"levelType"`
	FundingType    FundingType    `json:"fundingType"`
	TriggerControl TriggerControl `json:"triggerControl"`

	PoolValue

	AssignedProgressiveID AssignableProgressiveID `json:"assignedProgressiveId"`
	CurrentState          LevelState              `json:"currentState"`
	Errors                ErrorFlags              `json:"errors"`
	CanEdit               bool                    `json:"canEdit"`
}

// Value implements Pool.
func (l *ProgressiveLevel) Value() *PoolValue { return &l.PoolValue }

// LockEdit implements Pool. Only standalone levels lock on contribution.
func (l *ProgressiveLevel) LockEdit() {
	if l.LevelType == LevelTypeSap {
		l.CanEdit = false
	}
}

// Clone returns a deep copy safe to hand across component boundaries.
func (l ProgressiveLevel) Clone() ProgressiveLevel {
	l.Denominations = slices.Clone(l.Denominations)
	return l
}

// HasDenomination reports whether the level plays at denom.
func (l *ProgressiveLevel) HasDenomination(denom int64) bool {
	return slices.Contains(l.Denominations, denom)
}

// identityKey is the stable catalog key of a level.
func (l *ProgressiveLevel) identityKey() string {
	denoms := make([]string, len(l.Denominations))
	for i, d := range l.Denominations {
		denoms[i] = strconv.FormatInt(d, 10)
	}
	return fmt.Sprintf("%s|%d|%d|%s|%s|%d|%d",
		l.PackName, l.PackID, l.GameID, strings.Join(denoms, ","), l.BetOption, l.WagerCredits, l.LevelID)
}

// ClaimState is the linked claim sub-state.
type ClaimState int

const (
	ClaimNone ClaimState = iota
	ClaimHit
	ClaimClaimed
	ClaimAwarded
)

var claimStateNames = []string{"none", "hit", "claimed", "awarded"}

func (c ClaimState) String() string { return enumName(claimStateNames, int(c)) }

// MarshalText implements encoding.TextMarshaler.
func (c ClaimState) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ClaimState) UnmarshalText(b []byte) error {
	return parseEnum(claimStateNames, string(b), (*int)(c))
}

// LinkedProgressiveClaimStatus tracks one outstanding linked win.
type LinkedProgressiveClaimStatus struct {
	Status        ClaimState `json:"status"`
	TransactionID int64      `json:"transactionId,omitempty"`
	WinAmount     int64      `json:"winAmount,omitempty"`
	HitTime       time.Time  `json:"hitTime,omitempty"`
	ExpiredTime   time.Time  `json:"expiredTime,omitempty"`
}

// LinkedProgressiveLevel mirrors a pool whose value and lifecycle live on an external host.
type LinkedProgressiveLevel struct {
	LevelName          string `json:"levelName"`
	ProtocolName       string `json:"protocolName"`
	ProgressiveGroupID int    `json:"progressiveGroupId"`
	LevelID            int    `json:"levelId"`
	Amount             int64  `json:"amount"`
	// Expiration is when the last host update goes stale. Zero never expires.
	Expiration         time.Time                    `json:"expiration,omitempty"`
	ClaimStatus        LinkedProgressiveClaimStatus `json:"claimStatus"`
	CurrentErrorStatus ErrorFlags                   `json:"currentErrorStatus"`
}

// SharedSapLevel is a standalone pool shared by several game/denom configurations.
type SharedSapLevel struct {
	ID             string         `json:"id"`
	Name           string         `json:"name"`
	FundingType    FundingType    `json:"fundingType"`
	TriggerControl TriggerControl `json:"triggerControl"`

	PoolValue

	CanEdit            bool       `json:"canEdit"`
	AutoGenerated      bool       `json:"autoGenerated"`
	CurrentErrorStatus ErrorFlags `json:"currentErrorStatus"`
}

// Value implements Pool.
func (s *SharedSapLevel) Value() *PoolValue { return &s.PoolValue }

// LockEdit implements Pool.
func (s *SharedSapLevel) LockEdit() { s.CanEdit = false }

// TransactionState is the lifecycle of a jackpot transaction.
type TransactionState int

const (
	// TransactionHit waits for the owning pool to claim.
	TransactionHit TransactionState = iota
	// TransactionPending has a win amount and waits for commit.
	TransactionPending
	TransactionCommitted
)

var transactionStateNames = []string{"hit", "pending", "committed"}

func (s TransactionState) String() string { return enumName(transactionStateNames, int(s)) }

// MarshalText implements encoding.TextMarshaler.
func (s TransactionState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *TransactionState) UnmarshalText(b []byte) error {
	return parseEnum(transactionStateNames, string(b), (*int)(s))
}

// JackpotTransaction records one win from hit to commit, with a snapshot of the level at hit time.
type JackpotTransaction struct {
	TransactionID         int64                   `json:"transactionId"`
	DeviceID              int                     `json:"deviceId"`
	LevelID               int                     `json:"levelId"`
	LevelName             string                  `json:"levelName"`
	PackName              string                  `json:"packName"`
	GameID                int                     `json:"gameId"`
	Denomination          int64                   `json:"denomination"`
	AssignedProgressiveID AssignableProgressiveID `json:"assignedProgressiveId"`
	TriggerControl        TriggerControl          `json:"triggerControl"`
	State                 TransactionState        `json:"state"`
	ValueAtHit            int64                   `json:"valueAtHit"`
	ResetValue            int64                   `json:"resetValue"`
	HiddenValue           int64                   `json:"hiddenValue"`
	Overflow              int64                   `json:"overflow"`
	WinAmount             int64                   `json:"winAmount"`
	PaidAmount            int64                   `json:"paidAmount"`
	PayMethod             PayMethod               `json:"payMethod"`
	HitTime               time.Time               `json:"hitTime"`
	PaidTime              time.Time               `json:"paidTime,omitempty"`
}

func enumName(names []string, v int) string {
	if v >= 0 && v < len(names) {
		return names[v]
	}
	return "unknown(" + strconv.Itoa(v) + ")"
}

func parseEnum(names []string, s string, out *int) error {
	i := slices.Index(names, strings.ToLower(s))
	if i < 0 {
		return fmt.Errorf("unknown value %q, expected one of %s", s, strings.Join(names, ", "))
	}
	*out = i
	return nil
}
