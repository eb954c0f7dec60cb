package event

// Type identifies the type of domain event
type Type string

const (
	TypeApprovalOpened   Type = "approval.opened"
	TypeApprovalAdvanced Type = "approval.advanced"
	TypeApprovalApproved Type = "approval.approved"
	TypeApprovalRejected Type = "approval.rejected"
)

// AllTypes lists every event type the engine emits
var AllTypes = []Type{
	TypeApprovalOpened,
	TypeApprovalAdvanced,
	TypeApprovalApproved,
	TypeApprovalRejected,
}

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the event closes an approval instance
func (t Type) IsTerminal() bool {
	return t == TypeApprovalApproved || t == TypeApprovalRejected
}
