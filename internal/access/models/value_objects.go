package models

import "slices"

// Status is the lifecycle state of a request. Only pending is non-terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

func (s Status) IsValid() bool {
	return slices.Contains([]Status{StatusPending, StatusApproved, StatusRejected, StatusExpired}, s)
}

func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusExpired
}

func (s Status) String() string {
	return string(s)
}

// DataType selects what a request discloses.
type DataType string

const (
	DataTypeReference DataType = "reference"
	DataTypeProfile   DataType = "profile"
	DataTypeFull      DataType = "full"
)

func (d DataType) IsValid() bool {
	return d == DataTypeReference || d == DataTypeProfile || d == DataTypeFull
}

// IncludesProfile reports whether profile fields are disclosed.
func (d DataType) IncludesProfile() bool {
	return d == DataTypeProfile || d == DataTypeFull
}

// IncludesReferences reports whether references are disclosed.
func (d DataType) IncludesReferences() bool {
	return d == DataTypeReference || d == DataTypeFull
}

type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
	PaymentFailed PaymentStatus = "failed"
)

func (p PaymentStatus) IsValid() bool {
	return p == PaymentUnpaid || p == PaymentPaid || p == PaymentFailed
}
