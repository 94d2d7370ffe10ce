package core

const (
	DriverFixed         DriverType = "FIXED"
	DriverHeadcount     DriverType = "HEADCOUNT"
	DriverSubjectAmount DriverType = "SUBJECT_AMOUNT"
	DriverKPI           DriverType = "KPI"
)

// DriverType is the closed set of rules a step can use to split its source.
type DriverType string

// Driver describes how the weights of a step are obtained.
// ReferenceSubjectID is read by SUBJECT_AMOUNT, KPICode by KPI.
type Driver struct {
	Type               DriverType `json:"type"`
	ReferenceSubjectID string     `json:"referenceSubjectId,omitempty"`
	KPICode            string     `json:"kpiCode,omitempty"`
}

// DriverTypes lists every supported driver in a stable order.
func DriverTypes() []DriverType {
	return []DriverType{DriverFixed, DriverHeadcount, DriverSubjectAmount, DriverKPI}
}

func (d DriverType) IsValid() bool {
	switch d {
	case DriverFixed, DriverHeadcount, DriverSubjectAmount, DriverKPI:
		return true
	}
	return false
}

func (d DriverType) String() string { return string(d) }
