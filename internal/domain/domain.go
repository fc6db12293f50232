package domain

import "time"

// Status is the lifecycle state of an initiative.
type Status string

const (
	StatusPendingApproval Status = "pending_approval"
	StatusApproved        Status = "approved"
	StatusRejected        Status = "rejected"
)

var validStatuses = map[Status]bool{
	StatusPendingApproval: true,
	StatusApproved:        true,
	StatusRejected:        true,
}

func (s Status) IsValid() bool { return validStatuses[s] }

// IsTerminal reports whether no further transition is allowed out of s.
func (s Status) IsTerminal() bool { return s == StatusApproved }

func (s Status) String() string { return string(s) }

// Role is the only authorization signal the workflow consumes.
type Role string

const (
	RolePO   Role = "PO"
	RoleUser Role = "USER"
)

// AnalysisSource records which path produced an analysis.
type AnalysisSource string

const (
	SourceRules      AnalysisSource = "rules"
	SourceGenerative AnalysisSource = "generative"
)

// TimeLayout is used for every persisted timestamp.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

type Idea struct {
	Title                   string   `json:"title" yaml:"title"`
	IdeaDescription         string   `json:"ideaDescription" yaml:"ideaDescription"`
	BusinessObjective       string   `json:"businessObjective" yaml:"businessObjective"`
	BusinessValue           *float64 `json:"businessValue,omitempty" yaml:"businessValue,omitempty"`
	MonetaryValue           *float64 `json:"monetaryValue,omitempty" yaml:"monetaryValue,omitempty"`
	PrincipalFeatures       string   `json:"principalFeatures,omitempty" yaml:"principalFeatures,omitempty"`
	PersonsAffected         string   `json:"personsAffected,omitempty" yaml:"personsAffected,omitempty"`
	BusinessAreasAffected   string   `json:"businessAreasAffected,omitempty" yaml:"businessAreasAffected,omitempty"`
	PlatformClientsImpacted []string `json:"platformClientsImpacted,omitempty" yaml:"platformClientsImpacted,omitempty"`
}

// Clone returns a deep copy so initiatives never alias caller-owned slices or pointers.
func (i Idea) Clone() Idea {
	out := i
	if i.BusinessValue != nil {
		v := *i.BusinessValue
		out.BusinessValue = &v
	}
	if i.MonetaryValue != nil {
		v := *i.MonetaryValue
		out.MonetaryValue = &v
	}
	if i.PlatformClientsImpacted != nil {
		out.PlatformClientsImpacted = append([]string(nil), i.PlatformClientsImpacted...)
	}
	return out
}

type Analysis struct {
	StatementOfWork            string         `json:"statementOfWork"`
	BusinessValueScore         int            `json:"businessValueScore"`
	BusinessValueJustification string         `json:"businessValueJustification"`
	CostSaving                 bool           `json:"costSaving"`
	UserProvidedScore          bool           `json:"userProvidedScore"`
	Source                     AnalysisSource `json:"source,omitempty"`
}

type Initiative struct {
	ID              string   `json:"id"`
	Status          Status   `json:"status" enum:"pending_approval,approved,rejected"`
	SubmittedBy     string   `json:"submittedBy"`
	SubmittedAt     string   `json:"submittedAt" format:"date-time"`
	Idea            Idea     `json:"idea"`
	Analysis        Analysis `json:"aiAnalysis"`
	// Transition fields are written as null until the transition happens.
	ApprovedBy      *string  `json:"approvedBy"`
	ApprovedAt      *string  `json:"approvedAt" format:"date-time"`
	ApprovalReason  *string  `json:"approvalReason"`
	ADOWorkItemID   *int64   `json:"adoWorkItemId"`
	RejectedBy      *string  `json:"rejectedBy"`
	RejectedAt      *string  `json:"rejectedAt" format:"date-time"`
	RejectionReason *string  `json:"rejectionReason"`
}

// InitiativePatch lists every field a transition may write. Nil pointers are
// left untouched; Clear* flags null the field.
type InitiativePatch struct {
	Status          *Status
	SubmittedAt     *string
	Idea            *Idea
	Analysis        *Analysis
	ApprovedBy      *string
	ApprovedAt      *string
	ApprovalReason  *string
	ADOWorkItemID   *int64
	RejectedBy      *string
	RejectedAt      *string
	RejectionReason *string

	ClearRejection bool
}

// IsEmpty reports whether applying p would change nothing.
func (p InitiativePatch) IsEmpty() bool {
	return p == InitiativePatch{}
}

// Apply merges p into a copy of in.
func (p InitiativePatch) Apply(in Initiative) Initiative {
	out := in
	if p.ClearRejection {
		out.RejectedBy = nil
		out.RejectedAt = nil
		out.RejectionReason = nil
	}
	if p.Status != nil {
		out.Status = *p.Status
	}
	if p.SubmittedAt != nil {
		out.SubmittedAt = *p.SubmittedAt
	}
	if p.Idea != nil {
		out.Idea = p.Idea.Clone()
	}
	if p.Analysis != nil {
		out.Analysis = *p.Analysis
	}
	if p.ApprovedBy != nil {
		out.ApprovedBy = p.ApprovedBy
	}
	if p.ApprovedAt != nil {
		out.ApprovedAt = p.ApprovedAt
	}
	if p.ApprovalReason != nil {
		out.ApprovalReason = p.ApprovalReason
	}
	if p.ADOWorkItemID != nil {
		out.ADOWorkItemID = p.ADOWorkItemID
	}
	if p.RejectedBy != nil {
		out.RejectedBy = p.RejectedBy
	}
	if p.RejectedAt != nil {
		out.RejectedAt = p.RejectedAt
	}
	if p.RejectionReason != nil {
		out.RejectionReason = p.RejectionReason
	}
	return out
}

type User struct {
	ID       string `json:"id" yaml:"id"`
	Username string `json:"username" yaml:"username"`
	Role     Role   `json:"role" yaml:"role" enum:"PO,USER"`
	Name     string `json:"name" yaml:"name"`
	Email    string `json:"email,omitempty" yaml:"email,omitempty"`
}

func (u User) IsPO() bool { return u.Role == RolePO }

type Event struct {
	ID           int64  `json:"id"`
	TS           string `json:"ts" format:"date-time"`
	Type         string `json:"type"`
	InitiativeID string `json:"initiativeId"`
	Actor        string `json:"actor"`
	Payload      string `json:"payload"`
}

// ValueBand describes the business-value scale bucket a score falls in.
type ValueBand struct {
	Label string `json:"label"`
	Range string `json:"range"`
}

func BandForScore(score int) ValueBand {
	switch {
	case score >= 9:
		return ValueBand{Label: "Critical", Range: "Legal / Compliance"}
	case score >= 7:
		return ValueBand{Label: "Significant Value", Range: "> £1m"}
	case score >= 5:
		return ValueBand{Label: "High Value", Range: "£500k - £1m"}
	case score >= 3:
		return ValueBand{Label: "Medium Value", Range: "£250k - £500k"}
	default:
		return ValueBand{Label: "Low Value", Range: "< £250k"}
	}
}
