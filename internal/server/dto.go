package server

import (
	"ideaflow/internal/domain"
)

// Request payloads

type LoginRequest struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// IdeaBody is the idea as sent by clients. Required fields are checked by
// the analyzer so a missing one yields the usual validation envelope.
type IdeaBody struct {
	_                       struct{} `json:"-" additionalProperties:"true"`
	Title                   string   `json:"title,omitempty"`
	IdeaDescription         string   `json:"ideaDescription,omitempty"`
	BusinessObjective       string   `json:"businessObjective,omitempty"`
	BusinessValue           *float64 `json:"businessValue,omitempty"`
	MonetaryValue           *float64 `json:"monetaryValue,omitempty"`
	PrincipalFeatures       string   `json:"principalFeatures,omitempty"`
	PersonsAffected         string   `json:"personsAffected,omitempty"`
	BusinessAreasAffected   string   `json:"businessAreasAffected,omitempty"`
	PlatformClientsImpacted []string `json:"platformClientsImpacted,omitempty"`
}

func (b IdeaBody) toDomain() domain.Idea {
	return domain.Idea{
		Title:                   b.Title,
		IdeaDescription:         b.IdeaDescription,
		BusinessObjective:       b.BusinessObjective,
		BusinessValue:           b.BusinessValue,
		MonetaryValue:           b.MonetaryValue,
		PrincipalFeatures:       b.PrincipalFeatures,
		PersonsAffected:         b.PersonsAffected,
		BusinessAreasAffected:   b.BusinessAreasAffected,
		PlatformClientsImpacted: b.PlatformClientsImpacted,
	}.Clone()
}

type AnalysisBody struct {
	_                          struct{} `json:"-" additionalProperties:"true"`
	StatementOfWork            string   `json:"statementOfWork,omitempty"`
	BusinessValueScore         int      `json:"businessValueScore,omitempty"`
	BusinessValueJustification string   `json:"businessValueJustification,omitempty"`
	CostSaving                 bool     `json:"costSaving,omitempty"`
	UserProvidedScore          bool     `json:"userProvidedScore,omitempty"`
	Source                     string   `json:"source,omitempty" enum:"rules,generative"`
}

func (b *AnalysisBody) toDomain() *domain.Analysis {
	if b == nil {
		return nil
	}
	return &domain.Analysis{
		StatementOfWork:            b.StatementOfWork,
		BusinessValueScore:         b.BusinessValueScore,
		BusinessValueJustification: b.BusinessValueJustification,
		CostSaving:                 b.CostSaving,
		UserProvidedScore:          b.UserProvidedScore,
		Source:                     domain.AnalysisSource(b.Source),
	}
}

type CreateInitiativeRequest struct {
	_    struct{}  `json:"-" additionalProperties:"true"`
	Idea *IdeaBody `json:"idea,omitempty"`
	// AIAnalysis is computed from Idea when omitted.
	AIAnalysis  *AnalysisBody `json:"aiAnalysis,omitempty"`
	SubmittedBy string        `json:"submittedBy,omitempty"`
}

// UpdateInitiativeRequest drives every PATCH transition. Server-stamped
// fields sent by clients are ignored.
type UpdateInitiativeRequest struct {
	_               struct{}      `json:"-" additionalProperties:"true"`
	Status          string        `json:"status,omitempty"`
	ApprovalReason  *string       `json:"approvalReason,omitempty"`
	RejectionReason *string       `json:"rejectionReason,omitempty"`
	Idea            *IdeaBody     `json:"idea,omitempty"`
	AIAnalysis      *AnalysisBody `json:"aiAnalysis,omitempty"`
}

// Response payloads

type HealthResponse struct {
	Status    string `json:"status" example:"ok"`
	Timestamp string `json:"timestamp" format:"date-time"`
}

type LoginResponse struct {
	Message string      `json:"message"`
	Token   string      `json:"token"`
	User    domain.User `json:"user"`
}

type LogoutResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type MeResponse struct {
	User domain.User `json:"user"`
}

type DeleteInitiativeResponse struct {
	Message    string            `json:"message"`
	Initiative domain.Initiative `json:"initiative"`
}
