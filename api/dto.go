/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. Amounts cross the API
  as decimal strings in native-currency units ("1.5"), never as floats.
  Timestamps are RFC3339 UTC.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Catalog:   PlanDTO, UpdatePlanRequest
  Policies:  PolicyDTO, PurchaseRequest
  Claims:    ClaimDTO, SubmitClaimRequest, ProcessClaimRequest
  Doctors:   DoctorDTO, AuthorizeDoctorRequest
  Admin:     StatsDTO, WithdrawRequest
  Results:   ResultDTO, ErrorDTO

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"errors"
	"time"

	"github.com/warp/claims-engine/facade"
	"github.com/warp/claims-engine/insurance"
	"github.com/warp/claims-engine/money"
)

// =============================================================================
// CATALOG
// =============================================================================

type PlanDTO struct {
	Kind           string `json:"kind"`
	KindID         uint8  `json:"kindId"`
	OneTimePrice   string `json:"oneTimePrice"`
	MonthlyPrice   string `json:"monthlyPrice"`
	CoverageAmount string `json:"coverageAmount"`
	Deductible     string `json:"deductible"`
	MetadataRef    string `json:"metadataRef"`
	IsActive       bool   `json:"isActive"`
	Placeholder    bool   `json:"placeholder,omitempty"`
}

type UpdatePlanRequest struct {
	OneTimePrice   string `json:"oneTimePrice"`
	MonthlyPrice   string `json:"monthlyPrice"`
	CoverageAmount string `json:"coverageAmount"`
	Deductible     string `json:"deductible"`
	MetadataRef    string `json:"metadataRef"`
	IsActive       bool   `json:"isActive"`
}

func toPlanDTO(p insurance.InsurancePlan) PlanDTO {
	return PlanDTO{
		Kind:           p.Kind.String(),
		KindID:         uint8(p.Kind),
		OneTimePrice:   money.ToDecimalString(p.OneTimePrice),
		MonthlyPrice:   money.ToDecimalString(p.MonthlyPrice),
		CoverageAmount: money.ToDecimalString(p.CoverageAmount),
		Deductible:     money.ToDecimalString(p.Deductible),
		MetadataRef:    p.MetadataRef,
		IsActive:       p.IsActive,
		Placeholder:    p.Placeholder,
	}
}

// =============================================================================
// POLICIES
// =============================================================================

type PolicyDTO struct {
	ID                uint64 `json:"id"`
	Policyholder      string `json:"policyholder"`
	Plan              string `json:"plan"`
	PaymentKind       string `json:"paymentKind"`
	CoverageAmount    string `json:"coverageAmount"`
	Deductible        string `json:"deductible"`
	Premium           string `json:"premium"`
	StartDate         string `json:"startDate"`
	EndDate           string `json:"endDate"`
	LastPaymentDate   string `json:"lastPaymentDate"`
	Status            string `json:"status"`
	ObservedStatus    string `json:"observedStatus"`
	MetadataRef       string `json:"metadataRef"`
	TotalPaid         string `json:"totalPaid"`
	ClaimsUsed        string `json:"claimsUsed"`
	RemainingCoverage string `json:"remainingCoverage"`
	PaymentDue        bool   `json:"paymentDue"`
}

type PurchaseRequest struct {
	Plan        string `json:"plan"`
	PaymentKind string `json:"paymentKind"`
	MetadataRef string `json:"metadataRef"`
}

// toPolicyDTO derives the observed fields against now, the ledger clock.
func toPolicyDTO(p insurance.Policy, now time.Time) PolicyDTO {
	return PolicyDTO{
		ID:                uint64(p.ID),
		Policyholder:      p.Policyholder.Hex(),
		Plan:              p.PlanKind.String(),
		PaymentKind:       p.PaymentKind.String(),
		CoverageAmount:    money.ToDecimalString(p.CoverageAmount),
		Deductible:        money.ToDecimalString(p.Deductible),
		Premium:           money.ToDecimalString(p.Premium),
		StartDate:         formatTime(p.StartDate),
		EndDate:           formatTime(p.EndDate),
		LastPaymentDate:   formatTime(p.LastPaymentDate),
		Status:            p.Status.String(),
		ObservedStatus:    insurance.ObservedStatus(p, now).String(),
		MetadataRef:       p.MetadataRef,
		TotalPaid:         money.ToDecimalString(p.TotalPaid),
		ClaimsUsed:        money.ToDecimalString(p.ClaimsUsed),
		RemainingCoverage: money.ToDecimalString(p.RemainingCoverage()),
		PaymentDue:        insurance.IsPaymentDue(p, now),
	}
}

// =============================================================================
// CLAIMS
// =============================================================================

type ClaimDTO struct {
	ID             uint64 `json:"id"`
	PolicyID       uint64 `json:"policyId"`
	Claimant       string `json:"claimant"`
	ClaimAmount    string `json:"claimAmount"`
	ApprovedAmount string `json:"approvedAmount"`
	Status         string `json:"status"`
	SubmissionDate string `json:"submissionDate"`
	ProcessedDate  string `json:"processedDate,omitempty"`
	DocumentsRef   string `json:"documentsRef"`
	Description    string `json:"description"`
}

// DocumentUpload carries one raw document; Data is base64 in JSON.
type DocumentUpload struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Data        []byte `json:"data"`
}

type SubmitClaimRequest struct {
	PolicyID     uint64           `json:"policyId"`
	Amount       string           `json:"amount"`
	Description  string           `json:"description"`
	DocumentsRef string           `json:"documentsRef"`
	Documents    []DocumentUpload `json:"documents"`
}

type ProcessClaimRequest struct {
	Approve        bool   `json:"approve"`
	ApprovedAmount string `json:"approvedAmount"`
}

func toClaimDTO(c insurance.Claim) ClaimDTO {
	dto := ClaimDTO{
		ID:             uint64(c.ID),
		PolicyID:       uint64(c.PolicyID),
		Claimant:       c.Claimant.Hex(),
		ClaimAmount:    money.ToDecimalString(c.ClaimAmount),
		ApprovedAmount: money.ToDecimalString(c.ApprovedAmount),
		Status:         c.Status.String(),
		SubmissionDate: formatTime(c.SubmissionDate),
		DocumentsRef:   c.DocumentsRef,
		Description:    c.Description,
	}
	if !c.ProcessedDate.IsZero() && c.ProcessedDate.Unix() != 0 {
		dto.ProcessedDate = formatTime(c.ProcessedDate)
	}
	return dto
}

func toClaimDTOs(claims []insurance.Claim) []ClaimDTO {
	dtos := make([]ClaimDTO, len(claims))
	for i, c := range claims {
		dtos[i] = toClaimDTO(c)
	}
	return dtos
}

// =============================================================================
// DOCTORS AND ADMIN
// =============================================================================

type DoctorDTO struct {
	Address    string `json:"address"`
	Authorized bool   `json:"authorized"`
	Block      uint64 `json:"block,omitempty"`
}

type AuthorizeDoctorRequest struct {
	Authorized bool `json:"authorized"`
}

type StatsDTO struct {
	TotalPolicies uint64 `json:"totalPolicies"`
	TotalClaims   uint64 `json:"totalClaims"`
	Balance       string `json:"balance"`
	Owner         string `json:"owner"`
	Paused        bool   `json:"paused"`
}

type WithdrawRequest struct {
	Amount string `json:"amount"`
}

type AccountDTO struct {
	Address         string `json:"address"`
	ContractAddress string `json:"contractAddress"`
	IsOwner         bool   `json:"isOwner"`
	IsDoctor        bool   `json:"isDoctor"`
	LedgerTime      string `json:"ledgerTime"`
}

// =============================================================================
// RESULTS AND ERRORS
// =============================================================================

// ResultDTO is the uniform envelope of every mutation.
type ResultDTO struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *ErrorDTO `json:"error,omitempty"`
	TxHash  string    `json:"txHash,omitempty"`
}

// ErrorDTO is the serialized error taxonomy. Kind is always set; the other
// fields depend on it.
type ErrorDTO struct {
	Kind      string `json:"kind"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Reason    string `json:"reason,omitempty"`
	Available string `json:"available,omitempty"`
	Required  string `json:"required,omitempty"`
	Entity    string `json:"entity,omitempty"`
	Field     string `json:"field,omitempty"`
}

func toErrorDTO(err error) *ErrorDTO {
	if err == nil {
		return nil
	}
	dto := &ErrorDTO{Kind: string(insurance.KindOf(err)), Message: err.Error()}

	var (
		verr   *insurance.ValidationError
		funds  *insurance.InsufficientFundsError
		revert *insurance.RevertError
		derr   *insurance.DecodeError
	)
	switch {
	case errors.As(err, &verr):
		dto.Code = verr.Code
		dto.Message = verr.Message
	case errors.As(err, &funds):
		dto.Available = money.ToDecimalString(funds.Available)
		dto.Required = money.ToDecimalString(funds.Required)
	case errors.As(err, &revert):
		dto.Reason = revert.Reason
	case errors.As(err, &derr):
		dto.Entity = derr.Entity
		dto.Field = derr.Field
	}
	return dto
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// journalPage wraps journal query results.
type journalPage struct {
	Entries []facade.JournalEntry `json:"entries"`
}
