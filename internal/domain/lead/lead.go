package lead

import (
	"strings"
	"time"
)

// Identity scopes which cached lead collection belongs to the current session.
type Identity struct {
	EmployeeID string `json:"employeeId" toml:"employee_id"`
	Email      string `json:"email" toml:"email"`
	Team       string `json:"team,omitempty" toml:"team"`
}

func (i Identity) Validate() error {
	if strings.TrimSpace(i.EmployeeID) == "" || strings.TrimSpace(i.Email) == "" {
		return ErrIdentityRequired
	}
	return nil
}

// SameTuple compares the (employeeId, email) pair; team does not scope the cache.
func (i Identity) SameTuple(employeeID string, email string) bool {
	return strings.TrimSpace(i.EmployeeID) == strings.TrimSpace(employeeID) &&
		strings.EqualFold(strings.TrimSpace(i.Email), strings.TrimSpace(email))
}

func (i Identity) String() string {
	return strings.TrimSpace(i.EmployeeID) + "/" + strings.TrimSpace(i.Email)
}

// RawLead is the record shape returned by the remote lead API.
type RawLead struct {
	Name        string `json:"name"`
	LeadName    string `json:"lead_name"`
	EmailID     string `json:"email_id"`
	MobileNo    string `json:"mobile_no"`
	CompanyName string `json:"company_name"`
	Status      string `json:"status"`
	Source      string `json:"source"`
	LeadOwner   string `json:"lead_owner"`
	Creation    string `json:"creation"`
	Modified    string `json:"modified"`
}

type Lead struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email,omitempty"`
	Phone        string `json:"phone,omitempty"`
	Company      string `json:"company,omitempty"`
	Status       Status `json:"status"`
	Source       string `json:"source,omitempty"`
	AssignedTo   string `json:"assignedTo,omitempty"`
	CreatedAt    string `json:"createdAt,omitempty"`
	LastActivity string `json:"lastActivity,omitempty"`
}

type Comment struct {
	ID        string `json:"id"`
	LeadID    string `json:"leadId"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	CreatedAt string `json:"createdAt"`
}

type Task struct {
	ID       string `json:"id"`
	LeadID   string `json:"leadId"`
	Title    string `json:"title"`
	DueDate  string `json:"dueDate,omitempty"`
	Done     bool   `json:"done"`
	Assignee string `json:"assignee,omitempty"`
}

// Normalize converts a remote record into a Lead.
func Normalize(raw RawLead) Lead {
	id := strings.TrimSpace(raw.Name)
	name := strings.TrimSpace(raw.LeadName)
	if name == "" {
		name = id
	}
	return Lead{
		ID:           id,
		Name:         name,
		Email:        strings.TrimSpace(raw.EmailID),
		Phone:        strings.TrimSpace(raw.MobileNo),
		Company:      strings.TrimSpace(raw.CompanyName),
		Status:       MapRemoteStatus(raw.Status),
		Source:       strings.TrimSpace(raw.Source),
		AssignedTo:   strings.TrimSpace(raw.LeadOwner),
		CreatedAt:    strings.TrimSpace(raw.Creation),
		LastActivity: strings.TrimSpace(raw.Modified),
	}
}

func NormalizeAll(raws []RawLead) []Lead {
	out := make([]Lead, 0, len(raws))
	for _, raw := range raws {
		out = append(out, Normalize(raw))
	}
	return out
}

// WithStatus returns a copy carrying the new status and activity marker.
func (l Lead) WithStatus(status Status, at time.Time) Lead {
	l.Status = status
	l.LastActivity = FormatActivity(at)
	return l
}

func FormatActivity(at time.Time) string {
	return at.UTC().Format(time.RFC3339)
}
