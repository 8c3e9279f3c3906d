package domain

import "daybook/internal/store"

// Collection names.
const (
	Accounts        = "accounts"
	Events          = "events"
	EventCategories = "eventCategories"
	Entities        = "entities"
	Projects        = "projects"
	Stages          = "stages"
	Timesheets      = "timesheets"
	TaskTimers      = "taskTimers"
	Users           = "users"
)

// Shared document field names.
const (
	FieldUserID       = "userId"       // events owner reference
	FieldUserRid      = "userRid"      // timesheets / task timers owner reference
	FieldTimesheetRid = "timesheetRid" // task timer container reference
	FieldPrivate      = "private"      // events visibility flag
	FieldIsActive     = "isActive"
	FieldStartTime    = "startTime" // epoch milliseconds
	FieldSeconds      = "seconds"   // accumulated whole seconds
)

const RoleAdmin = "admin"

// Principal is the authenticated identity attached to a request. It is never
// persisted by this subsystem.
type Principal struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// TaskTimer is a typed view over a task timer document.
type TaskTimer struct {
	ID           string `json:"id"`
	TimesheetRid string `json:"timesheetRid,omitempty"`
	UserRid      string `json:"userRid"`
	IsActive     bool   `json:"isActive"`
	StartTime    int64  `json:"startTime"`
	Seconds      int64  `json:"seconds"`
}

func TaskTimerFromDocument(doc store.Document) TaskTimer {
	return TaskTimer{
		ID:           doc.ID(),
		TimesheetRid: doc.String(FieldTimesheetRid),
		UserRid:      doc.String(FieldUserRid),
		IsActive:     doc.Bool(FieldIsActive),
		StartTime:    int64(doc.Number(FieldStartTime)),
		Seconds:      int64(doc.Number(FieldSeconds)),
	}
}

// Timesheet is a typed view over a timesheet document.
type Timesheet struct {
	ID        string `json:"id"`
	UserRid   string `json:"userRid"`
	BeginDate string `json:"beginDate,omitempty"`
	EndDate   string `json:"endDate,omitempty"`
}

func TimesheetFromDocument(doc store.Document) Timesheet {
	return Timesheet{
		ID:        doc.ID(),
		UserRid:   doc.String(FieldUserRid),
		BeginDate: doc.String("beginDate"),
		EndDate:   doc.String("endDate"),
	}
}
