package engine

import (
	"context"
	"math"

	"daybook/internal/domain"
	"daybook/internal/engine/access"
	"daybook/internal/store"
)

// StartTimer activates the timer after deactivating every other active timer
// the same owner has, accumulating their elapsed time first. Deactivations
// are persisted before the target is touched, so a failure mid-transition
// can leave zero active timers for the owner but never two.
func (e Engine) StartTimer(ctx context.Context, p domain.Principal, timesheetID, timerID string) (domain.TaskTimer, error) {
	timer, err := e.resolveTimer(ctx, p, timesheetID, timerID)
	if err != nil {
		return domain.TaskTimer{}, err
	}
	now := e.now()

	timers := e.Store.Collection(domain.TaskTimers)
	active, err := timers.Find(ctx, store.Where(domain.FieldUserRid, p.ID).With(domain.FieldIsActive, true))
	if err != nil {
		return domain.TaskTimer{}, err
	}
	// More than one may be active after a prior partial failure; clear them
	// all. A target that is already running folds its elapsed time into
	// seconds before restarting.
	for _, doc := range active {
		inactivate(doc, now.UnixMilli())
		saved, _, err := timers.Save(ctx, doc)
		if err != nil {
			return domain.TaskTimer{}, err
		}
		if saved.ID() == timer.ID() {
			timer = saved
		}
	}

	timer[domain.FieldIsActive] = true
	timer[domain.FieldStartTime] = now.UnixMilli()
	saved, _, err := timers.Save(ctx, timer)
	if err != nil {
		return domain.TaskTimer{}, err
	}
	return domain.TaskTimerFromDocument(saved), nil
}

// StopTimer deactivates the timer, folding the elapsed wall-clock time into
// its accumulated seconds. Stopping an inactive timer changes nothing.
func (e Engine) StopTimer(ctx context.Context, p domain.Principal, timesheetID, timerID string) (domain.TaskTimer, error) {
	timer, err := e.resolveTimer(ctx, p, timesheetID, timerID)
	if err != nil {
		return domain.TaskTimer{}, err
	}
	if !timer.Bool(domain.FieldIsActive) {
		return domain.TaskTimerFromDocument(timer), nil
	}
	inactivate(timer, e.now().UnixMilli())
	saved, _, err := e.Store.Collection(domain.TaskTimers).Save(ctx, timer)
	if err != nil {
		return domain.TaskTimer{}, err
	}
	return domain.TaskTimerFromDocument(saved), nil
}

// resolveTimer authorizes the transition: the timesheet must exist (404) and
// belong to the caller (403); the timer must exist within that timesheet
// (404) and belong to the caller (403).
func (e Engine) resolveTimer(ctx context.Context, p domain.Principal, timesheetID, timerID string) (store.Document, error) {
	sheet, err := e.Store.Collection(domain.Timesheets).FindOne(ctx, store.ByID(timesheetID))
	if err != nil {
		return nil, err
	}
	if sheet.String(domain.FieldUserRid) != p.ID {
		return nil, access.ForbiddenError{Reason: "timesheet belongs to another user"}
	}
	timer, err := e.Store.Collection(domain.TaskTimers).FindOne(ctx,
		store.ByID(timerID).With(domain.FieldTimesheetRid, timesheetID))
	if err != nil {
		return nil, err
	}
	if owner := timer.String(domain.FieldUserRid); owner != "" && owner != p.ID {
		return nil, access.ForbiddenError{Reason: "timer belongs to another user"}
	}
	return timer, nil
}

// inactivate folds the running session into seconds and clears the start
// mark. Elapsed time is rounded to the nearest whole second.
func inactivate(timer store.Document, nowMillis int64) {
	start := int64(timer.Number(domain.FieldStartTime))
	if start > 0 {
		elapsed := int64(math.Round(float64(nowMillis-start) / 1000))
		timer[domain.FieldSeconds] = int64(timer.Number(domain.FieldSeconds)) + elapsed
	}
	timer[domain.FieldIsActive] = false
	timer[domain.FieldStartTime] = 0
}
