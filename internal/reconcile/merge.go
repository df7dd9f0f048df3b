// Package reconcile merges remote job-code and timesheet listings into the
// locally stored per-user state, preserving locally-owned fields across
// refreshes and recomputing derived fields exactly once per affected job code.
package reconcile

import (
	"github.com/clockguard/clockguard/internal/model"
	"github.com/clockguard/clockguard/internal/timeclock"
)

// MergeJobcodes applies the remote job-code listing onto local, in place.
// New job codes are inserted with empty local state; changed ones (by
// last_modified) keep their timesheets, completed/assigned seconds and
// favourite flag; unchanged ones only get a nil timesheet map backfilled.
func MergeJobcodes(local map[int64]*model.Jobcode, remote map[int64]*timeclock.RemoteJobcode) {
	for id, rj := range remote {
		prev, ok := local[id]
		if !ok {
			local[id] = &model.Jobcode{
				ID:           rj.ID,
				Name:         rj.Name,
				ParentID:     rj.ParentID,
				HasChildren:  rj.HasChildren,
				LastModified: rj.LastModified,
				Timesheets:   map[int64]*model.Timesheet{},
			}
			continue
		}
		if prev.LastModified != rj.LastModified {
			next := &model.Jobcode{
				ID:               rj.ID,
				Name:             rj.Name,
				ParentID:         rj.ParentID,
				HasChildren:      rj.HasChildren,
				LastModified:     rj.LastModified,
				Timesheets:       prev.Timesheets,
				SecondsCompleted: prev.SecondsCompleted,
				SecondsAssigned:  prev.SecondsAssigned,
				IsFavourite:      prev.IsFavourite,
			}
			if next.Timesheets == nil {
				next.Timesheets = map[int64]*model.Timesheet{}
			}
			local[id] = next
			continue
		}
		// Unchanged; backfill partially-initialized legacy records.
		if prev.Timesheets == nil {
			prev.Timesheets = map[int64]*model.Timesheet{}
		}
	}
}

// MergeTimesheets applies the remote timesheet listing onto the job codes and
// returns the set of job-code IDs whose timesheets changed. Timesheets whose
// job code is not yet known locally are skipped; a future pass picks them up.
func MergeTimesheets(local map[int64]*model.Jobcode, remote map[int64]*model.Timesheet) map[int64]struct{} {
	touched := map[int64]struct{}{}
	for id, rt := range remote {
		jc, ok := local[rt.JobcodeID]
		if !ok {
			continue
		}
		prev, ok := jc.Timesheets[id]
		if ok && prev.LastModified == rt.LastModified {
			continue
		}
		cpy := *rt
		jc.Timesheets[id] = &cpy
		touched[rt.JobcodeID] = struct{}{}
	}
	return touched
}

// RecomputeCompleted sets SecondsCompleted to the sum of durations across the
// job code's full timesheet map.
func RecomputeCompleted(jc *model.Jobcode) {
	var total int64
	for _, ts := range jc.Timesheets {
		total += ts.Duration
	}
	jc.SecondsCompleted = total
}

// DerivePaths recomputes ParentPathName for every job code: the "/"-joined
// chain of ancestor names from root to immediate parent, with a trailing
// separator, or "" for roots. The walk is iterative and memoized; a cycle or
// a missing parent terminates the chain as if it were a root. The returned
// count is the number of cycles encountered.
func DerivePaths(jobcodes map[int64]*model.Jobcode) int {
	resolved := make(map[int64]string, len(jobcodes))
	cycles := 0
	for id := range jobcodes {
		if _, ok := resolved[id]; ok {
			continue
		}
		if resolvePath(id, jobcodes, resolved) {
			cycles++
		}
	}
	for id, jc := range jobcodes {
		jc.ParentPathName = resolved[id]
	}
	return cycles
}

// resolvePath fills resolved for id and every ancestor visited on the way,
// reporting whether the walk hit a cycle.
func resolvePath(id int64, jobcodes map[int64]*model.Jobcode, resolved map[int64]string) bool {
	chain := []int64{id}
	onPath := map[int64]bool{id: true}
	cur := jobcodes[id]

	var base string
	cycle := false
	for {
		pid := cur.ParentID
		if pid == 0 {
			break
		}
		parent, ok := jobcodes[pid]
		if !ok {
			break
		}
		if p, ok := resolved[pid]; ok {
			base = p + parent.Name + "/"
			break
		}
		if onPath[pid] {
			cycle = true
			break
		}
		chain = append(chain, pid)
		onPath[pid] = true
		cur = parent
	}

	// Unwind from the top of the chain down to id.
	for i := len(chain) - 1; i >= 0; i-- {
		nid := chain[i]
		resolved[nid] = base
		base = base + jobcodes[nid].Name + "/"
	}
	return cycle
}
