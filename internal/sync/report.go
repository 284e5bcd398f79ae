package sync

import "time"

// CycleReport is the structured result of one full reconciliation cycle.
// It is a fresh value every cycle; nothing about a cycle survives in shared
// state, so the scheduler could later run multiple root pairs in parallel
// without synchronization.
type CycleReport struct {
	Start         time.Time            `json:"start"`
	Duration      time.Duration        `json:"duration_ns"`
	Digest        string               `json:"digest"`
	Counts        Counts               `json:"counts"`
	Errors        []EntryError         `json:"errors,omitempty"`
	Verifications []VerificationResult `json:"verifications,omitempty"`
}

// Changed returns true if the cycle applied any operation
func (r *CycleReport) Changed() bool {
	return r.Counts.Created+r.Counts.Modified+r.Counts.Deleted > 0
}

// Mismatches returns the number of verification pairs whose digests differ
// (unverifiable pairs excluded).
func (r *CycleReport) Mismatches() int {
	n := 0
	for _, v := range r.Verifications {
		if v.Err == "" && !v.Matched {
			n++
		}
	}
	return n
}

// Unverified returns the number of pairs that could not be verified
func (r *CycleReport) Unverified() int {
	n := 0
	for _, v := range r.Verifications {
		if v.Err != "" {
			n++
		}
	}
	return n
}
