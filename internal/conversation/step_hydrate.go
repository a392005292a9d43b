package conversation

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// hydrationStep loads everything later steps read: recent transcript,
// standing constraints, the patient record, and the previous session's
// summary. The loads fan out concurrently; each goroutine owns a distinct
// context field.
type hydrationStep struct{ p *Pipeline }

func (s *hydrationStep) Name() string { return StepContextHydration }

func (s *hydrationStep) Execute(ctx context.Context, tc *TurnContext) (bool, error) {
	store := s.p.deps.Store
	session := tc.Session

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		history, err := store.History(gctx, tc.Turn.From, tc.ClinicID, s.p.cfg.HistoryLimit, false)
		if err != nil {
			return fmt.Errorf("load history: %w", err)
		}
		tc.History = history
		return nil
	})
	g.Go(func() error {
		cons, err := store.Constraints(gctx, session.ID)
		if err != nil {
			return fmt.Errorf("load constraints: %w", err)
		}
		tc.Constraints = cons
		return nil
	})
	g.Go(func() error {
		patient, err := store.GetPatient(gctx, tc.ClinicID, tc.Turn.From)
		if err != nil {
			if errors.Is(err, ErrPatientNotFound) {
				return nil
			}
			return fmt.Errorf("load patient: %w", err)
		}
		tc.Patient = patient
		return nil
	})
	if s.p.deps.Summaries != nil {
		g.Go(func() error {
			// Cross-session memory is additive context; a read failure
			// must never take the turn down.
			summary, err := s.p.deps.Summaries.LatestSummary(gctx, tc.Turn.From, tc.ClinicID)
			if err != nil {
				s.p.logger.Warn("load previous session summary",
					"clinic_id", tc.ClinicID, "error", err)
				return nil
			}
			tc.PreviousSummary = summary
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	tc.Summary = session.Summary
	if session.TurnStatus == TurnAgentActionPending && session.PendingAction != "" {
		reminder := "There is an unresolved promise to the patient: " + session.PendingAction +
			". Address it before anything else if their message relates to it."
		if tc.AdditionalContext != "" {
			tc.AdditionalContext += "\n"
		}
		tc.AdditionalContext += reminder
	}
	if s.p.deps.Memory != nil {
		s.p.deps.Memory.Warm(tc.Turn.From, tc.ClinicID)
	}
	return true, nil
}

// escalationStep hands the conversation to a human when the message (or
// the recent pattern of messages) signals distress, a complaint, or a
// medical emergency. The user gets a holding reply immediately; operators
// are alerted out of band.
type escalationStep struct{ p *Pipeline }

func (s *escalationStep) Name() string { return StepEscalationCheck }

func (s *escalationStep) Execute(ctx context.Context, tc *TurnContext) (bool, error) {
	reason, triggered := detectEscalation(tc.Turn.Text, tc.History)
	if !triggered {
		return true, nil
	}
	if err := s.p.escalate(ctx, tc, reason); err != nil {
		return false, err
	}
	return false, nil
}
