package application

import (
	"context"
	"errors"
	"strings"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/contracts"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/domain"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/ports"
)

// RunMatching executes one coordinator pass: resolve the ranking run for the
// project's current revision, rank candidates, and fan out invitations. It is
// safe to call repeatedly for the same trigger; an existing run is reused
// instead of producing duplicate invitations.
func (s *Service) RunMatching(ctx context.Context, projectID string, renew bool) (MatchOutcome, error) {
	p, err := s.projects.Get(ctx, projectID)
	if err != nil {
		return MatchOutcome{}, err
	}
	if p.Cancelled {
		return MatchOutcome{}, domain.ErrProjectCancelled
	}

	revision := p.Revision
	if renew {
		revision, err = s.projects.BumpRevision(ctx, projectID)
		if err != nil {
			return MatchOutcome{}, err
		}
	}
	runID := domain.RankingRunID(projectID, revision)

	if existing, err := s.matches.GetByRunID(ctx, runID); err == nil {
		return s.reuseRun(ctx, projectID, existing)
	}

	vector, err := s.projectEmbedding(ctx, p)
	if err != nil {
		return MatchOutcome{}, err
	}

	scored, err := s.searchWithBudget(ctx, vector, p)
	if err != nil {
		if errors.Is(err, domain.ErrIndexUnavailable) {
			_ = s.enqueueDomainEvent(ctx, domain.EventMatchingFailed, projectID, contracts.MatchingFailedPayload{
				ProjectID: projectID,
				Reason:    domain.MatchingFailedReasonIndexUnavailable,
			})
		}
		return MatchOutcome{}, err
	}

	qualified := domain.FilterByThreshold(scored, s.cfg.SimilarityThreshold)
	entries := domain.RankCandidates(qualified, s.cfg.Weights, s.cfg.MaxInvites)

	result := domain.MatchResult{
		RankingRunID: runID,
		ProjectID:    projectID,
		Revision:     revision,
		Entries:      entries,
		ComputedAt:   s.nowFn(),
	}
	if err := s.matches.Create(ctx, result); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			// A concurrent worker won the run; fall back to its result.
			if existing, getErr := s.matches.GetByRunID(ctx, runID); getErr == nil {
				return s.reuseRun(ctx, projectID, existing)
			}
		}
		return MatchOutcome{}, err
	}

	if len(entries) == 0 {
		// Zero qualifying candidates is a legitimate terminal state for the
		// run; it must surface promptly rather than leave the project idle.
		_ = s.enqueueDomainEvent(ctx, domain.EventMatchingFailed, projectID, contracts.MatchingFailedPayload{
			ProjectID: projectID,
			Reason:    domain.MatchingFailedReasonNoCandidates,
		})
		return MatchOutcome{RankingRunID: runID, Revision: revision, FailedReason: domain.MatchingFailedReasonNoCandidates}, nil
	}

	invitationIDs := make([]string, 0, len(entries))
	for _, entry := range entries {
		inv, err := s.dispatchPrimary(ctx, projectID, entry.ProviderID, runID)
		if err != nil {
			if errors.Is(err, domain.ErrChannelUnreachable) {
				continue
			}
			return MatchOutcome{}, err
		}
		invitationIDs = append(invitationIDs, inv.InvitationID)
	}

	_ = s.enqueueDomainEvent(ctx, domain.EventContractorsInvited, projectID, contracts.ContractorsInvitedPayload{
		ProjectID:     projectID,
		RankingRunID:  runID,
		InvitationIDs: invitationIDs,
	})

	return MatchOutcome{
		RankingRunID:  runID,
		Revision:      revision,
		Entries:       entries,
		InvitationIDs: invitationIDs,
	}, nil
}

// reuseRun resolves a redelivered trigger to the stored run and re-drives the
// fan-out for it. A crash between persisting the run and dispatching leaves
// ranked providers without invitations; Dispatch is idempotent per
// (project, provider, channel), so re-dispatching here completes the run
// without duplicating the invitations that already exist.
func (s *Service) reuseRun(ctx context.Context, projectID string, result domain.MatchResult) (MatchOutcome, error) {
	outcome := MatchOutcome{
		RankingRunID: result.RankingRunID,
		Revision:     result.Revision,
		Entries:      result.Entries,
		Reused:       true,
	}
	if len(result.Entries) == 0 {
		outcome.FailedReason = domain.MatchingFailedReasonNoCandidates
		return outcome, nil
	}

	rows, err := s.invitations.ListByProject(ctx, projectID, "")
	if err != nil {
		return MatchOutcome{}, err
	}
	invited := map[string]string{}
	for _, row := range rows {
		if row.RankingRunID == result.RankingRunID {
			invited[row.ProviderID] = row.InvitationID
		}
	}

	ids := make([]string, 0, len(result.Entries))
	recovered := 0
	for _, entry := range result.Entries {
		if id, ok := invited[entry.ProviderID]; ok {
			ids = append(ids, id)
			continue
		}
		inv, err := s.dispatchPrimary(ctx, projectID, entry.ProviderID, result.RankingRunID)
		if err != nil {
			if errors.Is(err, domain.ErrChannelUnreachable) {
				continue
			}
			return MatchOutcome{}, err
		}
		ids = append(ids, inv.InvitationID)
		recovered++
	}
	outcome.InvitationIDs = ids

	// Only an interrupted fan-out re-emits; a clean redelivery already
	// announced this run.
	if recovered > 0 {
		_ = s.enqueueDomainEvent(ctx, domain.EventContractorsInvited, projectID, contracts.ContractorsInvitedPayload{
			ProjectID:     projectID,
			RankingRunID:  result.RankingRunID,
			InvitationIDs: ids,
		})
	}
	return outcome, nil
}

// projectEmbedding returns the cached project vector, computing and storing
// it on first use.
func (s *Service) projectEmbedding(ctx context.Context, p domain.ProjectSummary) ([]float32, error) {
	if len(p.Embedding) > 0 {
		return p.Embedding, nil
	}
	text := strings.TrimSpace(p.Scope.Title + "\n" + p.Scope.Description)
	if text == "" {
		return nil, domain.ErrInvalidInput
	}
	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, domain.ErrEmbeddingUnavailable
	}
	if err := s.projects.SaveEmbedding(ctx, p.ProjectID, vector); err != nil {
		return nil, err
	}
	return vector, nil
}

func (s *Service) searchWithBudget(ctx context.Context, vector []float32, p domain.ProjectSummary) ([]domain.ScoredCandidate, error) {
	filters := ports.SearchFilters{Category: p.Category, ServiceAreas: p.ServiceAreas}
	// Over-fetch so the threshold filter still leaves max_invites to rank.
	k := s.cfg.MaxInvites * 3
	for attempt := 0; attempt < s.cfg.IndexRetryBudget; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			s.sleepFn(s.cfg.IndexRetryBackoff << uint(attempt-1))
		}
		scored, err := s.index.Search(ctx, vector, filters, k)
		if err == nil {
			return scored, nil
		}
	}
	return nil, domain.ErrIndexUnavailable
}

// dispatchPrimary invites a provider on the first channel it is reachable on.
func (s *Service) dispatchPrimary(ctx context.Context, projectID, providerID, runID string) (domain.Invitation, error) {
	prefs, err := s.contacts.GetByProviderID(ctx, providerID)
	if err != nil {
		prefs = domain.DefaultContactPreferences(providerID, s.nowFn())
	}
	order := prefs.ChannelOrder()
	if len(order) == 0 {
		return domain.Invitation{}, domain.ErrChannelUnreachable
	}
	return s.Dispatch(ctx, projectID, providerID, order[0], runID, "")
}
