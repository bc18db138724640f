package unit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/application"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/contracts"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/domain"
	"github.com/bidhaus/mesh/services/marketplace/M21-contractor-matching-engine/internal/ports"
)

type fixture struct {
	svc         *application.Service
	invitations *fakeInvitations
	attempts    *fakeAttempts
	matches     *fakeMatches
	projects    *fakeProjects
	contacts    *fakeContacts
	jobs        *fakeJobs
	outbox      *fakeOutbox
	leases      *fakeLeases
	index       *fakeIndex
	sender      *fakeSender
}

func newFixture(cfg application.Config) *fixture {
	f := &fixture{
		invitations: &fakeInvitations{rows: map[string]domain.Invitation{}},
		attempts:    &fakeAttempts{},
		matches:     &fakeMatches{rows: map[string]domain.MatchResult{}},
		projects:    &fakeProjects{rows: map[string]domain.ProjectSummary{}},
		contacts:    &fakeContacts{rows: map[string]domain.ContactPreferences{}},
		jobs:        &fakeJobs{},
		outbox:      &fakeOutbox{},
		leases:      &fakeLeases{held: map[string]string{}},
		index:       &fakeIndex{},
		sender:      &fakeSender{},
	}
	f.svc = application.NewService(application.Dependencies{
		Config:      cfg,
		Invitations: f.invitations,
		Attempts:    f.attempts,
		Matches:     f.matches,
		Projects:    f.projects,
		Contacts:    f.contacts,
		Jobs:        f.jobs,
		Idempotency: &fakeIdempotency{rows: map[string]ports.IdempotencyRecord{}},
		EventDedup:  &fakeEventDedup{seen: map[string]bool{}},
		Outbox:      f.outbox,
		Leases:      f.leases,
		Embedder:    &fakeEmbedder{},
		Index:       f.index,
		Senders: map[string]ports.ChannelSender{
			domain.ChannelInApp: f.sender,
			domain.ChannelEmail: f.sender,
			domain.ChannelSMS:   f.sender,
		},
	})
	return f
}

func (f *fixture) seedProject(projectID string) {
	f.projects.rows[projectID] = domain.ProjectSummary{
		ProjectID: projectID,
		Category:  domain.CategoryRepair,
		Scope:     domain.ScopeDetails{Title: "Leaking kitchen faucet", Description: "Replace the cartridge and check shutoff valves."},
		Embedding: []float32{1, 0, 0},
		Revision:  1,
		UpdatedAt: time.Now().UTC(),
	}
}

func scoredCandidate(providerID string, similarity float64) domain.ScoredCandidate {
	return domain.ScoredCandidate{
		Candidate:  domain.Candidate{ProviderID: providerID, Verified: true, Responsiveness: 0.5},
		Similarity: similarity,
	}
}

func TestRunMatchingRanksFiltersAndInvites(t *testing.T) {
	f := newFixture(application.Config{MaxInvites: 2})
	f.seedProject("proj-1")
	f.index.results = []domain.ScoredCandidate{
		scoredCandidate("prov-b", 0.75),
		scoredCandidate("prov-a", 0.9),
		scoredCandidate("prov-c", 0.5),
	}

	outcome, err := f.svc.RunMatching(context.Background(), "proj-1", false)
	if err != nil {
		t.Fatalf("run matching: %v", err)
	}
	if outcome.RankingRunID != "run-proj-1-r1" {
		t.Fatalf("run id: %s", outcome.RankingRunID)
	}
	if len(outcome.Entries) != 2 {
		t.Fatalf("expected 2 entries (0.5 below threshold, cap 2), got %d", len(outcome.Entries))
	}
	if outcome.Entries[0].ProviderID != "prov-a" || outcome.Entries[1].ProviderID != "prov-b" {
		t.Fatalf("order: %s, %s", outcome.Entries[0].ProviderID, outcome.Entries[1].ProviderID)
	}
	if len(outcome.InvitationIDs) != 2 {
		t.Fatalf("expected 2 invitations, got %d", len(outcome.InvitationIDs))
	}
	for _, id := range outcome.InvitationIDs {
		inv, err := f.invitations.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("invitation %s: %v", id, err)
		}
		if inv.State != domain.StatePending || inv.Channel != domain.ChannelInApp {
			t.Fatalf("invitation %s: state=%s channel=%s", id, inv.State, inv.Channel)
		}
	}
	if got := f.outbox.countByType(domain.EventContractorsInvited); got != 1 {
		t.Fatalf("contractors_invited events: %d", got)
	}
	if len(f.jobs.rows) != 2 {
		t.Fatalf("expected 2 dispatch jobs, got %d", len(f.jobs.rows))
	}
}

func TestRunMatchingZeroCandidatesEmitsFailure(t *testing.T) {
	f := newFixture(application.Config{})
	f.seedProject("proj-1")
	f.index.results = []domain.ScoredCandidate{scoredCandidate("prov-a", 0.4)}

	outcome, err := f.svc.RunMatching(context.Background(), "proj-1", false)
	if err != nil {
		t.Fatalf("run matching: %v", err)
	}
	if outcome.FailedReason != domain.MatchingFailedReasonNoCandidates {
		t.Fatalf("failed reason: %q", outcome.FailedReason)
	}
	if len(outcome.InvitationIDs) != 0 || len(f.jobs.rows) != 0 {
		t.Fatal("no invitations may be created for an empty run")
	}
	if got := f.outbox.countByType(domain.EventMatchingFailed); got != 1 {
		t.Fatalf("matching.failed events: %d", got)
	}
	if got := f.outbox.countByType(domain.EventContractorsInvited); got != 0 {
		t.Fatalf("contractors_invited must not fire on empty run, got %d", got)
	}
	// The empty run is still persisted so redelivery resolves to it.
	if _, err := f.matches.GetByRunID(context.Background(), outcome.RankingRunID); err != nil {
		t.Fatalf("empty run not persisted: %v", err)
	}
}

func TestRunMatchingIndexUnavailable(t *testing.T) {
	f := newFixture(application.Config{IndexRetryBudget: 1})
	f.seedProject("proj-1")
	f.index.err = errors.New("index down")

	_, err := f.svc.RunMatching(context.Background(), "proj-1", false)
	if !errors.Is(err, domain.ErrIndexUnavailable) {
		t.Fatalf("got %v want ErrIndexUnavailable", err)
	}
	failed := f.outbox.byType(domain.EventMatchingFailed)
	if len(failed) != 1 {
		t.Fatalf("matching.failed events: %d", len(failed))
	}
	var payload contracts.MatchingFailedPayload
	if err := json.Unmarshal(failed[0].Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Reason != domain.MatchingFailedReasonIndexUnavailable {
		t.Fatalf("reason: %s", payload.Reason)
	}
}

func TestDuplicateTriggerReusesRun(t *testing.T) {
	f := newFixture(application.Config{})
	f.seedProject("proj-1")
	f.index.results = []domain.ScoredCandidate{scoredCandidate("prov-a", 0.9)}

	first, err := f.svc.RunMatching(context.Background(), "proj-1", false)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := f.svc.RunMatching(context.Background(), "proj-1", false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !second.Reused {
		t.Fatal("second trigger must reuse the existing run")
	}
	if second.RankingRunID != first.RankingRunID {
		t.Fatalf("run ids differ: %s vs %s", first.RankingRunID, second.RankingRunID)
	}
	if f.invitations.count() != 1 {
		t.Fatalf("reuse must not create invitations, have %d", f.invitations.count())
	}
	if got := f.outbox.countByType(domain.EventContractorsInvited); got != 1 {
		t.Fatalf("contractors_invited fired %d times", got)
	}
}

func TestRedeliveryAfterPartialFanoutDispatchesMissing(t *testing.T) {
	f := newFixture(application.Config{})
	f.seedProject("proj-1")
	// A crash after the run was persisted but before the fan-out finished:
	// two ranked providers, only the first ever got an invitation.
	f.matches.rows["run-proj-1-r1"] = domain.MatchResult{
		RankingRunID: "run-proj-1-r1",
		ProjectID:    "proj-1",
		Revision:     1,
		Entries: []domain.MatchEntry{
			{ProviderID: "prov-a", Similarity: 0.9, Position: 1},
			{ProviderID: "prov-b", Similarity: 0.8, Position: 2},
		},
		ComputedAt: time.Now().UTC(),
	}
	f.invitations.put(domain.Invitation{
		InvitationID: "inv-existing", ProjectID: "proj-1", ProviderID: "prov-a",
		Channel: domain.ChannelInApp, RankingRunID: "run-proj-1-r1", State: domain.StatePending,
	})

	outcome, err := f.svc.RunMatching(context.Background(), "proj-1", false)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !outcome.Reused {
		t.Fatal("redelivery must resolve to the stored run")
	}
	if len(outcome.InvitationIDs) != 2 {
		t.Fatalf("expected the full fan-out, got %d invitations", len(outcome.InvitationIDs))
	}
	if _, err := f.invitations.GetByKey(context.Background(), "proj-1", "prov-b", domain.ChannelInApp); err != nil {
		t.Fatalf("missing provider never invited: %v", err)
	}
	if f.invitations.count() != 2 || len(f.jobs.rows) != 1 {
		t.Fatalf("invitations=%d jobs=%d", f.invitations.count(), len(f.jobs.rows))
	}
	if got := f.outbox.countByType(domain.EventContractorsInvited); got != 1 {
		t.Fatalf("recovered fan-out must announce the run, got %d events", got)
	}

	// A second redelivery finds the fan-out complete and stays quiet.
	again, err := f.svc.RunMatching(context.Background(), "proj-1", false)
	if err != nil {
		t.Fatalf("second redelivery: %v", err)
	}
	if len(again.InvitationIDs) != 2 || f.invitations.count() != 2 {
		t.Fatalf("second redelivery mutated the fan-out: %d ids", len(again.InvitationIDs))
	}
	if got := f.outbox.countByType(domain.EventContractorsInvited); got != 1 {
		t.Fatalf("clean redelivery must not re-announce, got %d events", got)
	}
}

func TestRunMatchingRenewBumpsRevision(t *testing.T) {
	f := newFixture(application.Config{})
	f.seedProject("proj-1")
	f.index.results = []domain.ScoredCandidate{scoredCandidate("prov-a", 0.9)}

	first, err := f.svc.RunMatching(context.Background(), "proj-1", false)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	renewed, err := f.svc.RunMatching(context.Background(), "proj-1", true)
	if err != nil {
		t.Fatalf("renewed run: %v", err)
	}
	if renewed.Reused {
		t.Fatal("renew must compute a fresh run")
	}
	if renewed.RankingRunID == first.RankingRunID || renewed.Revision != first.Revision+1 {
		t.Fatalf("revision not bumped: %s r%d", renewed.RankingRunID, renewed.Revision)
	}
}

func TestRunMatchingCancelledProject(t *testing.T) {
	f := newFixture(application.Config{})
	f.seedProject("proj-1")
	p := f.projects.rows["proj-1"]
	p.Cancelled = true
	f.projects.rows["proj-1"] = p

	if _, err := f.svc.RunMatching(context.Background(), "proj-1", false); !errors.Is(err, domain.ErrProjectCancelled) {
		t.Fatalf("got %v want ErrProjectCancelled", err)
	}
}

func TestDispatchIdempotentPerKey(t *testing.T) {
	f := newFixture(application.Config{})
	first, err := f.svc.Dispatch(context.Background(), "proj-1", "prov-a", domain.ChannelInApp, "run-proj-1-r1", "")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	second, err := f.svc.Dispatch(context.Background(), "proj-1", "prov-a", domain.ChannelInApp, "run-proj-1-r1", "")
	if err != nil {
		t.Fatalf("re-dispatch: %v", err)
	}
	if first.InvitationID != second.InvitationID {
		t.Fatalf("idempotency key violated: %s vs %s", first.InvitationID, second.InvitationID)
	}
	if len(f.jobs.rows) != 1 {
		t.Fatalf("expected 1 job, got %d", len(f.jobs.rows))
	}
	// Different channel for the same provider is a distinct invitation.
	third, err := f.svc.Dispatch(context.Background(), "proj-1", "prov-a", domain.ChannelEmail, "run-proj-1-r1", "")
	if err != nil {
		t.Fatalf("email dispatch: %v", err)
	}
	if third.InvitationID == first.InvitationID {
		t.Fatal("per-channel invitations must be independent")
	}
}

func TestDispatchConcurrentSameKey(t *testing.T) {
	f := newFixture(application.Config{})
	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inv, err := f.svc.Dispatch(context.Background(), "proj-1", "prov-a", domain.ChannelInApp, "run-proj-1-r1", "")
			if err != nil {
				t.Errorf("dispatch %d: %v", i, err)
				return
			}
			ids[i] = inv.InvitationID
		}(i)
	}
	wg.Wait()
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("concurrent dispatch produced distinct invitations: %v", ids)
		}
	}
	if f.invitations.count() != 1 {
		t.Fatalf("expected 1 invitation, got %d", f.invitations.count())
	}
}

func TestProcessDispatchJobSuccessWithSyncAck(t *testing.T) {
	f := newFixture(application.Config{})
	f.sender.results = []ports.ChannelSendResult{{Status: ports.SendStatusAccepted, Delivered: true}}

	inv, err := f.svc.Dispatch(context.Background(), "proj-1", "prov-a", domain.ChannelInApp, "run-proj-1-r1", "")
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	res, err := f.svc.ProcessDispatchJob(context.Background(), f.jobs.rows[0])
	if err != nil {
		t.Fatalf("process job: %v", err)
	}
	if !res.Done {
		t.Fatal("successful send must complete the job")
	}
	got, _ := f.invitations.GetByID(context.Background(), inv.InvitationID)
	if got.State != domain.StateDelivered {
		t.Fatalf("state: %s", got.State)
	}
	if got.AttemptCount != 1 || f.attempts.countFor(inv.InvitationID) != 1 {
		t.Fatalf("attempt bookkeeping: count=%d log=%d", got.AttemptCount, f.attempts.countFor(inv.InvitationID))
	}
	if f.attempts.rows[0].Outcome != domain.AttemptOutcomeSuccess {
		t.Fatalf("attempt outcome: %s", f.attempts.rows[0].Outcome)
	}
}

func TestProcessDispatchJobAsyncChannelStaysSent(t *testing.T) {
	f := newFixture(application.Config{})
	f.sender.results = []ports.ChannelSendResult{{Status: ports.SendStatusAccepted}}

	inv, _ := f.svc.Dispatch(context.Background(), "proj-1", "prov-a", domain.ChannelEmail, "run-proj-1-r1", "")
	if _, err := f.svc.ProcessDispatchJob(context.Background(), f.jobs.rows[0]); err != nil {
		t.Fatalf("process job: %v", err)
	}
	got, _ := f.invitations.GetByID(context.Background(), inv.InvitationID)
	if got.State != domain.StateSent {
		t.Fatalf("async channel should park at sent, got %s", got.State)
	}

	// The collaborator's ack moves it to delivered later.
	if err := f.svc.HandleDeliveryAck(context.Background(), inv.InvitationID); err != nil {
		t.Fatalf("delivery ack: %v", err)
	}
	got, _ = f.invitations.GetByID(context.Background(), inv.InvitationID)
	if got.State != domain.StateDelivered {
		t.Fatalf("state after ack: %s", got.State)
	}
	// A duplicate ack is a no-op.
	if err := f.svc.HandleDeliveryAck(context.Background(), inv.InvitationID); err != nil {
		t.Fatalf("duplicate ack: %v", err)
	}
}

func TestTransientFailuresRetryThenDeadLetterWithFallback(t *testing.T) {
	f := newFixture(application.Config{MaxAttempts: 5})
	f.sender.defaultResult = ports.ChannelSendResult{Status: ports.SendStatusTransientError, ErrorSummary: "gateway timeout"}

	inv, _ := f.svc.Dispatch(context.Background(), "proj-1", "prov-a", domain.ChannelInApp, "run-proj-1-r1", "")
	job := f.jobs.rows[0]

	for attempt := 1; attempt < 5; attempt++ {
		res, err := f.svc.ProcessDispatchJob(context.Background(), job)
		if err != nil {
			t.Fatalf("attempt %d: %v", attempt, err)
		}
		if res.Done {
			t.Fatalf("attempt %d should reschedule", attempt)
		}
		if !res.RetryAt.After(time.Now().Add(domain.RetryBackoff(attempt) - time.Second)) {
			t.Fatalf("attempt %d: retry_at not backed off: %v", attempt, res.RetryAt)
		}
	}

	res, err := f.svc.ProcessDispatchJob(context.Background(), job)
	if err != nil {
		t.Fatalf("final attempt: %v", err)
	}
	if !res.Done {
		t.Fatal("exhausted invitation must complete the job")
	}
	got, _ := f.invitations.GetByID(context.Background(), inv.InvitationID)
	if got.State != domain.StateDeadLettered {
		t.Fatalf("state: %s", got.State)
	}
	if got.AttemptCount != 5 || f.attempts.countFor(inv.InvitationID) != 5 {
		t.Fatalf("attempts: count=%d log=%d", got.AttemptCount, f.attempts.countFor(inv.InvitationID))
	}

	// Dead-lettering opens a fresh invitation on the next reachable channel.
	fallback, err := f.invitations.GetByKey(context.Background(), "proj-1", "prov-a", domain.ChannelEmail)
	if err != nil {
		t.Fatalf("fallback invitation missing: %v", err)
	}
	if fallback.FallbackOf != inv.InvitationID || fallback.State != domain.StatePending {
		t.Fatalf("fallback: of=%s state=%s", fallback.FallbackOf, fallback.State)
	}
}

func TestPermanentFailureSettlesImmediately(t *testing.T) {
	f := newFixture(application.Config{})
	f.sender.results = []ports.ChannelSendResult{{Status: ports.SendStatusPermanentError, ErrorSummary: "unknown recipient"}}

	inv, _ := f.svc.Dispatch(context.Background(), "proj-1", "prov-a", domain.ChannelInApp, "run-proj-1-r1", "")
	res, err := f.svc.ProcessDispatchJob(context.Background(), f.jobs.rows[0])
	if err != nil {
		t.Fatalf("process job: %v", err)
	}
	if !res.Done {
		t.Fatal("permanent failure completes the job")
	}
	got, _ := f.invitations.GetByID(context.Background(), inv.InvitationID)
	if got.State != domain.StateFailed || got.AttemptCount != 1 {
		t.Fatalf("state=%s attempts=%d", got.State, got.AttemptCount)
	}
}

func TestAttemptTokensAreStablePerAttemptNumber(t *testing.T) {
	f := newFixture(application.Config{MaxAttempts: 5})
	f.sender.defaultResult = ports.ChannelSendResult{Status: ports.SendStatusTransientError}

	inv, _ := f.svc.Dispatch(context.Background(), "proj-1", "prov-a", domain.ChannelInApp, "run-proj-1-r1", "")
	job := f.jobs.rows[0]
	_, _ = f.svc.ProcessDispatchJob(context.Background(), job)
	_, _ = f.svc.ProcessDispatchJob(context.Background(), job)

	want1 := fmt.Sprintf("inv-%s-a1", inv.InvitationID)
	want2 := fmt.Sprintf("inv-%s-a2", inv.InvitationID)
	if f.attempts.rows[0].IdempotencyToken != want1 || f.attempts.rows[1].IdempotencyToken != want2 {
		t.Fatalf("tokens: %s, %s", f.attempts.rows[0].IdempotencyToken, f.attempts.rows[1].IdempotencyToken)
	}
	if f.sender.requests[0].IdempotencyToken != want1 || f.sender.requests[1].IdempotencyToken != want2 {
		t.Fatalf("sender saw tokens: %s, %s", f.sender.requests[0].IdempotencyToken, f.sender.requests[1].IdempotencyToken)
	}
}

func TestStaleJobForSentInvitationDoesNotResend(t *testing.T) {
	f := newFixture(application.Config{})
	f.sender.defaultResult = ports.ChannelSendResult{Status: ports.SendStatusAccepted}

	inv, _ := f.svc.Dispatch(context.Background(), "proj-1", "prov-a", domain.ChannelInApp, "run-proj-1-r1", "")
	job := f.jobs.rows[0]
	if _, err := f.svc.ProcessDispatchJob(context.Background(), job); err != nil {
		t.Fatalf("first process: %v", err)
	}
	sendsBefore := len(f.sender.requests)

	// A crashed worker's job can be re-claimed after the invitation already
	// moved on; re-processing must not produce a second channel call.
	res, err := f.svc.ProcessDispatchJob(context.Background(), job)
	if err != nil {
		t.Fatalf("stale process: %v", err)
	}
	if !res.Done {
		t.Fatal("stale job must resolve done")
	}
	if len(f.sender.requests) != sendsBefore {
		t.Fatalf("duplicate send: %d calls", len(f.sender.requests))
	}
	got, _ := f.invitations.GetByID(context.Background(), inv.InvitationID)
	if got.AttemptCount != 1 {
		t.Fatalf("attempt count moved: %d", got.AttemptCount)
	}
}

func TestCancellationBlocksPendingHandoff(t *testing.T) {
	f := newFixture(application.Config{})
	f.seedProject("proj-1")
	inv, _ := f.svc.Dispatch(context.Background(), "proj-1", "prov-a", domain.ChannelInApp, "run-proj-1-r1", "")

	if _, err := f.svc.CancelProject(context.Background(), application.Actor{SubjectID: "ops-1", Role: "ops"}, "proj-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	res, err := f.svc.ProcessDispatchJob(context.Background(), f.jobs.rows[0])
	if err != nil {
		t.Fatalf("process job: %v", err)
	}
	if !res.Done {
		t.Fatal("cancelled project resolves the job without sending")
	}
	if len(f.sender.requests) != 0 {
		t.Fatal("no channel call may happen after cancellation")
	}
	got, _ := f.invitations.GetByID(context.Background(), inv.InvitationID)
	if got.State != domain.StatePending {
		t.Fatalf("state: %s", got.State)
	}
}

func TestCancellationGateStoreFailureReschedules(t *testing.T) {
	f := newFixture(application.Config{})
	f.seedProject("proj-1")
	_, _ = f.svc.Dispatch(context.Background(), "proj-1", "prov-a", domain.ChannelInApp, "run-proj-1-r1", "")
	f.projects.getErr = errors.New("store down")

	_, err := f.svc.ProcessDispatchJob(context.Background(), f.jobs.rows[0])
	if err == nil {
		t.Fatal("store failure at the cancellation gate must surface")
	}
	if len(f.sender.requests) != 0 {
		t.Fatal("no send may happen when the cancellation flag is unreadable")
	}
}

func TestListAttemptsReturnsDispatchHistory(t *testing.T) {
	f := newFixture(application.Config{MaxAttempts: 5})
	f.sender.results = []ports.ChannelSendResult{
		{Status: ports.SendStatusTransientError, ErrorSummary: "gateway timeout"},
		{Status: ports.SendStatusAccepted, Delivered: true},
	}
	inv, _ := f.svc.Dispatch(context.Background(), "proj-1", "prov-a", domain.ChannelInApp, "run-proj-1-r1", "")
	job := f.jobs.rows[0]
	_, _ = f.svc.ProcessDispatchJob(context.Background(), job)
	_, _ = f.svc.ProcessDispatchJob(context.Background(), job)

	actor := application.Actor{SubjectID: "u1"}
	rows, err := f.svc.ListAttempts(context.Background(), actor, inv.InvitationID)
	if err != nil {
		t.Fatalf("list attempts: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(rows))
	}
	if rows[0].Outcome != domain.AttemptOutcomeTransientFailure || rows[1].Outcome != domain.AttemptOutcomeSuccess {
		t.Fatalf("outcomes: %s, %s", rows[0].Outcome, rows[1].Outcome)
	}
	if _, err := f.svc.ListAttempts(context.Background(), actor, "inv-missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown invitation: got %v", err)
	}
}

func TestRecordResponseStampsRespondedAt(t *testing.T) {
	f := newFixture(application.Config{})
	f.sender.defaultResult = ports.ChannelSendResult{Status: ports.SendStatusAccepted, Delivered: true}
	inv, _ := f.svc.Dispatch(context.Background(), "proj-1", "prov-a", domain.ChannelInApp, "run-proj-1-r1", "")
	_, _ = f.svc.ProcessDispatchJob(context.Background(), f.jobs.rows[0])

	respondedAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	actor := application.Actor{SubjectID: "ops-1", Role: "ops"}
	row, err := f.svc.RecordResponse(context.Background(), actor, application.RecordResponseInput{
		InvitationID: inv.InvitationID,
		Outcome:      domain.ResponseOutcomeAccepted,
		RespondedAt:  respondedAt.Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("record response: %v", err)
	}
	if row.State != domain.StateResponded {
		t.Fatalf("state: %s", row.State)
	}
	if !row.LastTransitionAt.Equal(respondedAt) {
		t.Fatalf("responded_at not stamped: %v", row.LastTransitionAt)
	}

	_, err = f.svc.RecordResponse(context.Background(), actor, application.RecordResponseInput{
		InvitationID: inv.InvitationID,
		Outcome:      domain.ResponseOutcomeAccepted,
		RespondedAt:  "yesterday",
	})
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("malformed timestamp: got %v", err)
	}
}

func TestInvitationResponseAndLateDuplicates(t *testing.T) {
	f := newFixture(application.Config{})
	f.sender.defaultResult = ports.ChannelSendResult{Status: ports.SendStatusAccepted, Delivered: true}
	inv, _ := f.svc.Dispatch(context.Background(), "proj-1", "prov-a", domain.ChannelInApp, "run-proj-1-r1", "")
	_, _ = f.svc.ProcessDispatchJob(context.Background(), f.jobs.rows[0])

	if err := f.svc.HandleInvitationResponse(context.Background(), inv.InvitationID, domain.ResponseOutcomeAccepted); err != nil {
		t.Fatalf("response: %v", err)
	}
	got, _ := f.invitations.GetByID(context.Background(), inv.InvitationID)
	if got.State != domain.StateResponded {
		t.Fatalf("state: %s", got.State)
	}

	// A second response for a settled invitation is absorbed.
	if err := f.svc.HandleInvitationResponse(context.Background(), inv.InvitationID, domain.ResponseOutcomeDeclined); err != nil {
		t.Fatalf("late response: %v", err)
	}
	got, _ = f.invitations.GetByID(context.Background(), inv.InvitationID)
	if got.State != domain.StateResponded {
		t.Fatalf("terminal state mutated: %s", got.State)
	}
}

func TestResponseBeforeDeliveryRejected(t *testing.T) {
	f := newFixture(application.Config{})
	inv, _ := f.svc.Dispatch(context.Background(), "proj-1", "prov-a", domain.ChannelInApp, "run-proj-1-r1", "")
	err := f.svc.HandleInvitationResponse(context.Background(), inv.InvitationID, domain.ResponseOutcomeAccepted)
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("got %v want ErrInvalidTransition", err)
	}
}

func TestSweepExpiredIsExactlyOnce(t *testing.T) {
	f := newFixture(application.Config{ResponseWindow: 72 * time.Hour})
	old := time.Now().UTC().Add(-100 * time.Hour)
	fresh := time.Now().UTC().Add(-1 * time.Hour)
	f.invitations.put(domain.Invitation{InvitationID: "inv-old-1", ProjectID: "proj-1", ProviderID: "prov-a", Channel: domain.ChannelInApp, State: domain.StateDelivered, LastTransitionAt: old})
	f.invitations.put(domain.Invitation{InvitationID: "inv-old-2", ProjectID: "proj-1", ProviderID: "prov-b", Channel: domain.ChannelInApp, State: domain.StateDelivered, LastTransitionAt: old})
	f.invitations.put(domain.Invitation{InvitationID: "inv-fresh", ProjectID: "proj-1", ProviderID: "prov-c", Channel: domain.ChannelInApp, State: domain.StateDelivered, LastTransitionAt: fresh})

	expired, err := f.svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 2 {
		t.Fatalf("expired %d want 2", expired)
	}
	got, _ := f.invitations.GetByID(context.Background(), "inv-fresh")
	if got.State != domain.StateDelivered {
		t.Fatalf("fresh invitation touched: %s", got.State)
	}

	expired, err = f.svc.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if expired != 0 {
		t.Fatalf("second sweep expired %d want 0", expired)
	}
}

func TestHandleCanonicalEventDedupAndRouting(t *testing.T) {
	f := newFixture(application.Config{})
	f.seedProject("proj-1")
	f.index.results = []domain.ScoredCandidate{scoredCandidate("prov-a", 0.9)}

	e := summaryReadyEnvelope("evt-1", "proj-1")
	if err := f.svc.HandleCanonicalEvent(context.Background(), e); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.invitations.count() != 1 {
		t.Fatalf("invitations after first event: %d", f.invitations.count())
	}
	// Same event id again: dropped by dedup.
	if err := f.svc.HandleCanonicalEvent(context.Background(), e); err != nil {
		t.Fatalf("duplicate handle: %v", err)
	}
	// New event id, same project: run reuse, still one invitation.
	if err := f.svc.HandleCanonicalEvent(context.Background(), summaryReadyEnvelope("evt-2", "proj-1")); err != nil {
		t.Fatalf("redelivery handle: %v", err)
	}
	if f.invitations.count() != 1 {
		t.Fatalf("invitations after redelivery: %d", f.invitations.count())
	}
}

func TestHandleCanonicalEventRejectsBadEnvelopes(t *testing.T) {
	f := newFixture(application.Config{})

	unknown := summaryReadyEnvelope("evt-1", "proj-1")
	unknown.EventType = "billing.settled"
	if err := f.svc.HandleCanonicalEvent(context.Background(), unknown); !errors.Is(err, domain.ErrUnsupportedEventType) {
		t.Fatalf("unknown type: got %v", err)
	}

	mismatched := summaryReadyEnvelope("evt-2", "proj-1")
	mismatched.PartitionKey = "proj-other"
	if err := f.svc.HandleCanonicalEvent(context.Background(), mismatched); !errors.Is(err, domain.ErrInvalidEnvelope) {
		t.Fatalf("partition mismatch: got %v", err)
	}

	missing := summaryReadyEnvelope("", "proj-1")
	if err := f.svc.HandleCanonicalEvent(context.Background(), missing); !errors.Is(err, domain.ErrInvalidEnvelope) {
		t.Fatalf("missing event id: got %v", err)
	}
}

func TestProjectCancelledEventUnknownProjectIgnored(t *testing.T) {
	f := newFixture(application.Config{})
	payload, _ := json.Marshal(contracts.ProjectCancelledPayload{ProjectID: "proj-ghost"})
	e := contracts.EventEnvelope{
		EventID: "evt-1", EventType: domain.EventProjectCancelled,
		OccurredAt: time.Now().UTC(), PartitionKeyPath: "data.project_id", PartitionKey: "proj-ghost",
		SourceService: "M20-Project-Service", TraceID: "trace-1", SchemaVersion: "1.0", Data: payload,
	}
	if err := f.svc.HandleCanonicalEvent(context.Background(), e); err != nil {
		t.Fatalf("cancel for unknown project must be ignored: %v", err)
	}
}

func TestTriggerMatchAuthorizationAndIdempotency(t *testing.T) {
	f := newFixture(application.Config{})
	f.seedProject("proj-1")
	f.index.results = []domain.ScoredCandidate{scoredCandidate("prov-a", 0.9)}

	if _, err := f.svc.TriggerMatch(context.Background(), application.Actor{SubjectID: "u1", Role: "homeowner", IdempotencyKey: "k1"}, application.TriggerMatchInput{ProjectID: "proj-1"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("homeowner trigger: got %v", err)
	}
	if _, err := f.svc.TriggerMatch(context.Background(), application.Actor{SubjectID: "ops-1", Role: "ops"}, application.TriggerMatchInput{ProjectID: "proj-1"}); !errors.Is(err, domain.ErrIdempotencyRequired) {
		t.Fatalf("missing key: got %v", err)
	}

	actor := application.Actor{SubjectID: "ops-1", Role: "ops", IdempotencyKey: "k1"}
	first, err := f.svc.TriggerMatch(context.Background(), actor, application.TriggerMatchInput{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	replay, err := f.svc.TriggerMatch(context.Background(), actor, application.TriggerMatchInput{ProjectID: "proj-1"})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.RankingRunID != first.RankingRunID {
		t.Fatalf("replay diverged: %s vs %s", replay.RankingRunID, first.RankingRunID)
	}
	// Same key with a different request body is a conflict.
	if _, err := f.svc.TriggerMatch(context.Background(), actor, application.TriggerMatchInput{ProjectID: "proj-1", Renew: true}); !errors.Is(err, domain.ErrIdempotencyConflict) {
		t.Fatalf("key reuse: got %v", err)
	}
}

func TestFunnelCountsPerProject(t *testing.T) {
	f := newFixture(application.Config{})
	f.invitations.put(domain.Invitation{InvitationID: "i1", ProjectID: "proj-1", ProviderID: "a", Channel: domain.ChannelInApp, State: domain.StateSent})
	f.invitations.put(domain.Invitation{InvitationID: "i2", ProjectID: "proj-1", ProviderID: "b", Channel: domain.ChannelInApp, State: domain.StateResponded})
	f.invitations.put(domain.Invitation{InvitationID: "i3", ProjectID: "proj-2", ProviderID: "c", Channel: domain.ChannelInApp, State: domain.StateSent})

	counts, err := f.svc.Funnel(context.Background(), application.Actor{SubjectID: "u1"}, "proj-1")
	if err != nil {
		t.Fatalf("funnel: %v", err)
	}
	if counts.Sent != 1 || counts.Responded != 1 || counts.Pending != 0 {
		t.Fatalf("counts: %+v", counts)
	}
}

func TestLeaseContentionSurfacesAfterBudget(t *testing.T) {
	f := newFixture(application.Config{LeaseRetryBudget: 2, LeaseRetryBackoff: time.Millisecond})
	inv, _ := f.svc.Dispatch(context.Background(), "proj-1", "prov-a", domain.ChannelInApp, "run-proj-1-r1", "")
	f.leases.block("matching:invitation:" + inv.InvitationID)

	_, err := f.svc.ProcessDispatchJob(context.Background(), f.jobs.rows[0])
	if !errors.Is(err, domain.ErrLeaseConflict) {
		t.Fatalf("got %v want ErrLeaseConflict", err)
	}
	if len(f.sender.requests) != 0 {
		t.Fatal("no send may happen without the lease")
	}
}

func summaryReadyEnvelope(eventID, projectID string) contracts.EventEnvelope {
	payload, _ := json.Marshal(contracts.SummaryReadyPayload{ProjectID: projectID})
	return contracts.EventEnvelope{
		EventID:          eventID,
		EventType:        domain.EventProjectSummaryReady,
		EventClass:       domain.CanonicalEventClassDomain,
		OccurredAt:       time.Now().UTC(),
		PartitionKeyPath: "data.project_id",
		PartitionKey:     projectID,
		SourceService:    "M20-Project-Service",
		TraceID:          "trace-1",
		SchemaVersion:    "1.0",
		Data:             payload,
	}
}

type fakeInvitations struct {
	mu   sync.Mutex
	rows map[string]domain.Invitation
}

func (f *fakeInvitations) key(projectID, providerID, channel string) string {
	return projectID + "|" + providerID + "|" + channel
}

func (f *fakeInvitations) put(row domain.Invitation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[row.InvitationID] = row
}

func (f *fakeInvitations) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

func (f *fakeInvitations) Create(_ context.Context, row domain.Invitation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.rows {
		if existing.ProjectID == row.ProjectID && existing.ProviderID == row.ProviderID && existing.Channel == row.Channel {
			return domain.ErrConflict
		}
	}
	f.rows[row.InvitationID] = row
	return nil
}

func (f *fakeInvitations) GetByID(_ context.Context, invitationID string) (domain.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[invitationID]
	if !ok {
		return domain.Invitation{}, domain.ErrNotFound
	}
	return row, nil
}

func (f *fakeInvitations) GetByKey(_ context.Context, projectID, providerID, channel string) (domain.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, row := range f.rows {
		if row.ProjectID == projectID && row.ProviderID == providerID && row.Channel == channel {
			return row, nil
		}
	}
	return domain.Invitation{}, domain.ErrNotFound
}

func (f *fakeInvitations) Update(_ context.Context, row domain.Invitation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[row.InvitationID]; !ok {
		return domain.ErrNotFound
	}
	f.rows[row.InvitationID] = row
	return nil
}

func (f *fakeInvitations) ListByProject(_ context.Context, projectID string, state string) ([]domain.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Invitation{}
	for _, row := range f.rows {
		if row.ProjectID != projectID {
			continue
		}
		if state != "" && string(row.State) != state {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeInvitations) ListExpirable(_ context.Context, cutoff time.Time, limit int) ([]domain.Invitation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.Invitation{}
	for _, row := range f.rows {
		if row.State == domain.StateDelivered && !row.LastTransitionAt.After(cutoff) {
			out = append(out, row)
		}
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

type fakeAttempts struct {
	mu   sync.Mutex
	rows []domain.DispatchAttempt
}

func (f *fakeAttempts) Append(_ context.Context, row domain.DispatchAttempt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, row)
	return nil
}

func (f *fakeAttempts) CountByInvitation(_ context.Context, invitationID string) (int, error) {
	return f.countFor(invitationID), nil
}

func (f *fakeAttempts) countFor(invitationID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, row := range f.rows {
		if row.InvitationID == invitationID {
			n++
		}
	}
	return n
}

func (f *fakeAttempts) ListByInvitation(_ context.Context, invitationID string) ([]domain.DispatchAttempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []domain.DispatchAttempt{}
	for _, row := range f.rows {
		if row.InvitationID == invitationID {
			out = append(out, row)
		}
	}
	return out, nil
}

type fakeMatches struct {
	mu   sync.Mutex
	rows map[string]domain.MatchResult
}

func (f *fakeMatches) Create(_ context.Context, row domain.MatchResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[row.RankingRunID]; ok {
		return domain.ErrConflict
	}
	f.rows[row.RankingRunID] = row
	return nil
}

func (f *fakeMatches) GetByRunID(_ context.Context, runID string) (domain.MatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[runID]
	if !ok {
		return domain.MatchResult{}, domain.ErrNotFound
	}
	return row, nil
}

func (f *fakeMatches) GetLatestByProject(_ context.Context, projectID string) (domain.MatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best domain.MatchResult
	found := false
	for _, row := range f.rows {
		if row.ProjectID == projectID && (!found || row.Revision > best.Revision) {
			best = row
			found = true
		}
	}
	if !found {
		return domain.MatchResult{}, domain.ErrNotFound
	}
	return best, nil
}

type fakeProjects struct {
	mu     sync.Mutex
	rows   map[string]domain.ProjectSummary
	getErr error
}

func (f *fakeProjects) Get(_ context.Context, projectID string) (domain.ProjectSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.ProjectSummary{}, f.getErr
	}
	row, ok := f.rows[projectID]
	if !ok {
		return domain.ProjectSummary{}, domain.ErrNotFound
	}
	return row, nil
}

func (f *fakeProjects) Upsert(_ context.Context, row domain.ProjectSummary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[row.ProjectID] = row
	return nil
}

func (f *fakeProjects) BumpRevision(_ context.Context, projectID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[projectID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	row.Revision++
	f.rows[projectID] = row
	return row.Revision, nil
}

func (f *fakeProjects) SetCancelled(_ context.Context, projectID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[projectID]
	if !ok {
		return domain.ErrNotFound
	}
	row.Cancelled = true
	row.CancelledAt = &at
	f.rows[projectID] = row
	return nil
}

func (f *fakeProjects) SaveEmbedding(_ context.Context, projectID string, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[projectID]
	if !ok {
		return domain.ErrNotFound
	}
	row.Embedding = vector
	f.rows[projectID] = row
	return nil
}

type fakeContacts struct {
	mu   sync.Mutex
	rows map[string]domain.ContactPreferences
}

func (f *fakeContacts) GetByProviderID(_ context.Context, providerID string) (domain.ContactPreferences, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[providerID]
	if !ok {
		return domain.ContactPreferences{}, domain.ErrNotFound
	}
	return row, nil
}

func (f *fakeContacts) Upsert(_ context.Context, row domain.ContactPreferences) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[row.ProviderID] = row
	return nil
}

type fakeJobs struct {
	mu   sync.Mutex
	rows []ports.DispatchJob
}

func (f *fakeJobs) Enqueue(_ context.Context, job ports.DispatchJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, job)
	return nil
}

func (f *fakeJobs) ClaimDue(_ context.Context, limit int, claimToken string, claimUntil, now time.Time) ([]ports.DispatchJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []ports.DispatchJob{}
	for i := range f.rows {
		if f.rows[i].CompletedAt != nil || f.rows[i].RunAt.After(now) {
			continue
		}
		f.rows[i].ClaimToken = claimToken
		f.rows[i].ClaimUntil = &claimUntil
		out = append(out, f.rows[i])
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeJobs) Complete(_ context.Context, jobID, claimToken string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].JobID == jobID {
			f.rows[i].CompletedAt = &at
			return nil
		}
	}
	return domain.ErrNotFound
}

func (f *fakeJobs) Reschedule(_ context.Context, jobID, claimToken string, runAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rows {
		if f.rows[i].JobID == jobID {
			f.rows[i].RunAt = runAt
			f.rows[i].ClaimToken = ""
			f.rows[i].ClaimUntil = nil
			return nil
		}
	}
	return domain.ErrNotFound
}

type fakeIdempotency struct {
	mu   sync.Mutex
	rows map[string]ports.IdempotencyRecord
}

func (f *fakeIdempotency) Get(_ context.Context, key string, _ time.Time) (*ports.IdempotencyRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[key]
	if !ok {
		return nil, nil
	}
	out := row
	return &out, nil
}

func (f *fakeIdempotency) Reserve(_ context.Context, key, requestHash string, expiresAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[key]; ok {
		return domain.ErrConflict
	}
	f.rows[key] = ports.IdempotencyRecord{Key: key, RequestHash: requestHash, ExpiresAt: expiresAt}
	return nil
}

func (f *fakeIdempotency) Complete(_ context.Context, key string, responseCode int, responseBody []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row := f.rows[key]
	row.ResponseCode = responseCode
	row.ResponseBody = responseBody
	f.rows[key] = row
	return nil
}

type fakeEventDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *fakeEventDedup) IsDuplicate(_ context.Context, eventID string, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[eventID], nil
}

func (f *fakeEventDedup) MarkProcessed(_ context.Context, eventID, _ string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[eventID] = true
	return nil
}

type fakeOutbox struct {
	mu   sync.Mutex
	rows []ports.OutboxRecord
}

func (f *fakeOutbox) Enqueue(_ context.Context, record ports.OutboxRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, record)
	return nil
}

func (f *fakeOutbox) ClaimUnpublished(context.Context, int, string, time.Time) ([]ports.OutboxRecord, error) {
	return nil, nil
}

func (f *fakeOutbox) MarkPublished(context.Context, string, string, time.Time) error { return nil }

func (f *fakeOutbox) MarkFailed(context.Context, string, string, string, time.Time) error {
	return nil
}

func (f *fakeOutbox) MarkDeadLettered(context.Context, string, string, string, time.Time) error {
	return nil
}

func (f *fakeOutbox) countByType(eventType string) int {
	return len(f.byType(eventType))
}

func (f *fakeOutbox) byType(eventType string) []contracts.EventEnvelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []contracts.EventEnvelope{}
	for _, row := range f.rows {
		if row.EventType != eventType {
			continue
		}
		var envelope contracts.EventEnvelope
		if json.Unmarshal(row.Payload, &envelope) == nil {
			out = append(out, envelope)
		}
	}
	return out
}

type fakeLeases struct {
	mu      sync.Mutex
	held    map[string]string
	counter int
}

func (f *fakeLeases) block(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held[key] = "blocked"
}

func (f *fakeLeases) Acquire(_ context.Context, key string, _ time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.held[key]; ok {
		return "", false, nil
	}
	f.counter++
	token := fmt.Sprintf("token-%d", f.counter)
	f.held[key] = token
	return token, true, nil
}

func (f *fakeLeases) Renew(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.held[key] == token, nil
}

func (f *fakeLeases) Release(_ context.Context, key, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[key] == token {
		delete(f.held, key)
	}
	return nil
}

type fakeEmbedder struct{}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type fakeIndex struct {
	mu      sync.Mutex
	results []domain.ScoredCandidate
	err     error
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, _ ports.SearchFilters, _ int) ([]domain.ScoredCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]domain.ScoredCandidate, len(f.results))
	copy(out, f.results)
	return out, nil
}

type fakeSender struct {
	mu            sync.Mutex
	results       []ports.ChannelSendResult
	defaultResult ports.ChannelSendResult
	requests      []ports.ChannelSendRequest
}

func (f *fakeSender) Send(_ context.Context, req ports.ChannelSendRequest) (ports.ChannelSendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.results) > 0 {
		res := f.results[0]
		f.results = f.results[1:]
		return res, nil
	}
	if f.defaultResult.Status != "" {
		return f.defaultResult, nil
	}
	return ports.ChannelSendResult{Status: ports.SendStatusAccepted}, nil
}
