package domain

const (
	CanonicalEventClassDomain        = "domain"
	CanonicalEventClassAnalyticsOnly = "analytics_only"
	CanonicalEventClassOps           = "ops"
)

const (
	EventProjectSummaryReady    = "project.summary_ready"
	EventProjectCancelled       = "project.cancelled"
	EventInvitationResponse     = "invitation.response_received"
	EventInvitationDeliveryAck  = "invitation.delivery_ack"
	EventContractorsInvited     = "matching.contractors_invited"
	EventMatchingFailed         = "matching.failed"
	EventInvitationStateChanged = "invitation.state_changed"
)

const (
	MatchingFailedReasonNoCandidates     = "no_candidates_found"
	MatchingFailedReasonIndexUnavailable = "index_unavailable"
)

const (
	ResponseOutcomeAccepted = "accepted"
	ResponseOutcomeDeclined = "declined"
)

type canonicalEventMeta struct {
	class            string
	partitionKeyPath string
}

var canonicalInputEvents = map[string]canonicalEventMeta{
	EventProjectSummaryReady:   {class: CanonicalEventClassDomain, partitionKeyPath: "data.project_id"},
	EventProjectCancelled:      {class: CanonicalEventClassDomain, partitionKeyPath: "data.project_id"},
	EventInvitationResponse:    {class: CanonicalEventClassDomain, partitionKeyPath: "data.invitation_id"},
	EventInvitationDeliveryAck: {class: CanonicalEventClassDomain, partitionKeyPath: "data.invitation_id"},
}

var canonicalOutputEvents = map[string]canonicalEventMeta{
	EventContractorsInvited:     {class: CanonicalEventClassDomain, partitionKeyPath: "data.project_id"},
	EventMatchingFailed:         {class: CanonicalEventClassDomain, partitionKeyPath: "data.project_id"},
	EventInvitationStateChanged: {class: CanonicalEventClassDomain, partitionKeyPath: "data.invitation_id"},
}

func IsCanonicalInputEvent(eventType string) bool {
	_, ok := canonicalInputEvents[eventType]
	return ok
}

func CanonicalEventClass(eventType string) string {
	if m, ok := canonicalInputEvents[eventType]; ok {
		return m.class
	}
	if m, ok := canonicalOutputEvents[eventType]; ok {
		return m.class
	}
	return ""
}

func CanonicalPartitionKeyPath(eventType string) string {
	if m, ok := canonicalInputEvents[eventType]; ok {
		return m.partitionKeyPath
	}
	if m, ok := canonicalOutputEvents[eventType]; ok {
		return m.partitionKeyPath
	}
	return ""
}

func IsValidResponseOutcome(raw string) bool {
	switch raw {
	case ResponseOutcomeAccepted, ResponseOutcomeDeclined:
		return true
	default:
		return false
	}
}
