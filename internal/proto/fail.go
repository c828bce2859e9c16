package proto

// FailReason is the closed vocabulary of "fail-reason" values a server may
// send back on a failed transaction, ported verbatim from proto.py.
type FailReason string

const (
	FailNoHello                     FailReason = "no-hello"
	FailTrackExists                 FailReason = "track-exists"
	FailClientIDExists              FailReason = "client-id-exists"
	FailInvalidFilterSyntax         FailReason = "invalid-filter-syntax"
	FailSubscriptionIDExists        FailReason = "subscription-id-exists"
	FailNonExistentSubscriptionID   FailReason = "non-existent-subscription-id"
	FailNonExistentServiceID        FailReason = "non-existent-service-id"
	FailUnsupportedProtocolVersion  FailReason = "unsupported-protocol-version"
	FailPermissionDenied            FailReason = "permission-denied"
	FailOldGeneration                FailReason = "old-generation"
	FailSameGenerationButDifferent  FailReason = "same-generation-but-different"
	FailInsufficientResources       FailReason = "insufficient-resources"
)

// TrackType is the "track-type" field value exchanged during a v3 track
// transaction.
type TrackType string

const (
	TrackTypeQuery TrackType = "query"
	TrackTypeReply TrackType = "reply"
)

const (
	MatchAppeared    = "appeared"
	MatchModified    = "modified"
	MatchDisappeared = "disappeared"
)
