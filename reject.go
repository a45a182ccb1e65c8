package pubsub

// Reasons a message never reaches a topic's subscribers. These feed both
// pubsubTracer.RejectMessage and peer score's invalid-message penalty.
const (
	rejectBlacklistedPeer     = "blacklisted peer"
	rejectBlacklistedSource   = "blacklisted source"
	rejectMissingSignature    = "missing signature"
	rejectInvalidSignature    = "invalid signature"
	rejectSelfOrigin          = "self origin"
	rejectValidationQueueFull = "validation queue full"
	rejectValidationThrottled = "validation throttled"
	rejectValidationIgnored   = "validation ignored"
	rejectValidationFailed    = "validation failed"
)
