package acme

// WorkflowState tracks one issuance attempt through the ACME v2 protocol.
// FAILED is reachable from every step.
type WorkflowState string

const (
	StateRequested        WorkflowState = "requested"
	StateKeyReady         WorkflowState = "key_ready"
	StateOrderCreated     WorkflowState = "order_created"
	StateChallengePending WorkflowState = "challenge_pending"
	StateChallengeValid   WorkflowState = "challenge_valid"
	StateFinalizing       WorkflowState = "finalizing"
	StateIssued           WorkflowState = "issued"
	StateFailed           WorkflowState = "failed"
)
