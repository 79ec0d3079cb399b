package consensus

// Transport is how an Engine instance sends messages to its peers. A
// production Node wires this to netdelegate's per-socket send queues;
// tests wire it to an in-memory fake that records what was sent.
type Transport interface {
	BroadcastPrePrepare(*PrePrepareMessage)
	SendPrepareToPrimary(primary uint8, msg *PrepareMessage)
	BroadcastPostPrepare(*PostPrepareMessage)
	SendCommitToPrimary(primary uint8, msg *CommitMessage)
	BroadcastPostCommit(*PostCommitMessage)
	SendRejectionToPrimary(primary uint8, msg *RejectionMessage)
}
