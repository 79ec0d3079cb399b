// Package governance carries the small set of out-of-band signals that
// concern normal consensus progress: currently, a delegate recall
// request.
package governance

// RecallRequest names a delegate to recall. epoch.Transition.TriggerRecall
// marks that delegate as rejecting for the next transition and publishes
// the request on the Transition's Recall channel. Nothing in this
// repository reads that channel: a recall does not change the epoch
// state machine, does not remove the delegate from the set Commit
// installs, and does not reject an in-flight epoch proposal.
type RecallRequest struct {
	Epoch      uint32
	DelegateID uint8
	Reason     string
}
