package qsync

// SynchronizationState records whether the client was found to be out of sync
// during one input pass. Once set, it is never cleared for that pass.
type SynchronizationState struct {
	outOfSync bool
}

func (s *SynchronizationState) SetOutOfSync() {
	s.outOfSync = true
}

// OutOfSync is true if the client's transaction id didn't match, and its
// input was discarded.
func (s *SynchronizationState) OutOfSync() bool {
	return s.outOfSync
}
