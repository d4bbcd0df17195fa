package session

import "github.com/zulandar/archivebot/internal/models"

// ResumeStep maps a persisted step to the step a restarted process should
// present. A record still idle never got its file attached past creation
// and restarts at the title question; a record caught mid-pipeline goes
// back to the final confirmation so the user can retry.
func ResumeStep(step models.Step) models.Step {
	switch {
	case step == models.StepIdle:
		return models.StepAwaitingTitle
	case step.Terminal():
		return models.StepAwaitingFinalConfirm
	}
	if !step.Valid() {
		return models.StepAwaitingTitle
	}
	return step
}

// Rebuild repopulates s from open records. When a slot has more than one
// record the most recent one (highest id) wins; it returns the records that
// lost so the caller can report them.
func (s *Store) Rebuild(recs []models.Submission) (orphans []models.Submission) {
	winners := make(map[Key]*models.Submission)
	for i := range recs {
		rec := &recs[i]
		key := Key{ChannelID: rec.ChannelID, ThreadID: rec.ThreadID}
		prev, ok := winners[key]
		switch {
		case !ok:
			winners[key] = rec
		case rec.ID > prev.ID:
			orphans = append(orphans, *prev)
			winners[key] = rec
		default:
			orphans = append(orphans, *rec)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = make(map[Key]State, len(winners))
	for key, rec := range winners {
		s.slots[key] = State{Step: ResumeStep(rec.Step), Record: rec}
	}
	return orphans
}
