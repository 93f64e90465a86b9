package repositories

// Store bundles every repository behind one handle. Services receive the
// bundle plus a TransactionManager; repositories joined by SetTx context
// all participate in the same transaction.
type Store struct {
	Campaigns CampaignRepository
	Actors    ActorRepository
	Players   PlayerRepository
	Turns     TurnRepository
	Snapshots SnapshotRepository
	Timers    TimerRepository
	Inflight  InflightRepository
	Outbox    OutboxRepository
	Sessions  SessionRepository
	Media     MediaRefRepository
}
