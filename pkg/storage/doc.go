/*
Package storage keeps the history of finished backup runs in BoltDB.

A run is written once, when the scheduler returns its RunSummary. The store
holds two top-level buckets:

	runs/<run-id>              RunSummary header (JSON, Jobs omitted)
	jobs/<run-id>/<000000..>   one JobOutcome per job (JSON), in report order

Splitting outcomes into a nested bucket keeps ListRuns cheap for the history
command, which only needs headers, while GetRun returns the full report.

	store, err := storage.NewBoltStore("/var/lib/tapeline/history.db")
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SaveRun(summary); err != nil {
		log.Logger.Warn().Err(err).Msg("Failed to record run history")
	}

BoltDB allows a single writer process per file. The CLI opens the store only
after the run has finished, so a long run does not hold the lock.
*/
package storage
