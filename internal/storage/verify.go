package storage

import (
	"context"
)

// IntegrityReport counts rows that violate referential expectations.
// Foreign keys make most orphans impossible; the remaining checks cover
// invariants the schema cannot express.
type IntegrityReport struct {
	EventsWithoutEntries int
	ResultsMissingLaps   int
	DanglingSyntheticIDs int
	UnlinkedRaceDrivers  int
}

// Clean reports whether every check came back zero.
func (r IntegrityReport) Clean() bool {
	return r.EventsWithoutEntries == 0 &&
		r.ResultsMissingLaps == 0 &&
		r.DanglingSyntheticIDs == 0 &&
		r.UnlinkedRaceDrivers == 0
}

// VerifyIntegrity runs the integrity checks the CLI's verify command
// reports on.
func (s *Store) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	checks := []struct {
		name  string
		query string
		dest  *int
	}{
		{
			name: "fully ingested events without entries",
			query: `SELECT COUNT(*) FROM events e
				WHERE e.ingest_depth = 'laps_full'
				AND NOT EXISTS (SELECT 1 FROM event_entries en WHERE en.event_id = e.id)`,
			dest: &report.EventsWithoutEntries,
		},
		{
			name: "results declaring many laps with none stored",
			query: `SELECT COUNT(*) FROM race_results rr
				WHERE rr.laps_completed > 10
				AND NOT EXISTS (SELECT 1 FROM laps l WHERE l.race_result_id = rr.id)`,
			dest: &report.ResultsMissingLaps,
		},
		{
			name: "synthetic drivers that still appear in results",
			query: `SELECT COUNT(DISTINCT d.id) FROM drivers d
				JOIN race_drivers rd ON rd.driver_id = d.id
				WHERE d.source_driver_id LIKE 'entry\_%'`,
			dest: &report.DanglingSyntheticIDs,
		},
		{
			name: "race drivers whose driver row is missing",
			query: `SELECT COUNT(*) FROM race_drivers rd
				WHERE NOT EXISTS (SELECT 1 FROM drivers d WHERE d.id = rd.driver_id)`,
			dest: &report.UnlinkedRaceDrivers,
		},
	}

	for _, check := range checks {
		if err := s.conn.QueryRowContext(ctx, check.query).Scan(check.dest); err != nil {
			return nil, persistenceError("running integrity check",
				map[string]any{"check": check.name}, err)
		}
	}

	return report, nil
}

// StatusSnapshot is the row-count overview behind the CLI status
// command.
type StatusSnapshot struct {
	Tracks         int
	FollowedTracks int
	Events         int
	EventsComplete int
	Races          int
	Results        int
	Laps           int
	Drivers        int
	Annotations    int
}

// Status collects the row counts of the snapshot.
func (s *Store) Status(ctx context.Context) (*StatusSnapshot, error) {
	snapshot := &StatusSnapshot{}

	counts := []struct {
		query string
		dest  *int
	}{
		{`SELECT COUNT(*) FROM tracks`, &snapshot.Tracks},
		{`SELECT COUNT(*) FROM tracks WHERE is_followed`, &snapshot.FollowedTracks},
		{`SELECT COUNT(*) FROM events`, &snapshot.Events},
		{`SELECT COUNT(*) FROM events WHERE ingest_depth = 'laps_full'`, &snapshot.EventsComplete},
		{`SELECT COUNT(*) FROM races`, &snapshot.Races},
		{`SELECT COUNT(*) FROM race_results`, &snapshot.Results},
		{`SELECT COUNT(*) FROM laps`, &snapshot.Laps},
		{`SELECT COUNT(*) FROM drivers`, &snapshot.Drivers},
		{`SELECT COUNT(*) FROM lap_annotations`, &snapshot.Annotations},
	}

	for _, count := range counts {
		if err := s.conn.QueryRowContext(ctx, count.query).Scan(count.dest); err != nil {
			return nil, persistenceError("collecting status snapshot", nil, err)
		}
	}

	return snapshot, nil
}
