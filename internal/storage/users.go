package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/JaysonBrenton/mre/internal/racedata"
)

// ErrUserNotFound is returned when a user lookup matches no row.
var ErrUserNotFound = errors.New("user not found")

const userColumns = `id, email, display_name, normalized_name, transponder_id,
	created_at, updated_at`

const userDriverLinkColumns = `id, user_id, driver_id, status, similarity,
	matched_at, confirmed_at, rejected_at, matcher_id, matcher_version,
	conflict_reason, created_at, updated_at`

// ListUsers returns every user; the matcher preloads them once per
// event.
func (s *Store) ListUsers(ctx context.Context) ([]racedata.User, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, persistenceError("listing users", nil, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var users []racedata.User

	for rows.Next() {
		var user racedata.User

		err := rows.Scan(
			&user.ID, &user.Email, &user.DisplayName, &user.NormalizedName,
			&user.TransponderID, &user.CreatedAt, &user.UpdatedAt,
		)
		if err != nil {
			return nil, persistenceError("scanning user row", nil, err)
		}

		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterating user rows", nil, err)
	}

	return users, nil
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id int64) (*racedata.User, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)

	var user racedata.User

	err := row.Scan(
		&user.ID, &user.Email, &user.DisplayName, &user.NormalizedName,
		&user.TransponderID, &user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrUserNotFound, id)
	}

	if err != nil {
		return nil, persistenceError("loading user", map[string]any{"user_id": id}, err)
	}

	return &user, nil
}

// ListUserDriverLinks returns all links keyed by driver id, so conflict
// detection can see every user claiming a driver.
func (s *Store) ListUserDriverLinks(ctx context.Context) (map[int64][]racedata.UserDriverLink, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+userDriverLinkColumns+` FROM user_driver_links ORDER BY driver_id, user_id`)
	if err != nil {
		return nil, persistenceError("listing user-driver links", nil, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	links := make(map[int64][]racedata.UserDriverLink)

	for rows.Next() {
		link, err := scanUserDriverLink(rows)
		if err != nil {
			return nil, persistenceError("scanning link row", nil, err)
		}

		links[link.DriverID] = append(links[link.DriverID], *link)
	}

	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterating link rows", nil, err)
	}

	return links, nil
}

// GetUserDriverLink loads the link for one (user, driver) pair.
func (s *Store) GetUserDriverLink(ctx context.Context, userID, driverID int64) (*racedata.UserDriverLink, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT `+userDriverLinkColumns+` FROM user_driver_links WHERE user_id = $1 AND driver_id = $2`,
		userID, driverID)

	link, err := scanUserDriverLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}

	if err != nil {
		return nil, persistenceError("loading user-driver link",
			map[string]any{"user_id": userID, "driver_id": driverID}, err)
	}

	return link, nil
}

// UpsertUserDriverLink inserts or refreshes a link by (user, driver).
// Terminal statuses already on the row are preserved; the matcher
// checks them before proposing, and auto-confirmation writes through
// this with the final status.
func (s *Store) UpsertUserDriverLink(ctx context.Context, tx *sql.Tx, link *racedata.UserDriverLink) (*racedata.UserDriverLink, error) {
	query := `
		INSERT INTO user_driver_links (user_id, driver_id, status, similarity, matched_at,
			confirmed_at, rejected_at, matcher_id, matcher_version, conflict_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (user_id, driver_id) DO UPDATE SET
			status = EXCLUDED.status,
			similarity = EXCLUDED.similarity,
			matched_at = EXCLUDED.matched_at,
			confirmed_at = EXCLUDED.confirmed_at,
			rejected_at = EXCLUDED.rejected_at,
			matcher_id = EXCLUDED.matcher_id,
			matcher_version = EXCLUDED.matcher_version,
			conflict_reason = EXCLUDED.conflict_reason,
			updated_at = now()
		RETURNING ` + userDriverLinkColumns

	row := tx.QueryRowContext(ctx, query,
		link.UserID, link.DriverID, link.Status, link.Similarity, link.MatchedAt,
		link.ConfirmedAt, link.RejectedAt, link.MatcherID, link.MatcherVersion, link.ConflictReason,
	)

	saved, err := scanUserDriverLink(row)
	if err != nil {
		return nil, persistenceError("upserting user-driver link",
			map[string]any{"user_id": link.UserID, "driver_id": link.DriverID}, err)
	}

	return saved, nil
}

// UpsertEventDriverLink records per-event matching evidence by
// (user, event, driver).
func (s *Store) UpsertEventDriverLink(ctx context.Context, tx *sql.Tx, link *racedata.EventDriverLink) (*racedata.EventDriverLink, error) {
	query := `
		INSERT INTO event_driver_links (user_id, event_id, driver_id, match_type, similarity, transponder_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, event_id, driver_id) DO UPDATE SET
			match_type = EXCLUDED.match_type,
			similarity = EXCLUDED.similarity,
			transponder_id = EXCLUDED.transponder_id,
			updated_at = now()
		RETURNING id, user_id, event_id, driver_id, match_type, similarity, transponder_id,
			created_at, updated_at`

	row := tx.QueryRowContext(ctx, query,
		link.UserID, link.EventID, link.DriverID, link.MatchType, link.Similarity, link.TransponderID,
	)

	var saved racedata.EventDriverLink

	err := row.Scan(
		&saved.ID, &saved.UserID, &saved.EventID, &saved.DriverID,
		&saved.MatchType, &saved.Similarity, &saved.TransponderID,
		&saved.CreatedAt, &saved.UpdatedAt,
	)
	if err != nil {
		return nil, persistenceError("upserting event-driver link",
			map[string]any{"user_id": link.UserID, "driver_id": link.DriverID}, err)
	}

	return &saved, nil
}

// TransponderLinkGroup is a (user, driver) pair with the count of
// transponder-matched event links supporting it. Auto-confirmation
// acts on groups of size two or more.
type TransponderLinkGroup struct {
	UserID   int64
	DriverID int64
	Count    int
}

// ListTransponderLinkGroups aggregates transponder-matched event links
// by (user, driver), largest groups first.
func (s *Store) ListTransponderLinkGroups(ctx context.Context, minCount int) ([]TransponderLinkGroup, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT user_id, driver_id, COUNT(*)
		FROM event_driver_links
		WHERE match_type = $1
		GROUP BY user_id, driver_id
		HAVING COUNT(*) >= $2
		ORDER BY COUNT(*) DESC, user_id, driver_id`, racedata.MatchTransponder, minCount)
	if err != nil {
		return nil, persistenceError("listing transponder link groups", nil, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	var groups []TransponderLinkGroup

	for rows.Next() {
		var g TransponderLinkGroup
		if err := rows.Scan(&g.UserID, &g.DriverID, &g.Count); err != nil {
			return nil, persistenceError("scanning link group row", nil, err)
		}

		groups = append(groups, g)
	}

	if err := rows.Err(); err != nil {
		return nil, persistenceError("iterating link group rows", nil, err)
	}

	return groups, nil
}

func scanUserDriverLink(row rowScanner) (*racedata.UserDriverLink, error) {
	var link racedata.UserDriverLink

	err := row.Scan(
		&link.ID, &link.UserID, &link.DriverID, &link.Status, &link.Similarity,
		&link.MatchedAt, &link.ConfirmedAt, &link.RejectedAt, &link.MatcherID,
		&link.MatcherVersion, &link.ConflictReason, &link.CreatedAt, &link.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &link, nil
}
