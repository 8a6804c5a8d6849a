package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-dataspace/pkg/dataspace"
)

// Schema creates the tables used by Repository. It is idempotent.
//
//go:embed schema.sql
var Schema string

// DBTX is an interface that allows us to use either a connection pool or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// Repository implements dataspace.SpaceRepository using PostgreSQL. A space
// and its members are always written in one transaction.
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate applies Schema.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return r.handlePostgresError("migrate", err)
	}
	return nil
}

func (r *Repository) handlePostgresError(operation string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return dataspace.ErrSpaceNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			if pgErr.ConstraintName == "data_space_pkey" {
				return dataspace.ErrSpaceExists
			}
			return dataspace.ErrMemberExists
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

func (r *Repository) CreateSpace(ctx context.Context, space *dataspace.DataSpace) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			INSERT INTO dataspace.data_space (
				id, title, description, purpose, access_mode, storage_location,
				creator_principal, tags, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
		if _, err := tx.Exec(ctx, query,
			space.ID, space.Title, space.Description, space.Purpose, space.AccessMode,
			space.StorageLocation, space.CreatorPrincipal, space.Tags,
			space.CreatedAt, space.UpdatedAt); err != nil {
			return err
		}
		return insertMembers(ctx, tx, space)
	})
	if err != nil {
		return r.handlePostgresError("create space", err)
	}
	return nil
}

func (r *Repository) GetSpace(ctx context.Context, id string) (*dataspace.DataSpace, error) {
	rows, err := r.db.Query(ctx, selectSpaces+` WHERE id = $1`, id)
	if err != nil {
		return nil, r.handlePostgresError("get space", err)
	}
	spaces, err := r.collect(ctx, rows)
	if err != nil {
		return nil, r.handlePostgresError("get space", err)
	}
	if len(spaces) == 0 {
		return nil, dataspace.ErrSpaceNotFound
	}
	return spaces[0], nil
}

func (r *Repository) SaveSpace(ctx context.Context, space *dataspace.DataSpace) error {
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		query := `
			UPDATE dataspace.data_space SET
				title = $2, description = $3, purpose = $4, access_mode = $5,
				storage_location = $6, creator_principal = $7, tags = $8, updated_at = $9
			WHERE id = $1`
		tag, err := tx.Exec(ctx, query,
			space.ID, space.Title, space.Description, space.Purpose, space.AccessMode,
			space.StorageLocation, space.CreatorPrincipal, space.Tags, space.UpdatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return pgx.ErrNoRows
		}
		if _, err := tx.Exec(ctx, `DELETE FROM dataspace.data_space_member WHERE space_id = $1`, space.ID); err != nil {
			return err
		}
		return insertMembers(ctx, tx, space)
	})
	if err != nil {
		return r.handlePostgresError("save space", err)
	}
	return nil
}

func (r *Repository) DeleteSpace(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM dataspace.data_space WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete space", err)
	}
	if tag.RowsAffected() == 0 {
		return dataspace.ErrSpaceNotFound
	}
	return nil
}

func (r *Repository) ListSpaces(ctx context.Context) ([]*dataspace.DataSpace, error) {
	rows, err := r.db.Query(ctx, selectSpaces+` ORDER BY created_at, id`)
	if err != nil {
		return nil, r.handlePostgresError("list spaces", err)
	}
	spaces, err := r.collect(ctx, rows)
	if err != nil {
		return nil, r.handlePostgresError("list spaces", err)
	}
	return spaces, nil
}

func (r *Repository) ListSpacesByMember(ctx context.Context, principal string) ([]*dataspace.DataSpace, error) {
	rows, err := r.db.Query(ctx, selectSpaces+`
		WHERE id IN (SELECT space_id FROM dataspace.data_space_member WHERE principal = $1)
		ORDER BY created_at, id`, principal)
	if err != nil {
		return nil, r.handlePostgresError("list spaces by member", err)
	}
	spaces, err := r.collect(ctx, rows)
	if err != nil {
		return nil, r.handlePostgresError("list spaces by member", err)
	}
	return spaces, nil
}

const selectSpaces = `
	SELECT id, title, description, purpose, access_mode, storage_location,
	       creator_principal, tags, created_at, updated_at
	FROM dataspace.data_space`

// collect scans space rows and attaches their members.
func (r *Repository) collect(ctx context.Context, rows pgx.Rows) ([]*dataspace.DataSpace, error) {
	spaces, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*dataspace.DataSpace, error) {
		var s dataspace.DataSpace
		err := row.Scan(&s.ID, &s.Title, &s.Description, &s.Purpose, &s.AccessMode,
			&s.StorageLocation, &s.CreatorPrincipal, &s.Tags, &s.CreatedAt, &s.UpdatedAt)
		s.CreatedAt = s.CreatedAt.UTC()
		s.UpdatedAt = s.UpdatedAt.UTC()
		return &s, err
	})
	if err != nil || len(spaces) == 0 {
		return spaces, err
	}

	byID := make(map[string]*dataspace.DataSpace, len(spaces))
	ids := make([]string, 0, len(spaces))
	for _, s := range spaces {
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}

	memberRows, err := r.db.Query(ctx, `
		SELECT space_id, principal, role, joined_at
		FROM dataspace.data_space_member
		WHERE space_id = ANY($1)
		ORDER BY space_id, position`, ids)
	if err != nil {
		return nil, err
	}
	defer memberRows.Close()
	for memberRows.Next() {
		var spaceID string
		var m dataspace.Member
		if err := memberRows.Scan(&spaceID, &m.Principal, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		m.JoinedAt = m.JoinedAt.UTC()
		byID[spaceID].Members = append(byID[spaceID].Members, m)
	}
	return spaces, memberRows.Err()
}

func insertMembers(ctx context.Context, tx pgx.Tx, space *dataspace.DataSpace) error {
	if len(space.Members) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for i, m := range space.Members {
		batch.Queue(`
			INSERT INTO dataspace.data_space_member (space_id, principal, role, position, joined_at)
			VALUES ($1, $2, $3, $4, $5)`,
			space.ID, m.Principal, m.Role, i, m.JoinedAt)
	}
	return tx.SendBatch(ctx, batch).Close()
}
