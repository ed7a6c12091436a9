package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const pointColumns = `id, topic_id, position, text, elaboration, prompting, handout, quiz, method,
	assessment, learn_objective, duration, handout_translation, created_at, updated_at`

var writablePointFields = map[PointField]bool{
	FieldElaboration:        true,
	FieldPrompting:          true,
	FieldHandout:            true,
	FieldQuiz:               true,
	FieldMethod:             true,
	FieldAssessment:         true,
	FieldLearnObjective:     true,
	FieldDuration:           true,
	FieldHandoutTranslation: true,
}

// InsertPoint inserts a point at position and returns its ID. When a point
// already occupies (topicID, position) its ID is returned instead.
func (db *DB) InsertPoint(ctx context.Context, topicID string, position int, text string) (string, error) {
	id := uuid.NewString()
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO points (id, topic_id, position, text) VALUES (?, ?, ?, ?)
		ON CONFLICT (topic_id, position) DO NOTHING`,
		id, topicID, position, text,
	)
	if err != nil {
		return "", fmt.Errorf("inserting point: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return id, nil
	}

	var existing string
	if err := db.conn.QueryRowContext(ctx,
		"SELECT id FROM points WHERE topic_id = ? AND position = ?", topicID, position,
	).Scan(&existing); err != nil {
		return "", fmt.Errorf("reading existing point: %w", err)
	}
	return existing, nil
}

// GetPoint returns a point by ID, or nil if absent.
func (db *DB) GetPoint(ctx context.Context, id string) (*Point, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+pointColumns+` FROM points WHERE id = ?`, id)
	p, err := scanPoint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// GetPointsByTopic returns a topic's points in position order.
func (db *DB) GetPointsByTopic(ctx context.Context, topicID string) ([]Point, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+pointColumns+` FROM points WHERE topic_id = ? ORDER BY position`, topicID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Point
	for rows.Next() {
		p, err := scanPoint(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// SetPointField writes one stage column.
func (db *DB) SetPointField(ctx context.Context, pointID string, field PointField, value string) error {
	if !writablePointFields[field] {
		return fmt.Errorf("unknown point field %q", field)
	}
	res, err := db.conn.ExecContext(ctx,
		"UPDATE points SET "+string(field)+" = ?, updated_at = strftime('%Y-%m-%d %H:%M:%f', 'now') WHERE id = ?",
		value, pointID)
	if err != nil {
		return err
	}
	return expectOneRow(res, "point", pointID)
}

// SetPointFields writes several stage columns in one transaction.
func (db *DB) SetPointFields(ctx context.Context, pointID string, values map[PointField]string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for field, value := range values {
		if !writablePointFields[field] {
			return fmt.Errorf("unknown point field %q", field)
		}
		res, err := tx.ExecContext(ctx,
			"UPDATE points SET "+string(field)+" = ?, updated_at = strftime('%Y-%m-%d %H:%M:%f', 'now') WHERE id = ?",
			value, pointID)
		if err != nil {
			return err
		}
		if err := expectOneRow(res, "point", pointID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func scanPoint(row scanner) (*Point, error) {
	var p Point
	var createdAt, updatedAt sql.NullString
	if err := row.Scan(&p.ID, &p.TopicID, &p.Position, &p.Text, &p.Elaboration, &p.Prompting,
		&p.Handout, &p.Quiz, &p.Method, &p.Assessment, &p.LearnObjective, &p.Duration,
		&p.HandoutTranslation, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = createdAt.String
	p.UpdatedAt = updatedAt.String
	return &p, nil
}
