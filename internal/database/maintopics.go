package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const mainTopicColumns = `id, subject, translated_subject, cost, topic_names, objectives_summary,
	handout_document, kursil_document, slides_document, audio_url, image_url, created_at, updated_at`

// InsertMainTopic inserts a main topic and returns its new ID.
func (db *DB) InsertMainTopic(ctx context.Context, mt MainTopic) (string, error) {
	names, err := json.Marshal(nonNil(mt.TopicNames))
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO main_topics (id, subject, translated_subject, cost, topic_names, objectives_summary)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, mt.Subject, mt.TranslatedSubject, mt.Cost, string(names), mt.ObjectivesSummary,
	)
	if err != nil {
		return "", fmt.Errorf("inserting main topic: %w", err)
	}
	return id, nil
}

// GetMainTopic returns a main topic by ID, or nil if absent.
func (db *DB) GetMainTopic(ctx context.Context, id string) (*MainTopic, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+mainTopicColumns+` FROM main_topics WHERE id = ?`, id)
	mt, err := scanMainTopic(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return mt, err
}

// ListMainTopics returns main topics, newest first.
func (db *DB) ListMainTopics(ctx context.Context, limit int) ([]MainTopic, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+mainTopicColumns+` FROM main_topics ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MainTopic
	for rows.Next() {
		mt, err := scanMainTopic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *mt)
	}
	return out, rows.Err()
}

// UpdateMainTopic writes the non-nil fields of u.
func (db *DB) UpdateMainTopic(ctx context.Context, id string, u MainTopicUpdate) error {
	var sets []string
	var args []any
	add := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, *v)
		}
	}
	add("translated_subject", u.TranslatedSubject)
	add("objectives_summary", u.ObjectivesSummary)
	add("handout_document", u.HandoutDocument)
	add("kursil_document", u.KursilDocument)
	add("slides_document", u.SlidesDocument)
	add("audio_url", u.AudioURL)
	add("image_url", u.ImageURL)
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = strftime('%Y-%m-%d %H:%M:%f', 'now')")
	args = append(args, id)

	_, err := db.conn.ExecContext(ctx,
		"UPDATE main_topics SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	return err
}

// AddMainTopicCost adds delta to the accumulated cost.
func (db *DB) AddMainTopicCost(ctx context.Context, id string, delta float64) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE main_topics SET cost = cost + ?, updated_at = strftime('%Y-%m-%d %H:%M:%f', 'now')
		WHERE id = ?`, delta, id)
	return err
}

// GetStats returns row counts across the store.
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := db.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM main_topics),
			(SELECT COUNT(*) FROM topics),
			(SELECT COUNT(*) FROM points),
			(SELECT COUNT(*) FROM points WHERE handout != ''),
			(SELECT COUNT(*) FROM cost_entries),
			(SELECT COALESCE(SUM(cost), 0) FROM cost_entries)`,
	).Scan(&s.MainTopics, &s.Topics, &s.Points, &s.Handouts, &s.CostEntries, &s.TotalCost)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMainTopic(row scanner) (*MainTopic, error) {
	var mt MainTopic
	var names string
	var createdAt, updatedAt sql.NullString
	if err := row.Scan(&mt.ID, &mt.Subject, &mt.TranslatedSubject, &mt.Cost, &names,
		&mt.ObjectivesSummary, &mt.HandoutDocument, &mt.KursilDocument, &mt.SlidesDocument,
		&mt.AudioURL, &mt.ImageURL, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(names), &mt.TopicNames); err != nil {
		mt.TopicNames = nil
	}
	mt.CreatedAt = createdAt.String
	mt.UpdatedAt = updatedAt.String
	return &mt, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
