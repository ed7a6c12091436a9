package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "curriculum schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS main_topics (
    id TEXT PRIMARY KEY,
    subject TEXT NOT NULL,
    translated_subject TEXT NOT NULL DEFAULT '',
    cost REAL NOT NULL DEFAULT 0,
    topic_names TEXT NOT NULL DEFAULT '[]',
    objectives_summary TEXT NOT NULL DEFAULT '',
    handout_document TEXT NOT NULL DEFAULT '',
    kursil_document TEXT NOT NULL DEFAULT '',
    slides_document TEXT NOT NULL DEFAULT '',
    audio_url TEXT NOT NULL DEFAULT '',
    image_url TEXT NOT NULL DEFAULT '',
    created_at TEXT DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
    updated_at TEXT DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
);

CREATE TABLE IF NOT EXISTS topics (
    id TEXT PRIMARY KEY,
    main_topic_id TEXT NOT NULL REFERENCES main_topics(id),
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    objective TEXT NOT NULL DEFAULT '',
    key_concepts TEXT NOT NULL DEFAULT '',
    skills TEXT NOT NULL DEFAULT '',
    discussion_points TEXT NOT NULL DEFAULT '[]',
    analogy TEXT NOT NULL DEFAULT '',
    translation TEXT NOT NULL DEFAULT '',
    created_at TEXT DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
);

CREATE TABLE IF NOT EXISTS points (
    id TEXT PRIMARY KEY,
    topic_id TEXT NOT NULL REFERENCES topics(id),
    position INTEGER NOT NULL,
    text TEXT NOT NULL,
    elaboration TEXT NOT NULL DEFAULT '',
    prompting TEXT NOT NULL DEFAULT '',
    handout TEXT NOT NULL DEFAULT '',
    quiz TEXT NOT NULL DEFAULT '',
    method TEXT NOT NULL DEFAULT '',
    assessment TEXT NOT NULL DEFAULT '',
    learn_objective TEXT NOT NULL DEFAULT '',
    duration TEXT NOT NULL DEFAULT '',
    handout_translation TEXT NOT NULL DEFAULT '',
    created_at TEXT DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
    updated_at TEXT DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
    UNIQUE (topic_id, position)
);

CREATE TABLE IF NOT EXISTS cost_entries (
    id TEXT PRIMARY KEY,
    created_at TEXT DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now')),
    topic_id TEXT NOT NULL,
    main_topic_id TEXT NOT NULL,
    label TEXT NOT NULL DEFAULT '',
    stage TEXT NOT NULL,
    input_tokens INTEGER NOT NULL DEFAULT 0,
    output_tokens INTEGER NOT NULL DEFAULT 0,
    cost REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_topics_main_topic ON topics(main_topic_id, position);
CREATE INDEX IF NOT EXISTS idx_topics_name ON topics(name);
CREATE INDEX IF NOT EXISTS idx_points_topic ON points(topic_id, position);
CREATE INDEX IF NOT EXISTS idx_cost_topic ON cost_entries(topic_id);
CREATE INDEX IF NOT EXISTS idx_cost_main_topic ON cost_entries(main_topic_id);
`)
			return err
		},
	},
	{
		Version:     2,
		Description: "handout chunks for retrieval",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS handout_chunks (
    id TEXT PRIMARY KEY,
    main_topic_id TEXT NOT NULL REFERENCES main_topics(id),
    point_id TEXT NOT NULL,
    position INTEGER NOT NULL,
    content TEXT NOT NULL,
    embedding TEXT NOT NULL DEFAULT '[]',
    model TEXT NOT NULL DEFAULT '',
    created_at TEXT DEFAULT (strftime('%Y-%m-%d %H:%M:%f', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_chunks_main_topic ON handout_chunks(main_topic_id, position);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
