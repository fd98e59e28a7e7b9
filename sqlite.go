package chatsync

import (
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore is a Store backed by a local SQLite file, for clients that want
// the cache to survive restarts.
type SQLiteStore struct {
	conn *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the cache database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{conn: conn}
	if err := s.init(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL DEFAULT '',
			is_group INTEGER NOT NULL DEFAULT 0,
			participants TEXT NOT NULL DEFAULT '[]',
			last_message TEXT,
			unread_count INTEGER NOT NULL DEFAULT 0,
			has_new_message INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			author_id TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL,
			edited INTEGER NOT NULL DEFAULT 0,
			edited_at TEXT,
			deleted INTEGER NOT NULL DEFAULT 0,
			reply_to_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_chats_updated ON chats(updated_at)`,
	}

	for _, query := range queries {
		if _, err := s.conn.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// PutChats upserts conversations by id.
func (s *SQLiteStore) PutChats(chats []Chat) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO chats
		(id, name, is_group, participants, last_message, unread_count, has_new_message, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chats {
		participants, err := json.Marshal(c.Participants)
		if err != nil {
			return err
		}
		var lastMessage interface{}
		if c.LastMessage != nil {
			b, err := json.Marshal(c.LastMessage)
			if err != nil {
				return err
			}
			lastMessage = string(b)
		}
		_, err = stmt.Exec(c.ID, c.Name, boolInt(c.IsGroup), string(participants), lastMessage,
			c.UnreadCount, boolInt(c.HasNewMessage), c.UpdatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Chats returns all cached conversations, newest-updated first.
func (s *SQLiteStore) Chats() ([]Chat, error) {
	rows, err := s.conn.Query(`SELECT id, name, is_group, participants, last_message,
		unread_count, has_new_message, updated_at FROM chats ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var (
			c            Chat
			isGroup      int
			hasNew       int
			participants string
			lastMessage  sql.NullString
			updatedAt    string
		)
		if err := rows.Scan(&c.ID, &c.Name, &isGroup, &participants, &lastMessage,
			&c.UnreadCount, &hasNew, &updatedAt); err != nil {
			return nil, err
		}
		c.IsGroup = isGroup != 0
		c.HasNewMessage = hasNew != 0
		if err := json.Unmarshal([]byte(participants), &c.Participants); err != nil {
			return nil, err
		}
		if lastMessage.Valid {
			var m Message
			if err := json.Unmarshal([]byte(lastMessage.String), &m); err != nil {
				return nil, err
			}
			m.Kind = KindConfirmed
			c.LastMessage = &m
		}
		if c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// PutMessages upserts confirmed messages by id; optimistic entries are
// skipped.
func (s *SQLiteStore) PutMessages(msgs []Message) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO messages
		(id, chat_id, author_id, content, created_at, edited, edited_at, deleted, reply_to_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range msgs {
		if m.Optimistic() || m.ID == "" {
			continue
		}
		var editedAt interface{}
		if m.EditedAt != nil {
			editedAt = m.EditedAt.UTC().Format(time.RFC3339Nano)
		}
		_, err = stmt.Exec(m.ID, m.ChatID, m.AuthorID, m.Content,
			m.CreatedAt.UTC().Format(time.RFC3339Nano), boolInt(m.Edited), editedAt,
			boolInt(m.Deleted), m.ReplyToID)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Messages returns up to limit messages of chatID strictly older than before,
// oldest-first. A zero before returns the newest page.
func (s *SQLiteStore) Messages(chatID string, limit int, before time.Time) ([]Message, error) {
	query := `SELECT id, chat_id, author_id, content, created_at, edited, edited_at, deleted, reply_to_id
		FROM messages WHERE chat_id = ?`
	args := []interface{}{chatID}
	if !before.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, before.UTC().Format(time.RFC3339Nano))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m         Message
			edited    int
			deleted   int
			createdAt string
			editedAt  sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.ChatID, &m.AuthorID, &m.Content, &createdAt,
			&edited, &editedAt, &deleted, &m.ReplyToID); err != nil {
			return nil, err
		}
		m.Edited = edited != 0
		m.Deleted = deleted != 0
		m.Kind = KindConfirmed
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, err
		}
		if editedAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, editedAt.String)
			if err != nil {
				return nil, err
			}
			m.EditedAt = &t
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// The query walks newest-first for the LIMIT; callers expect oldest-first.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// DeleteMessage removes a message from the cache.
func (s *SQLiteStore) DeleteMessage(id string) error {
	_, err := s.conn.Exec(`DELETE FROM messages WHERE id = ?`, id)
	return err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
