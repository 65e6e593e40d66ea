// Package sqlite implements shiftlog.Store on a local SQLite file using the
// pure-Go driver, so the binary needs no CGO toolchain.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/nevindra/shiftlog"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing and row counts.
// If not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements shiftlog.Store backed by a local SQLite file. A single
// connection (SetMaxOpenConns(1)) serializes every access, which is
// sufficient for shiftlog's single-process fetch/summarize workload and
// avoids SQLITE_BUSY entirely.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ shiftlog.Store = (*Store)(nil)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath. dbPath may be
// ":memory:" for an ephemeral, process-private database.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables and applies the WAL/foreign-key pragmas.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: init started")

	pragmas := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return &shiftlog.ErrCacheIO{Op: "init: " + p, Err: err}
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			channel_id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			kind TEXT NOT NULL,
			members TEXT NOT NULL DEFAULT '',
			peer_user TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			channel_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			user_id TEXT NOT NULL,
			text TEXT NOT NULL,
			msg_type TEXT NOT NULL DEFAULT '',
			subtype TEXT NOT NULL DEFAULT '',
			thread_parent_ts TEXT NOT NULL DEFAULT '',
			attachments TEXT NOT NULL DEFAULT '',
			day TEXT NOT NULL,
			PRIMARY KEY (channel_id, ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_channel_day ON messages (channel_id, day)`,
		`CREATE TABLE IF NOT EXISTS mentions (
			user_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			msg_user_id TEXT NOT NULL,
			text TEXT NOT NULL,
			msg_type TEXT NOT NULL DEFAULT '',
			subtype TEXT NOT NULL DEFAULT '',
			thread_parent_ts TEXT NOT NULL DEFAULT '',
			attachments TEXT NOT NULL DEFAULT '',
			day TEXT NOT NULL,
			PRIMARY KEY (user_id, channel_id, ts)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mentions_user_day ON mentions (user_id, day)`,
		`CREATE TABLE IF NOT EXISTS reactions (
			user_id TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			ts TEXT NOT NULL,
			emoji TEXT NOT NULL,
			day TEXT NOT NULL,
			PRIMARY KEY (user_id, channel_id, ts, emoji)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_reactions_user_day ON reactions (user_id, day)`,
		`CREATE TABLE IF NOT EXISTS fetch_watermarks (
			user_id TEXT NOT NULL,
			scope TEXT NOT NULL,
			day TEXT NOT NULL,
			kind TEXT NOT NULL,
			fetched_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, scope, day, kind)
		)`,
		`CREATE TABLE IF NOT EXISTS embeddings (
			conversation_id TEXT NOT NULL,
			text_hash TEXT NOT NULL,
			embedding BLOB NOT NULL,
			model TEXT NOT NULL,
			dimensions INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (conversation_id, text_hash)
		)`,
	}
	for _, stmt := range tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			s.logger.Error("sqlite: init failed", "error", err, "duration", time.Since(start))
			return &shiftlog.ErrCacheIO{Op: "init", Err: err}
		}
	}
	s.logger.Debug("sqlite: init ok", "duration", time.Since(start))
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	s.logger.Debug("sqlite: closing store")
	err := s.db.Close()
	if err != nil {
		s.logger.Error("sqlite: close failed", "error", err)
	}
	return err
}

// --- Messages ---

func (s *Store) GetCachedMessages(ctx context.Context, channelID string, days []string) ([]shiftlog.Message, error) {
	if len(days) == 0 {
		return nil, nil
	}
	start := time.Now()
	s.logger.Debug("sqlite: get cached messages", "channel_id", channelID, "days", len(days))

	placeholders, args := dayPlaceholders(days)
	query := fmt.Sprintf(
		`SELECT ts, user_id, text, msg_type, subtype, thread_parent_ts, attachments
		 FROM messages WHERE channel_id = ? AND day IN (%s) ORDER BY ts ASC`,
		placeholders,
	)
	rows, err := s.db.QueryContext(ctx, query, append([]any{channelID}, args...)...)
	if err != nil {
		s.logger.Error("sqlite: get cached messages failed", "error", err, "duration", time.Since(start))
		return nil, &shiftlog.ErrCacheIO{Op: "get cached messages", Err: err}
	}
	defer rows.Close()

	var msgs []shiftlog.Message
	for rows.Next() {
		m := shiftlog.Message{ChannelID: channelID}
		var attach string
		if err := rows.Scan(&m.Ts, &m.User, &m.Text, &m.Type, &m.Subtype, &m.ThreadParentTs, &attach); err != nil {
			return nil, &shiftlog.ErrCacheIO{Op: "scan message", Err: err}
		}
		m.Attachments = decodeAttachments(attach)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &shiftlog.ErrCacheIO{Op: "iterate messages", Err: err}
	}
	s.logger.Debug("sqlite: get cached messages ok", "count", len(msgs), "duration", time.Since(start))
	return msgs, nil
}

func (s *Store) CacheMessages(ctx context.Context, channelID string, msgs []shiftlog.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	start := time.Now()
	s.logger.Debug("sqlite: cache messages", "channel_id", channelID, "count", len(msgs))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &shiftlog.ErrCacheIO{Op: "begin tx", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO messages
		 (channel_id, ts, user_id, text, msg_type, subtype, thread_parent_ts, attachments, day)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return &shiftlog.ErrCacheIO{Op: "prepare cache messages", Err: err}
	}
	defer stmt.Close()

	for _, m := range msgs {
		tsFloat, err := shiftlog.ParseTs(m.Ts)
		if err != nil {
			continue
		}
		day := shiftlog.DayBucket(tsFloat, time.UTC)
		if _, err := stmt.ExecContext(ctx, channelID, m.Ts, m.User, m.Text, m.Type, m.Subtype,
			m.ThreadParentTs, encodeAttachments(m.Attachments), day); err != nil {
			s.logger.Error("sqlite: cache message failed", "ts", m.Ts, "error", err)
			return &shiftlog.ErrCacheIO{Op: "cache message", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		s.logger.Error("sqlite: cache messages commit failed", "error", err, "duration", time.Since(start))
		return &shiftlog.ErrCacheIO{Op: "commit cache messages", Err: err}
	}
	s.logger.Debug("sqlite: cache messages ok", "count", len(msgs), "duration", time.Since(start))
	return nil
}

// --- Mentions ---

func (s *Store) GetCachedMentions(ctx context.Context, userID string, days []string) ([]shiftlog.Message, error) {
	if len(days) == 0 {
		return nil, nil
	}
	placeholders, args := dayPlaceholders(days)
	query := fmt.Sprintf(
		`SELECT channel_id, ts, msg_user_id, text, msg_type, subtype, thread_parent_ts, attachments
		 FROM mentions WHERE user_id = ? AND day IN (%s) ORDER BY ts ASC`,
		placeholders,
	)
	rows, err := s.db.QueryContext(ctx, query, append([]any{userID}, args...)...)
	if err != nil {
		return nil, &shiftlog.ErrCacheIO{Op: "get cached mentions", Err: err}
	}
	defer rows.Close()

	var msgs []shiftlog.Message
	for rows.Next() {
		var m shiftlog.Message
		var attach string
		if err := rows.Scan(&m.ChannelID, &m.Ts, &m.User, &m.Text, &m.Type, &m.Subtype, &m.ThreadParentTs, &attach); err != nil {
			return nil, &shiftlog.ErrCacheIO{Op: "scan mention", Err: err}
		}
		m.Attachments = decodeAttachments(attach)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *Store) CacheMentions(ctx context.Context, userID string, msgs []shiftlog.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &shiftlog.ErrCacheIO{Op: "begin tx", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO mentions
		 (user_id, channel_id, ts, msg_user_id, text, msg_type, subtype, thread_parent_ts, attachments, day)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return &shiftlog.ErrCacheIO{Op: "prepare cache mentions", Err: err}
	}
	defer stmt.Close()

	for _, m := range msgs {
		tsFloat, err := shiftlog.ParseTs(m.Ts)
		if err != nil {
			continue
		}
		day := shiftlog.DayBucket(tsFloat, time.UTC)
		if _, err := stmt.ExecContext(ctx, userID, m.ChannelID, m.Ts, m.User, m.Text, m.Type, m.Subtype,
			m.ThreadParentTs, encodeAttachments(m.Attachments), day); err != nil {
			return &shiftlog.ErrCacheIO{Op: "cache mention", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &shiftlog.ErrCacheIO{Op: "commit cache mentions", Err: err}
	}
	return nil
}

// --- Reactions ---

func (s *Store) GetCachedReactions(ctx context.Context, userID string, days []string) ([]shiftlog.Reaction, error) {
	if len(days) == 0 {
		return nil, nil
	}
	placeholders, args := dayPlaceholders(days)
	query := fmt.Sprintf(
		`SELECT channel_id, ts, emoji FROM reactions WHERE user_id = ? AND day IN (%s)`,
		placeholders,
	)
	rows, err := s.db.QueryContext(ctx, query, append([]any{userID}, args...)...)
	if err != nil {
		return nil, &shiftlog.ErrCacheIO{Op: "get cached reactions", Err: err}
	}
	defer rows.Close()

	var reactions []shiftlog.Reaction
	for rows.Next() {
		var r shiftlog.Reaction
		if err := rows.Scan(&r.ChannelID, &r.Ts, &r.Emoji); err != nil {
			return nil, &shiftlog.ErrCacheIO{Op: "scan reaction", Err: err}
		}
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}

func (s *Store) CacheReactions(ctx context.Context, userID string, reactions []shiftlog.Reaction) error {
	if len(reactions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &shiftlog.ErrCacheIO{Op: "begin tx", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO reactions (user_id, channel_id, ts, emoji, day) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return &shiftlog.ErrCacheIO{Op: "prepare cache reactions", Err: err}
	}
	defer stmt.Close()

	for _, r := range reactions {
		tsFloat, err := shiftlog.ParseTs(r.Ts)
		if err != nil {
			continue
		}
		day := shiftlog.DayBucket(tsFloat, time.UTC)
		if _, err := stmt.ExecContext(ctx, userID, r.ChannelID, r.Ts, r.Emoji, day); err != nil {
			return &shiftlog.ErrCacheIO{Op: "cache reaction", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &shiftlog.ErrCacheIO{Op: "commit cache reactions", Err: err}
	}
	return nil
}

// --- Channels ---

func (s *Store) GetCachedChannel(ctx context.Context, channelID string) (shiftlog.Channel, bool, error) {
	var ch shiftlog.Channel
	var kind, members string
	err := s.db.QueryRowContext(ctx,
		`SELECT channel_id, name, kind, members, peer_user FROM channels WHERE channel_id = ?`,
		channelID,
	).Scan(&ch.ID, &ch.Name, &kind, &members, &ch.PeerUser)
	if err == sql.ErrNoRows {
		return shiftlog.Channel{}, false, nil
	}
	if err != nil {
		return shiftlog.Channel{}, false, &shiftlog.ErrCacheIO{Op: "get cached channel", Err: err}
	}
	ch.Kind = shiftlog.ChannelKind(kind)
	if members != "" {
		ch.Members = strings.Split(members, ",")
	}
	return ch, true, nil
}

func (s *Store) CacheChannel(ctx context.Context, ch shiftlog.Channel) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO channels (channel_id, name, kind, members, peer_user) VALUES (?, ?, ?, ?, ?)`,
		ch.ID, ch.Name, string(ch.Kind), strings.Join(ch.Members, ","), ch.PeerUser,
	)
	if err != nil {
		return &shiftlog.ErrCacheIO{Op: "cache channel", Err: err}
	}
	return nil
}

// --- Fetch watermarks ---

func (s *Store) IsDayFetched(ctx context.Context, userID, scope, day, kind string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM fetch_watermarks WHERE user_id = ? AND scope = ? AND day = ? AND kind = ?`,
		userID, scope, day, kind,
	).Scan(&n)
	if err != nil {
		return false, &shiftlog.ErrCacheIO{Op: "is day fetched", Err: err}
	}
	return n > 0, nil
}

func (s *Store) MarkDayFetched(ctx context.Context, userID, scope, day, kind string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO fetch_watermarks (user_id, scope, day, kind, fetched_at) VALUES (?, ?, ?, ?, ?)`,
		userID, scope, day, kind, time.Now().Unix(),
	)
	if err != nil {
		return &shiftlog.ErrCacheIO{Op: "mark day fetched", Err: err}
	}
	return nil
}

// --- Embedding cache ---

func (s *Store) GetEmbedding(ctx context.Context, conversationID, textHash string) (shiftlog.CachedEmbedding, bool, error) {
	var e shiftlog.CachedEmbedding
	var blob []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT conversation_id, text_hash, embedding, model, dimensions, created_at
		 FROM embeddings WHERE conversation_id = ? AND text_hash = ?`,
		conversationID, textHash,
	).Scan(&e.ConversationID, &e.TextHash, &blob, &e.Model, &e.Dimensions, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return shiftlog.CachedEmbedding{}, false, nil
	}
	if err != nil {
		return shiftlog.CachedEmbedding{}, false, &shiftlog.ErrCacheIO{Op: "get embedding", Err: err}
	}
	e.Embedding = decodeEmbedding(blob)
	return e, true, nil
}

func (s *Store) GetEmbeddingBatch(ctx context.Context, keys []shiftlog.EmbeddingKey) (map[shiftlog.EmbeddingKey]shiftlog.CachedEmbedding, error) {
	out := make(map[shiftlog.EmbeddingKey]shiftlog.CachedEmbedding, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	for _, k := range keys {
		e, ok, err := s.GetEmbedding(ctx, k.ConversationID, k.TextHash)
		if err != nil {
			return nil, err
		}
		if ok {
			out[k] = e
		}
	}
	return out, nil
}

func (s *Store) SetEmbedding(ctx context.Context, entry shiftlog.CachedEmbedding) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO embeddings (conversation_id, text_hash, embedding, model, dimensions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ConversationID, entry.TextHash, encodeEmbedding(entry.Embedding), entry.Model, entry.Dimensions, entry.CreatedAt,
	)
	if err != nil {
		return &shiftlog.ErrCacheIO{Op: "set embedding", Err: err}
	}
	return nil
}

func (s *Store) SetEmbeddingBatch(ctx context.Context, entries []shiftlog.CachedEmbedding) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &shiftlog.ErrCacheIO{Op: "begin tx", Err: err}
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO embeddings (conversation_id, text_hash, embedding, model, dimensions, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return &shiftlog.ErrCacheIO{Op: "prepare set embedding batch", Err: err}
	}
	defer stmt.Close()

	for _, entry := range entries {
		if _, err := stmt.ExecContext(ctx, entry.ConversationID, entry.TextHash, encodeEmbedding(entry.Embedding),
			entry.Model, entry.Dimensions, entry.CreatedAt); err != nil {
			return &shiftlog.ErrCacheIO{Op: "set embedding batch", Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return &shiftlog.ErrCacheIO{Op: "commit set embedding batch", Err: err}
	}
	return nil
}

func (s *Store) ClearEmbeddings(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE conversation_id = ?`, conversationID)
	if err != nil {
		return &shiftlog.ErrCacheIO{Op: "clear embeddings", Err: err}
	}
	return nil
}

// --- Introspection ---

func (s *Store) TableStats(ctx context.Context) (map[string]shiftlog.TableStat, error) {
	tables := map[string]string{
		"messages":         "ts",
		"mentions":         "ts",
		"reactions":        "ts",
		"fetch_watermarks": "day",
		"embeddings":       "created_at",
	}
	out := make(map[string]shiftlog.TableStat, len(tables))
	for table, tsCol := range tables {
		var stat shiftlog.TableStat
		var minTs, maxTs sql.NullString
		query := fmt.Sprintf(`SELECT COUNT(*), MIN(%s), MAX(%s) FROM %s`, tsCol, tsCol, table)
		if err := s.db.QueryRowContext(ctx, query).Scan(&stat.RowCount, &minTs, &maxTs); err != nil {
			return nil, &shiftlog.ErrCacheIO{Op: "table stats: " + table, Err: err}
		}
		stat.MinTs, stat.MaxTs = minTs.String, maxTs.String
		out[table] = stat
	}
	return out, nil
}

// --- helpers ---

func dayPlaceholders(days []string) (string, []any) {
	ph := make([]string, len(days))
	args := make([]any, len(days))
	for i, d := range days {
		ph[i] = "?"
		args[i] = d
	}
	return strings.Join(ph, ","), args
}

// encodeAttachments packs attachments into a simple pipe/tab-delimited
// blob. Attachments are server-provided metadata, never user-authored
// free text containing these delimiters in practice.
func encodeAttachments(atts []shiftlog.Attachment) string {
	if len(atts) == 0 {
		return ""
	}
	parts := make([]string, len(atts))
	for i, a := range atts {
		parts[i] = strings.Join([]string{a.Kind, a.Text, a.AuthorID, a.ChannelID, a.URL}, "\t")
	}
	return strings.Join(parts, "\x1f")
}

func decodeAttachments(blob string) []shiftlog.Attachment {
	if blob == "" {
		return nil
	}
	records := strings.Split(blob, "\x1f")
	atts := make([]shiftlog.Attachment, 0, len(records))
	for _, rec := range records {
		fields := strings.SplitN(rec, "\t", 5)
		if len(fields) < 5 {
			continue
		}
		atts = append(atts, shiftlog.Attachment{
			Kind: fields[0], Text: fields[1], AuthorID: fields[2], ChannelID: fields[3], URL: fields[4],
		})
	}
	return atts
}

// encodeEmbedding packs a []float32 as a little-endian binary blob, four
// bytes per component. This departs from the teacher's JSON-text embedding
// storage: the cache is read on every summarize run and a binary blob
// avoids re-parsing float text on each row.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(blob []byte) []float32 {
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec
}
