package imessage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/comigor/ovenmitt-go/internal/config"
	"github.com/comigor/ovenmitt-go/internal/conversation"
)

const schema = `
CREATE TABLE chat (ROWID INTEGER PRIMARY KEY AUTOINCREMENT, chat_identifier TEXT, display_name TEXT);
CREATE TABLE handle (ROWID INTEGER PRIMARY KEY AUTOINCREMENT, id TEXT);
CREATE TABLE message (ROWID INTEGER PRIMARY KEY AUTOINCREMENT, text TEXT, date INTEGER, is_from_me INTEGER, handle_id INTEGER);
CREATE TABLE chat_message_join (chat_id INTEGER, message_id INTEGER);
`

var now = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	t  *testing.T
	db *sql.DB
}

func newFixture(t *testing.T) (*fixture, string) {
	t.Helper()
	return newFixtureAt(t, filepath.Join(t.TempDir(), "chat.db"))
}

func newFixtureAt(t *testing.T, path string) (*fixture, string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	db, err := sql.Open("sqlite", sqliteDSN(path, "rwc"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.Exec(schema)
	require.NoError(t, err)
	return &fixture{t: t, db: db}, path
}

func (f *fixture) exec(q string, args ...any) int64 {
	f.t.Helper()
	res, err := f.db.Exec(q, args...)
	require.NoError(f.t, err)
	id, err := res.LastInsertId()
	require.NoError(f.t, err)
	return id
}

func (f *fixture) chat(identifier, display string) int64 {
	var name any
	if display != "" {
		name = display
	}
	return f.exec(`INSERT INTO chat (chat_identifier, display_name) VALUES (?, ?)`, identifier, name)
}

func (f *fixture) handle(id string) int64 {
	return f.exec(`INSERT INTO handle (id) VALUES (?)`, id)
}

// message inserts a message at now-ago. A nil text stores NULL.
func (f *fixture) message(chat int64, text any, ago time.Duration, fromMe bool, handle int64) {
	me := 0
	if fromMe {
		me = 1
	}
	id := f.exec(`INSERT INTO message (text, date, is_from_me, handle_id) VALUES (?, ?, ?, ?)`,
		text, ToAppleTime(now.Add(-ago)), me, handle)
	f.exec(`INSERT INTO chat_message_join (chat_id, message_id) VALUES (?, ?)`, chat, id)
}

func newTestAdapter(path string) *Adapter {
	a := NewAdapter(config.IMessageConfig{DBPath: path, Lookback: 7 * 24 * time.Hour, Window: 20})
	a.now = func() time.Time { return now }
	return a
}

func TestFetch_NormalizesRecentChats(t *testing.T) {
	f, path := newFixture(t)
	ann := f.handle("+15550001")
	bo := f.handle("bo@icloud.com")

	annChat := f.chat("+15550001", "")
	f.message(annChat, "are you around?", 3*time.Hour, false, ann)
	f.message(annChat, "yes", 2*time.Hour, true, 0)
	f.message(annChat, "great, call me", time.Hour, false, ann)

	boChat := f.chat("chat123", "Book Club")
	f.message(boChat, "next week?", 30*time.Hour, false, bo)
	f.message(boChat, nil, 29*time.Hour, false, bo)
	f.message(boChat, "", 28*time.Hour, false, bo)
	f.message(boChat, "works for me", 27*time.Hour, true, 0)

	stale := f.chat("+15559999", "")
	f.message(stale, "old news", 30*24*time.Hour, false, f.handle("+15559999"))

	onlyEmpty := f.chat("+15558888", "")
	f.message(onlyEmpty, nil, time.Hour, false, f.handle("+15558888"))

	convs, err := newTestAdapter(path).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 2, "stale and textless chats are excluded")

	first := convs[0]
	require.Equal(t, conversation.SourceLocalMessage, first.Source)
	require.Equal(t, "+15550001", first.ID)
	require.Equal(t, "+15550001", first.ParticipantLabel)
	require.Len(t, first.Items, 3)
	require.Equal(t, "are you around?", first.Items[0].Text)
	require.Equal(t, conversation.SelfSender, first.Items[1].Sender)
	require.Equal(t, "+15550001", first.Items[2].Sender)
	require.True(t, first.LastActivity.Equal(now.Add(-time.Hour)))
	require.True(t, conversation.NeedsReply(first))

	second := convs[1]
	require.Equal(t, "Book Club", second.ParticipantLabel)
	require.Equal(t, []string{"next week?", "works for me"}, []string{second.Items[0].Text, second.Items[1].Text})
	require.False(t, conversation.NeedsReply(second), "latest message is ours")

	for _, c := range convs {
		for i := 1; i < len(c.Items); i++ {
			require.False(t, c.Items[i].Timestamp.Before(c.Items[i-1].Timestamp))
		}
	}
}

func TestFetch_BoundsWindow(t *testing.T) {
	f, path := newFixture(t)
	h := f.handle("+15550002")
	c := f.chat("+15550002", "")
	for i := 30; i > 0; i-- {
		f.message(c, fmt.Sprintf("m%02d", i), time.Duration(i)*time.Minute, false, h)
	}

	convs, err := newTestAdapter(path).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	items := convs[0].Items
	require.Len(t, items, 20)
	require.Equal(t, "m20", items[0].Text)
	require.Equal(t, "m01", items[19].Text)
}

func TestFetch_PathWithURIDelimiters(t *testing.T) {
	f, path := newFixtureAt(t, filepath.Join(t.TempDir(), "Messages #2 ?100%", "chat.db"))
	c := f.chat("+15550003", "")
	f.message(c, "still there?", time.Hour, false, f.handle("+15550003"))

	convs, err := newTestAdapter(path).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)
	require.Equal(t, "still there?", convs[0].Items[0].Text)
}

func TestSqliteDSN(t *testing.T) {
	require.Equal(t, "file:///Users/me/Library/Messages/chat.db?mode=ro", sqliteDSN("/Users/me/Library/Messages/chat.db", "ro"))
	require.Equal(t, "file:///tmp/a%20%232%20%3F100%25/chat.db?mode=ro", sqliteDSN("/tmp/a #2 ?100%/chat.db", "ro"))
}

func TestFetch_MissingStore(t *testing.T) {
	a := newTestAdapter(filepath.Join(t.TempDir(), "absent", "chat.db"))
	_, err := a.Fetch(context.Background())
	require.ErrorIs(t, err, ErrStoreUnavailable)
	require.Contains(t, errors.FlattenHints(err), "Full Disk Access")
}

func TestAppleTime(t *testing.T) {
	want := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.True(t, AppleTime(ToAppleTime(want)).Equal(want))

	// pre-2017 databases store whole seconds
	secs := int64(want.Sub(appleEpoch) / time.Second)
	require.True(t, AppleTime(secs).Equal(want))

	require.True(t, AppleTime(0).Equal(time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)))
}
