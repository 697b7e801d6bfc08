package store

import (
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := OpenInMemory(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testMessage(sender string, at time.Time, content string) Message {
	return Message{
		Sender:     sender,
		Recipient:  "beta",
		Content:    json.RawMessage(content),
		TimeString: "12:00",
		CreatedAt:  at,
	}
}

func Test_Append_Assigns_Time_Sortable_IDs(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)

	at := time.Now().UTC()
	var ids []string
	for i := 0; i < 3; i++ {
		saved, err := st.Append("alpha_messages", testMessage("alpha", at.Add(time.Duration(i)*time.Minute), `"hi"`))
		req.NoError(err)
		req.NotEmpty(saved.ID)
		ids = append(ids, saved.ID)
	}

	req.True(sort.StringsAreSorted(ids), "ids must sort chronologically: %v", ids)

	listed, err := st.ListOrdered("alpha_messages")
	req.NoError(err)
	req.Len(listed, 3)
	for i, msg := range listed {
		req.Equal(ids[i], msg.ID)
	}
}

func Test_Append_List_Round_Trip(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)

	at := time.Now().UTC().Truncate(time.Millisecond)
	original := testMessage("alpha", at, `{"text":"hello","kind":"quote"}`)

	saved, err := st.Append("alpha_messages", original)
	req.NoError(err)

	listed, err := st.ListOrdered("alpha_messages")
	req.NoError(err)
	req.Len(listed, 1)

	got := listed[0]
	req.Equal(saved.ID, got.ID)
	req.Equal("alpha", got.Sender)
	req.Equal("beta", got.Recipient)
	req.JSONEq(`{"text":"hello","kind":"quote"}`, string(got.Content))
	req.Equal("12:00", got.TimeString)
	req.False(got.IsSeen)
	req.Nil(got.SeenAt)
	req.Nil(got.ReplyToID)
}

func Test_MarkAllSeen_Batch_Then_Idempotent(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)

	at := time.Now().UTC()
	for i := 0; i < 2; i++ {
		_, err := st.Append("beta_messages", testMessage("beta", at.Add(time.Duration(i)*time.Second), `"hi"`))
		req.NoError(err)
	}

	seenAt := at.Add(time.Minute)
	updated, err := st.MarkAllSeen("beta_messages", seenAt)
	req.NoError(err)
	req.Len(updated, 2)
	for _, msg := range updated {
		req.True(msg.IsSeen)
		req.NotNil(msg.SeenAt)
		req.True(msg.SeenAt.Equal(seenAt))
	}

	unseen, err := st.ListUnseen("beta_messages")
	req.NoError(err)
	req.Empty(unseen)

	// Second pass has nothing left to flip.
	again, err := st.MarkAllSeen("beta_messages", seenAt.Add(time.Minute))
	req.NoError(err)
	req.Empty(again)
}

func Test_ListUnseen_Filters_Seen_Records(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)

	at := time.Now().UTC()
	_, err := st.Append("alpha_messages", testMessage("alpha", at, `"one"`))
	req.NoError(err)

	_, err = st.MarkAllSeen("alpha_messages", at.Add(time.Second))
	req.NoError(err)

	_, err = st.Append("alpha_messages", testMessage("alpha", at.Add(2*time.Second), `"two"`))
	req.NoError(err)

	unseen, err := st.ListUnseen("alpha_messages")
	req.NoError(err)
	req.Len(unseen, 1)
	req.JSONEq(`"two"`, string(unseen[0].Content))
}

func Test_RemoveAll_Scoped_To_Partition(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)

	at := time.Now().UTC()
	_, err := st.Append("alpha_messages", testMessage("alpha", at, `"a"`))
	req.NoError(err)
	_, err = st.Append("beta_messages", testMessage("beta", at, `"b"`))
	req.NoError(err)

	req.NoError(st.RemoveAll("alpha_messages"))

	cleared, err := st.ListOrdered("alpha_messages")
	req.NoError(err)
	req.Empty(cleared)

	kept, err := st.ListOrdered("beta_messages")
	req.NoError(err)
	req.Len(kept, 1)
}

func Test_Blob_Round_Trip(t *testing.T) {
	req := require.New(t)
	st := newTestStore(t)

	payload := []byte(`[{"name":"Ada","number":"+123"}]`)
	req.NoError(st.PutBlob("contacts", payload))

	got, err := st.GetBlob("contacts")
	req.NoError(err)
	req.Equal(payload, got)

	_, err = st.GetBlob("missing")
	req.Error(err)
}
