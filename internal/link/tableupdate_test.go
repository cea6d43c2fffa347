package link_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Portunus/relay/internal/authtable"
	"github.com/BrandonDHaskell/Portunus/relay/internal/link"
)

var (
	tagA = authtable.TagID{0x0A, 0x00, 0x00, 0x01}
	tagB = authtable.TagID{0x0B, 0x00, 0x00, 0x02}
	tagC = authtable.TagID{0x0C, 0x00, 0x00, 0x03}
)

func entryFrame(n byte, auth bool, tag authtable.TagID) []byte {
	a := byte(0)
	if auth {
		a = 1
	}
	return []byte{link.CmdTableUpdate, n, a, tag[0], tag[1], tag[2], tag[3]}
}

func reply(status byte) []byte { return []byte{link.ReplyOK, link.CmdTableUpdate, status} }

func requireUnknown(t *testing.T, table *authtable.Table, tag authtable.TagID) {
	t.Helper()
	if _, err := table.FindUser(tag); !errors.Is(err, authtable.ErrNotFound) {
		t.Errorf("expected %s to be absent, got %v", tag, err)
	}
}

// ── Happy paths ──────────────────────────────────────────────────────────────

func TestTableUpdate_ThreeEntries(t *testing.T) {
	f := newFixture(t)
	_ = f.table.AddUser(tagB, false)

	f.tr.Inject(entryFrame(3, true, tagA), entryFrame(2, true, tagB), entryFrame(1, false, tagC))

	res, err := f.process(t)
	if err != nil {
		t.Fatalf("ProcessCommand: %v", err)
	}
	if len(res.Entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(res.Entries))
	}

	want := [][]byte{reply(link.StatusNewUser), reply(link.StatusUpdated), reply(link.StatusNewUser)}
	sent := f.tr.Sent()
	if len(sent) != len(want) {
		t.Fatalf("expected %d replies, got %d", len(want), len(sent))
	}
	for i := range want {
		if !bytes.Equal(sent[i], want[i]) {
			t.Errorf("reply %d: expected %x, got %x", i, want[i], sent[i])
		}
	}

	if known, auth, _ := f.table.Lookup(tagB); !known || !auth {
		t.Errorf("expected tagB authorized, got known=%v auth=%v", known, auth)
	}
	if known, auth, _ := f.table.Lookup(tagC); !known || auth {
		t.Errorf("expected tagC known and denied, got known=%v auth=%v", known, auth)
	}
}

func TestTableUpdate_StopAndWaitWithPeer(t *testing.T) {
	f := newFixture(t)
	next := [][]byte{entryFrame(2, true, tagB)}

	// The peer sends the next entry only after it has seen a reply.
	f.tr.OnSend(func(n int, _ []byte) {
		if n < len(next) {
			f.tr.Inject(next[n])
		}
	})
	f.tr.Inject(entryFrame(2, true, tagA))

	if _, err := f.process(t); err != nil {
		t.Fatalf("ProcessCommand: %v", err)
	}

	trace := f.tr.ListeningTrace()
	want := []bool{false, true, false, true}
	if len(trace) != len(want) {
		t.Fatalf("expected listening trace %v, got %v", want, trace)
	}
	for i := range want {
		if trace[i] != want[i] {
			t.Fatalf("expected listening trace %v, got %v", want, trace)
		}
	}
}

func TestTableUpdate_ZeroCountTreatedAsOne(t *testing.T) {
	f := newFixture(t)
	f.tr.Inject(entryFrame(0, true, tagA), entryFrame(0, true, tagB))

	res, err := f.process(t)
	if err != nil {
		t.Fatalf("ProcessCommand: %v", err)
	}
	if len(res.Entries) != 1 {
		t.Errorf("expected 1 entry, got %d", len(res.Entries))
	}
	if f.tr.Pending() != 1 {
		t.Errorf("expected the second frame left unread, got %d pending", f.tr.Pending())
	}
	requireUnknown(t, f.table, tagB)
}

func TestTableUpdate_FullTable(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < authtable.MaxUsers; i++ {
		_ = f.table.AddUser(authtable.TagID{0xFF, 0, byte(i >> 8), byte(i)}, false)
	}
	f.tr.Inject(entryFrame(1, true, tagA))

	res, err := f.process(t)
	if err != nil {
		t.Fatalf("ProcessCommand: %v", err)
	}
	if res.Entries[0].Result != authtable.Full {
		t.Errorf("expected full, got %s", res.Entries[0].Result)
	}
	if sent := f.tr.Sent(); !bytes.Equal(sent[0], reply(link.StatusFull)) {
		t.Errorf("expected %x, got %x", reply(link.StatusFull), sent[0])
	}
}

// ── Aborts ───────────────────────────────────────────────────────────────────

func TestTableUpdate_ReplyFailureAbortsAfterUnchangedEntry(t *testing.T) {
	f := newFixture(t)
	_ = f.table.AddUser(tagB, true)

	f.tr.FailSend(1)
	f.tr.Inject(entryFrame(3, true, tagA), entryFrame(2, true, tagB), entryFrame(1, true, tagC))

	res, err := f.process(t)
	if !errors.Is(err, link.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if len(res.Entries) != 2 || res.Entries[1].Result != authtable.Unchanged {
		t.Fatalf("expected entries [new_user unchanged], got %+v", res.Entries)
	}

	// Only the first entry changed the table.
	if n, _ := f.table.NumUsers(); n != 2 {
		t.Errorf("expected 2 users, got %d", n)
	}
	requireUnknown(t, f.table, tagC)
	if f.tr.Pending() != 1 {
		t.Errorf("expected third frame unread, got %d pending", f.tr.Pending())
	}
	if n := len(f.tr.Sent()); n != 2 {
		t.Errorf("expected 2 reply attempts, got %d", n)
	}
}

func TestTableUpdate_ReplyFailureKeepsAppliedEntry(t *testing.T) {
	f := newFixture(t)
	f.tr.FailSend(1)
	f.tr.Inject(entryFrame(3, true, tagA), entryFrame(2, false, tagB), entryFrame(1, true, tagC))

	_, err := f.process(t)
	if !errors.Is(err, link.ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}

	// The second entry is applied before its reply is attempted.
	if known, auth, _ := f.table.Lookup(tagB); !known || auth {
		t.Errorf("expected tagB stored as denied, got known=%v auth=%v", known, auth)
	}
	requireUnknown(t, f.table, tagC)
}

func TestTableUpdate_SyncTimeout(t *testing.T) {
	f := newFixture(t, link.WithSyncTimeout(20*time.Millisecond))
	f.tr.Inject(entryFrame(2, true, tagA))

	start := time.Now()
	res, err := f.process(t)
	if !errors.Is(err, link.ErrSyncTimeout) {
		t.Fatalf("expected ErrSyncTimeout, got %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout took too long: %v", time.Since(start))
	}
	if len(res.Entries) != 1 {
		t.Errorf("expected first entry applied, got %d", len(res.Entries))
	}
}

func TestTableUpdate_ContextCancelledWhileWaiting(t *testing.T) {
	f := newFixture(t, link.WithSyncTimeout(0))
	f.tr.Inject(entryFrame(2, true, tagA))

	ctx, cancel := context.WithCancel(context.Background())
	f.tr.OnSend(func(int, []byte) { cancel() })

	_, err := f.h.ProcessCommand(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if !f.tr.Listening() {
		t.Error("expected transport listening after cancel")
	}
}

func TestTableUpdate_UnexpectedFollowUp(t *testing.T) {
	f := newFixture(t)
	f.tr.Inject(entryFrame(2, true, tagA), []byte{link.CmdMemoryClear})

	_, err := f.process(t)
	if !errors.Is(err, link.ErrUnexpectedCommand) {
		t.Fatalf("expected ErrUnexpectedCommand, got %v", err)
	}
	// The clear must not have run.
	if n, _ := f.table.NumUsers(); n != 1 {
		t.Errorf("expected 1 user, got %d", n)
	}
}

func TestTableUpdate_ShortFrame(t *testing.T) {
	f := newFixture(t)
	f.tr.Inject([]byte{link.CmdTableUpdate, 1, 1, 0xAA})

	if _, err := f.process(t); !errors.Is(err, link.ErrShortFrame) {
		t.Fatalf("expected ErrShortFrame, got %v", err)
	}
	if n := len(f.tr.Sent()); n != 0 {
		t.Errorf("expected nothing sent, got %d", n)
	}
}

func TestTableUpdate_DoesNotFallThroughToMemoryCheck(t *testing.T) {
	f := newFixture(t)
	f.tr.Inject(entryFrame(1, true, tagA))

	if _, err := f.process(t); err != nil {
		t.Fatalf("ProcessCommand: %v", err)
	}
	for _, frame := range f.tr.Sent() {
		if len(frame) > 1 && frame[1] == link.CmdMemoryCheck {
			t.Fatalf("unexpected memory check reply %x", frame)
		}
	}
}

func TestWaitOutcome_String(t *testing.T) {
	if link.WaitTimedOut.String() != "timed_out" || link.WaitFrameReceived.String() != "frame_received" {
		t.Error("unexpected WaitOutcome names")
	}
}
