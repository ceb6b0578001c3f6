package replica

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vogtb/go-spreadsheet/packages/logging"
	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

func newSheet(t *testing.T) *spreadsheet.Spreadsheet {
	t.Helper()
	sheet, err := spreadsheet.NewSpreadsheet(spreadsheet.WithLogger(logging.Discard()))
	if err != nil {
		t.Fatalf("NewSpreadsheet: %v", err)
	}
	return sheet
}

func startHub(t *testing.T, sheet *spreadsheet.Spreadsheet, opts ...HubOption) (*Hub, string) {
	t.Helper()
	opts = append([]HubOption{WithHubLogger(logging.Discard())}, opts...)
	hub := NewHub(sheet, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	server := httptest.NewServer(hub)
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string, sheet *spreadsheet.Spreadsheet, received chan Message) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := Dial(ctx, url, sheet,
		WithClientLogger(logging.Discard()),
		WithClientApplied(func(msg Message) { received <- msg }),
	)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func waitFor[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for replica message")
	}
	var zero T
	return zero
}

func assertNum(t *testing.T, sheet *spreadsheet.Spreadsheet, address string, want float64) {
	t.Helper()
	got, err := sheet.Get(address)
	if err != nil {
		t.Fatalf("Get(%s): %v", address, err)
	}
	if got != spreadsheet.Num(want) {
		t.Errorf("%s = %v, want %v", address, got, want)
	}
}

func TestDialLoadsSnapshot(t *testing.T) {
	origin := newSheet(t)
	if err := origin.Set("A1", "2"); err != nil {
		t.Fatal(err)
	}
	if err := origin.Set("A2", "=A1*3"); err != nil {
		t.Fatal(err)
	}
	if err := origin.SetColumnStyle(1, spreadsheet.Style{spreadsheet.StyleBold: true}); err != nil {
		t.Fatal(err)
	}
	hub, url := startHub(t, origin)

	mirror := newSheet(t)
	client := dial(t, url, mirror, make(chan Message, 16))

	if client.ID() == "" {
		t.Error("hub assigned no client id")
	}
	assertNum(t, mirror, "A2", 6)
	if got, _, _ := mirror.GetCell("A2"); got.Formula != "=A1*3" {
		t.Errorf("A2 formula = %q", got.Formula)
	}
	if style, _ := mirror.EffectiveStyle("A5"); !style.Bool(spreadsheet.StyleBold) {
		t.Errorf("column style not replicated: %v", style)
	}
	if n := hub.ClientCount(); n != 1 {
		t.Errorf("ClientCount() = %d, want 1", n)
	}
}

func TestChangesFanOut(t *testing.T) {
	origin := newSheet(t)
	if err := origin.Set("A1", "2"); err != nil {
		t.Fatal(err)
	}
	applied := make(chan string, 16)
	_, url := startHub(t, origin, WithHubApplied(func(from string, _ spreadsheet.Change) { applied <- from }))

	first, second := newSheet(t), newSheet(t)
	firstMsgs, secondMsgs := make(chan Message, 16), make(chan Message, 16)
	c1 := dial(t, url, first, firstMsgs)
	dial(t, url, second, secondMsgs)

	// hub edits reach every client
	if err := origin.Set("A1", "5"); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []chan Message{firstMsgs, secondMsgs} {
		msg := waitFor(t, ch)
		if msg.Type != TypeChange || msg.From != "" {
			t.Errorf("message = %+v, want a hub change", msg)
		}
	}
	assertNum(t, first, "A1", 5)
	assertNum(t, second, "A1", 5)

	// client edits are applied by the hub and relayed to the other clients
	if err := first.Set("B1", "=A1*2"); err != nil {
		t.Fatal(err)
	}
	if from := waitFor(t, applied); from != c1.ID() {
		t.Errorf("hub applied change from %q, want %q", from, c1.ID())
	}
	assertNum(t, origin, "B1", 10)

	msg := waitFor(t, secondMsgs)
	if msg.From != c1.ID() {
		t.Errorf("relayed change from %q, want %q", msg.From, c1.ID())
	}
	assertNum(t, second, "B1", 10)

	// the author does not get its own change back
	select {
	case echoed := <-firstMsgs:
		t.Errorf("author received %+v", echoed)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStructuralEditReplicates(t *testing.T) {
	origin := newSheet(t)
	if err := origin.Set("A1", "1"); err != nil {
		t.Fatal(err)
	}
	if err := origin.Set("B1", "=A1+1"); err != nil {
		t.Fatal(err)
	}
	_, url := startHub(t, origin)

	mirror := newSheet(t)
	received := make(chan Message, 16)
	dial(t, url, mirror, received)

	if err := origin.InsertRows(1, 2); err != nil {
		t.Fatal(err)
	}
	msg := waitFor(t, received)
	if msg.Change == nil || !msg.Change.Reset {
		t.Fatalf("structural edit sent %+v, want a reset", msg)
	}
	assertNum(t, mirror, "B3", 2)
	if got, _, _ := mirror.GetCell("B3"); got.Formula != "=A3+1" {
		t.Errorf("B3 formula = %q, want =A3+1", got.Formula)
	}
	if _, ok, _ := mirror.GetCell("A1"); ok {
		t.Error("A1 still set after rows were inserted above it")
	}
}

func TestRejectedChange(t *testing.T) {
	origin := newSheet(t)
	_, url := startHub(t, origin)

	received := make(chan Message, 16)
	client := dial(t, url, newSheet(t), received)

	bad := spreadsheet.Change{Cells: spreadsheet.Grid{"not-a-cell": {Input: "1", Value: spreadsheet.Num(1)}}}
	if err := client.Send(bad); err != nil {
		t.Fatal(err)
	}
	msg := waitFor(t, received)
	if msg.Type != TypeError || msg.Error == "" {
		t.Errorf("message = %+v, want an error", msg)
	}
	if origin.Snapshot().Cells["not-a-cell"].Input != "" {
		t.Error("hub applied a change with a bad address")
	}
}

func TestMalformedFrame(t *testing.T) {
	_, url := startHub(t, newSheet(t))

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snapshot Message
	if err := conn.ReadJSON(&snapshot); err != nil || snapshot.Type != TypeSnapshot {
		t.Fatalf("first message = %+v, %v", snapshot, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{")); err != nil {
		t.Fatal(err)
	}
	var reply Message
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatal(err)
	}
	if reply.Type != TypeError || !strings.Contains(reply.Error, "malformed") {
		t.Errorf("reply = %+v", reply)
	}
}

func TestCloseUnregisters(t *testing.T) {
	hub, url := startHub(t, newSheet(t))
	client := dial(t, url, newSheet(t), make(chan Message, 16))
	if err := client.Close(); err != nil {
		t.Fatal(err)
	}
	<-client.Done()
	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d after close", hub.ClientCount())
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := client.Send(spreadsheet.Change{}); err != ErrClosed {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}
