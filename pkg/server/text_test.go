package server

import (
	"io"
	"net"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/offheapio/offheap/pkg/offheap"
)

func newServedMap(t *testing.T) *offheap.Map {
	t.Helper()

	b := offheap.NewMapBuilder(nil)
	b.SetKeyType("string")
	b.SetValueType("string")
	if err := b.Validate(); err != nil {
		t.Fatal(err)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	m := c.(*offheap.Map)
	t.Cleanup(func() { m.Close() })
	return m
}

// runSession feeds one scripted connection through the text handler and
// returns everything the server wrote back.
func runSession(t *testing.T, m *offheap.Map, script string) string {
	t.Helper()

	client, srvConn := net.Pipe()
	s := New(m, "", zap.NewNop())

	done := make(chan struct{})
	go func() {
		s.handleText(srvConn)
		srvConn.Close()
		close(done)
	}()
	go func() {
		client.Write([]byte(script))
	}()

	out, err := io.ReadAll(client)
	<-done
	client.Close()
	if err != nil {
		t.Fatalf("reading session output: %v", err)
	}
	return string(out)
}

func TestTextGetEngineError(t *testing.T) {
	m := newServedMap(t)
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}

	out := runSession(t, m, "get greet\r\nquit\r\n")
	if !strings.HasPrefix(out, "SERVER_ERROR ") {
		t.Errorf("expected SERVER_ERROR for a closed collection, got %q", out)
	}
	if strings.Contains(out, "END\r\n") {
		t.Errorf("engine errors must not read as a miss, got %q", out)
	}
}

func TestTextSession(t *testing.T) {
	m := newServedMap(t)

	out := runSession(t, m, ""+
		"set greet 0 0 5\r\nhello\r\n"+
		"get greet\r\n"+
		"delete greet\r\n"+
		"get greet\r\n"+
		"version\r\n"+
		"frobnicate\r\n"+
		"quit\r\n")

	want := "" +
		"STORED\r\n" +
		"VALUE greet 0 5\r\nhello\r\nEND\r\n" +
		"DELETED\r\n" +
		"END\r\n" +
		"VERSION 1.0.0\r\n" +
		"ERROR\r\n"
	if out != want {
		t.Errorf("session output mismatch:\ngot:  %q\nwant: %q", out, want)
	}
}

func TestTextAdd(t *testing.T) {
	m := newServedMap(t)

	out := runSession(t, m, ""+
		"add once 0 0 3\r\nabc\r\n"+
		"add once 0 0 3\r\nxyz\r\n"+
		"get once\r\n"+
		"quit\r\n")

	want := "" +
		"STORED\r\n" +
		"NOT_STORED\r\n" +
		"VALUE once 0 3\r\nabc\r\nEND\r\n"
	if out != want {
		t.Errorf("session output mismatch:\ngot:  %q\nwant: %q", out, want)
	}
}

func TestTextDeleteMissing(t *testing.T) {
	m := newServedMap(t)

	out := runSession(t, m, "delete nothing\r\nquit\r\n")
	if out != "NOT_FOUND\r\n" {
		t.Errorf("expected NOT_FOUND, got %q", out)
	}
}

func TestTextStats(t *testing.T) {
	m := newServedMap(t)
	if _, err := m.Put("k", "v"); err != nil {
		t.Fatal(err)
	}

	out := runSession(t, m, "stats\r\nquit\r\n")
	if !strings.Contains(out, "STAT curr_items 1\r\n") {
		t.Errorf("stats output missing item count: %q", out)
	}
	if !strings.HasSuffix(out, "END\r\n") {
		t.Errorf("stats output not terminated: %q", out)
	}
}

func TestTextMultiKeyGet(t *testing.T) {
	m := newServedMap(t)
	m.Put("a", "1")
	m.Put("c", "3")

	out := runSession(t, m, "get a b c\r\nquit\r\n")
	want := "VALUE a 0 1\r\n1\r\nVALUE c 0 1\r\n3\r\nEND\r\n"
	if out != want {
		t.Errorf("multi-get mismatch:\ngot:  %q\nwant: %q", out, want)
	}
}
