package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/ppiankov/uhmm/internal/model"
)

type recordingSink struct {
	mu        sync.Mutex
	fragments []model.TranscriptFragment
	ended     []string
	order     []string // "ingest:<text>" and "end:<id>" in arrival order
}

func (s *recordingSink) Ingest(ctx context.Context, f model.TranscriptFragment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fragments = append(s.fragments, f)
	s.order = append(s.order, "ingest:"+f.Text)
	return nil
}

func (s *recordingSink) EndSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, id)
	s.order = append(s.order, "end:"+id)
	return nil
}

func (s *recordingSink) snapshot() ([]model.TranscriptFragment, []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.TranscriptFragment(nil), s.fragments...), append([]string(nil), s.ended...)
}

func TestFile_Run(t *testing.T) {
	input := strings.Join([]string{
		"# demo transcript",
		"~Python 3.12",
		"",
		"[Alice] Python 3.12 removed distutils.",
		"~ [Bob] maybe",
		"[] odd",
	}, "\n")

	sink := &recordingSink{}
	if err := NewFile(strings.NewReader(input), "demo", 0).Run(context.Background(), sink); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	frags, ended := sink.snapshot()
	if len(frags) != 4 {
		t.Fatalf("Expected 4 fragments, got %d: %+v", len(frags), frags)
	}

	if frags[0].IsFinal || frags[0].Text != "Python 3.12" {
		t.Errorf("Expected partial 'Python 3.12', got %+v", frags[0])
	}
	if !frags[1].IsFinal || frags[1].Speaker != "Alice" || frags[1].Text != "Python 3.12 removed distutils." {
		t.Errorf("Unexpected final fragment: %+v", frags[1])
	}
	if frags[2].IsFinal || frags[2].Speaker != "Bob" || frags[2].Text != "maybe" {
		t.Errorf("Unexpected partial with speaker: %+v", frags[2])
	}
	if frags[3].Speaker != "" || frags[3].Text != "[] odd" {
		t.Errorf("Expected empty brackets to stay in text, got %+v", frags[3])
	}
	for _, f := range frags {
		if f.SessionID != "demo" {
			t.Errorf("Expected session demo, got %s", f.SessionID)
		}
		if !f.Cumulative {
			t.Errorf("Expected replayed fragments to be cumulative, got %+v", f)
		}
	}

	if len(ended) != 1 || ended[0] != "demo" {
		t.Errorf("Expected session end for demo, got %v", ended)
	}
}

func TestFile_RunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &recordingSink{}
	err := NewFile(strings.NewReader("one.\ntwo.\n"), "s", time.Hour).Run(ctx, sink)
	if err == nil {
		t.Fatal("Expected error for cancelled context")
	}
	if _, ended := sink.snapshot(); len(ended) != 0 {
		t.Errorf("Expected no session end after cancel, got %v", ended)
	}
}

func runNATSServer(t *testing.T) *server.Server {
	t.Helper()
	ns, err := server.NewServer(&server.Options{Host: "127.0.0.1", Port: -1, NoLog: true, NoSigs: true})
	if err != nil {
		t.Fatalf("create nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("nats server not ready")
	}
	t.Cleanup(ns.Shutdown)
	return ns
}

func TestNATS_Run(t *testing.T) {
	ns := runNATSServer(t)

	cfg := model.DefaultConfig().NATS
	cfg.URL = ns.ClientURL()

	src, err := ConnectNATS(cfg)
	if err != nil {
		t.Fatalf("ConnectNATS failed: %v", err)
	}
	if !src.Healthy() {
		t.Error("Expected healthy connection")
	}

	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, sink) }()

	pub, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect publisher: %v", err)
	}
	defer pub.Close()

	publish := func(subject string, v any) {
		data, _ := json.Marshal(v)
		if err := pub.Publish(subject, data); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	// Wait for the subscriptions to be registered before publishing
	deadline := time.Now().Add(2 * time.Second)
	for ns.NumSubscriptions() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	publish(cfg.PartialSubject, Transcript{SessionID: "s1", Text: "GDPR requires", Partial: true})
	publish(cfg.FinalSubject, Transcript{SessionID: "s1", Text: "GDPR requires breach notification.", Speaker: "Alice"})
	publish(cfg.FinalSubject, "not json")
	publish(cfg.EndSubject, sessionEnd{SessionID: "s1"})
	if err := pub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if frags, ended := sink.snapshot(); len(frags) == 2 && len(ended) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	frags, ended := sink.snapshot()
	if len(frags) != 2 {
		t.Fatalf("Expected 2 fragments, got %+v", frags)
	}
	if p := frags[0]; p.Text != "GDPR requires" || p.IsFinal || !p.Cumulative || p.SessionID != "s1" {
		t.Errorf("Unexpected partial fragment: %+v", p)
	}
	if f := frags[1]; f.Text != "GDPR requires breach notification." || !f.IsFinal || f.Speaker != "Alice" {
		t.Errorf("Unexpected final fragment: %+v", f)
	}
	if len(ended) != 1 || ended[0] != "s1" {
		t.Errorf("Expected session end for s1, got %v", ended)
	}
}

func TestNATS_RunKeepsPublishOrderAcrossSubjects(t *testing.T) {
	ns := runNATSServer(t)

	cfg := model.DefaultConfig().NATS
	cfg.URL = ns.ClientURL()

	src, err := ConnectNATS(cfg)
	if err != nil {
		t.Fatalf("ConnectNATS failed: %v", err)
	}

	sink := &recordingSink{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, sink) }()

	pub, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect publisher: %v", err)
	}
	defer pub.Close()

	deadline := time.Now().Add(2 * time.Second)
	for ns.NumSubscriptions() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	var want []string
	for i := 0; i < 50; i++ {
		subject, text := cfg.PartialSubject, fmt.Sprintf("partial %d", i)
		if i%2 == 1 {
			subject, text = cfg.FinalSubject, fmt.Sprintf("final %d.", i)
		}
		data, _ := json.Marshal(Transcript{SessionID: "s1", Text: text})
		if err := pub.Publish(subject, data); err != nil {
			t.Fatalf("publish: %v", err)
		}
		want = append(want, "ingest:"+text)
	}
	data, _ := json.Marshal(sessionEnd{SessionID: "s1"})
	if err := pub.Publish(cfg.EndSubject, data); err != nil {
		t.Fatalf("publish: %v", err)
	}
	want = append(want, "end:s1")
	if err := pub.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ended := sink.snapshot(); len(ended) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	sink.mu.Lock()
	got := append([]string(nil), sink.order...)
	sink.mu.Unlock()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Expected publish order\n%v\ngot\n%v", want, got)
	}
}

func TestConnectNATS_NoURL(t *testing.T) {
	if _, err := ConnectNATS(model.NATSConfig{}); err == nil {
		t.Error("Expected error for missing url")
	}
}
