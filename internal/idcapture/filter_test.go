package idcapture

import "testing"

const sampleUUID = "4f9c2b1a-6e3d-4a2b-9c1d-7f8e9a0b1c2d"

func TestFeedCapturesSessionLabel(t *testing.T) {
	f := New(nil, 0)
	f.Feed([]byte("starting up...\nSession: " + sampleUUID + "\nworking\n"))

	id, ok := f.ID()
	if !ok {
		t.Fatal("expected capture")
	}
	if id != sampleUUID {
		t.Fatalf("ID() = %q, want %q", id, sampleUUID)
	}
}

func TestFeedCapturesJSONFragment(t *testing.T) {
	f := New(nil, 0)
	f.Feed([]byte(`{"event":"start","session_id":"` + sampleUUID + `"}` + "\n"))

	id, ok := f.ID()
	if !ok || id != sampleUUID {
		t.Fatalf("ID() = (%q, %v), want (%q, true)", id, ok, sampleUUID)
	}
}

func TestFeedIgnoresBareUUIDWithoutAnnouncementContext(t *testing.T) {
	f := New(nil, 0)
	f.Feed([]byte("request id " + sampleUUID + " processed\n"))

	if f.Captured() {
		t.Fatal("expected no capture for bare UUID without announcement context")
	}
}

func TestFeedSplitsTokenAcrossChunks(t *testing.T) {
	f := New(nil, 0)
	label := "Session: " + sampleUUID
	mid := len(label) / 2

	f.Feed([]byte(label[:mid]))
	if f.Captured() {
		t.Fatal("should not capture from partial token")
	}
	f.Feed([]byte(label[mid:]))

	id, ok := f.ID()
	if !ok || id != sampleUUID {
		t.Fatalf("ID() = (%q, %v), want (%q, true)", id, ok, sampleUUID)
	}
}

func TestFeedStripsANSIBeforeMatching(t *testing.T) {
	f := New(nil, 0)
	f.Feed([]byte("\x1b[1mSession: \x1b[0m" + sampleUUID + "\x1b[2K\n"))

	id, ok := f.ID()
	if !ok || id != sampleUUID {
		t.Fatalf("ID() = (%q, %v), want (%q, true)", id, ok, sampleUUID)
	}
}

func TestFeedCapturesOnlyFirstAnnouncedID(t *testing.T) {
	f := New(nil, 0)
	other := "11111111-2222-3333-4444-555555555555"
	f.Feed([]byte("Session: " + sampleUUID + "\n"))
	f.Feed([]byte("Session: " + other + "\n"))

	id, ok := f.ID()
	if !ok || id != sampleUUID {
		t.Fatalf("ID() = (%q, %v), want first-announced %q", id, ok, sampleUUID)
	}
}

func TestFeedIgnoresIDReappearingLater(t *testing.T) {
	f := New(nil, 0)
	f.Feed([]byte("Session: " + sampleUUID + "\n"))
	if !f.Captured() {
		t.Fatal("expected capture")
	}

	// A later, different UUID announced in the same context must not
	// override the first captured id.
	other := "11111111-2222-3333-4444-555555555555"
	f.Feed([]byte("Session: " + other + "\n"))

	id, _ := f.ID()
	if id != sampleUUID {
		t.Fatalf("ID() = %q, want original capture %q unaffected by later input", id, sampleUUID)
	}
}

func TestFeedDoesNotMutateInput(t *testing.T) {
	f := New(nil, 0)
	data := []byte("Session: " + sampleUUID + "\n")
	original := append([]byte(nil), data...)

	f.Feed(data)

	if string(data) != string(original) {
		t.Fatal("Feed must not mutate the bytes it is given")
	}
}

func TestWindowRollsOverMinimumSize(t *testing.T) {
	f := New(nil, 0)
	padding := make([]byte, MinWindow*4)
	for i := range padding {
		padding[i] = 'x'
	}
	f.Feed(padding)
	f.Feed([]byte("Session: " + sampleUUID + "\n"))

	id, ok := f.ID()
	if !ok || id != sampleUUID {
		t.Fatalf("ID() = (%q, %v), want (%q, true)", id, ok, sampleUUID)
	}
}
