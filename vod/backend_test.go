package vod

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"
)

type fakeTranscoder struct {
	mu       sync.Mutex
	segments chan string
	done     chan struct{}
	exitCode int
	finished bool
}

func newFakeTranscoder() *fakeTranscoder {
	return &fakeTranscoder{
		segments: make(chan string),
		done:     make(chan struct{}),
	}
}

func (f *fakeTranscoder) Segments() <-chan string { return f.segments }
func (f *fakeTranscoder) Done() <-chan struct{}   { return f.done }

func (f *fakeTranscoder) ExitCode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitCode
}

func (f *fakeTranscoder) Kill() {
	f.exit(255)
}

func (f *fakeTranscoder) exit(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.finished {
		return
	}
	f.finished = true
	f.exitCode = code

	close(f.segments)
	close(f.done)
}

func (f *fakeTranscoder) emit(name string) {
	f.segments <- name
}

func (f *fakeTranscoder) isFinished() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished
}

type spawnRecorder struct {
	mu     sync.Mutex
	procs  []*fakeTranscoder
	starts []int
}

func (s *spawnRecorder) spawn(config TranscodeConfig) (Transcoder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proc := newFakeTranscoder()
	s.procs = append(s.procs, proc)
	s.starts = append(s.starts, config.StartIndex)
	return proc, nil
}

func (s *spawnRecorder) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *spawnRecorder) proc(i int) *fakeTranscoder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[i]
}

func (s *spawnRecorder) start(i int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starts[i]
}

// testBackend builds a backend over n uniform 3.5s segments with fake encoder
// processes.
func testBackend(t *testing.T, n int, minBuffer, maxBuffer float64) (*BackendCtx, *spawnRecorder) {
	t.Helper()

	breakpoints := make([]float64, n+1)
	for i := range breakpoints {
		breakpoints[i] = float64(i) * 3.5
	}

	backend := newBackend(BackendConfig{
		MediaPath: "/dev/null",
		OutDir:    t.TempDir(),

		Profile: Profile{Name: "720p", Resolution: 720, VideoBitrate: 2400, AudioBitrate: 128},
		IsVideo: true,

		Breakpoints: breakpoints,

		FFmpegBinary:    "ffmpeg",
		MinBufferLength: minBuffer,
		MaxBufferLength: maxBuffer,
	})

	recorder := &spawnRecorder{}
	backend.spawn = recorder.spawn

	return backend, recorder
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func (b *BackendCtx) statusAt(index int) byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status[index]
}

func (b *BackendCtx) clientTranscoder(clientID string) Transcoder {
	b.mu.Lock()
	defer b.mu.Unlock()

	if client, ok := b.clients[clientID]; ok {
		return client.transcoder
	}
	return nil
}

func (b *BackendCtx) hasClient(clientID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, ok := b.clients[clientID]
	return ok
}

func writeSegmentFile(t *testing.T, b *BackendCtx, index int) {
	t.Helper()

	if err := os.WriteFile(b.segmentPath(index), []byte("ts-data"), 0644); err != nil {
		t.Fatal(err)
	}
}

func serveSegment(b *BackendCtx, clientID string, index int) (*httptest.ResponseRecorder, chan struct{}) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/segment", nil)

	done := make(chan struct{})
	go func() {
		b.ServeSegment(rec, req, clientID, index)
		close(done)
	}()
	return rec, done
}

func awaitResponse(t *testing.T, done chan struct{}) {
	t.Helper()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for segment response")
	}
}

func TestBackend_WarmStart(t *testing.T) {
	backend, recorder := testBackend(t, 10, 7, 14)

	rec, done := serveSegment(backend, "A", 0)

	waitFor(t, "encoder spawn", func() bool { return recorder.count() == 1 })
	if recorder.start(0) != 0 {
		t.Fatalf("encoder started at %d, want 0", recorder.start(0))
	}

	proc := recorder.proc(0)

	writeSegmentFile(t, backend, 0)
	proc.emit(segmentName("720p", 0))

	awaitResponse(t, done)
	if rec.Code != http.StatusOK {
		t.Fatalf("segment response = %d, want 200", rec.Code)
	}
	if backend.statusAt(0) != segmentDone {
		t.Errorf("segment 0 status = %d, want done", backend.statusAt(0))
	}

	// the encoder keeps running until the client has its full buffer
	proc.emit(segmentName("720p", 1))
	proc.emit(segmentName("720p", 2))
	proc.emit(segmentName("720p", 3))

	waitFor(t, "encoder stop at buffer limit", proc.isFinished)

	for i := 0; i <= 3; i++ {
		waitFor(t, "segment done", func() bool { return backend.statusAt(i) == segmentDone })
	}
	if backend.statusAt(4) != segmentEmpty {
		t.Errorf("segment 4 status = %d, want empty", backend.statusAt(4))
	}
}

func TestBackend_NearClientsShareEncoder(t *testing.T) {
	backend, recorder := testBackend(t, 10, 7, 14)

	recA, doneA := serveSegment(backend, "A", 0)
	waitFor(t, "encoder spawn", func() bool { return recorder.count() == 1 })

	recB, doneB := serveSegment(backend, "B", 1)
	waitFor(t, "B attaches to the running encoder", func() bool {
		return backend.clientTranscoder("B") == recorder.proc(0)
	})

	if recorder.count() != 1 {
		t.Fatalf("spawned %d encoders, want 1", recorder.count())
	}

	proc := recorder.proc(0)
	writeSegmentFile(t, backend, 0)
	writeSegmentFile(t, backend, 1)
	proc.emit(segmentName("720p", 0))
	proc.emit(segmentName("720p", 1))

	awaitResponse(t, doneA)
	awaitResponse(t, doneB)

	if recA.Code != http.StatusOK || recB.Code != http.StatusOK {
		t.Fatalf("segment responses = %d, %d, want 200", recA.Code, recB.Code)
	}
}

func TestBackend_EncoderDeath(t *testing.T) {
	backend, recorder := testBackend(t, 10, 7, 14)

	rec, done := serveSegment(backend, "A", 0)
	waitFor(t, "encoder spawn", func() bool { return recorder.count() == 1 })

	// the encoder dies without producing anything
	recorder.proc(0).exit(1)

	awaitResponse(t, done)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("segment response = %d, want 500", rec.Code)
	}

	if backend.statusAt(0) != segmentEmpty {
		t.Errorf("segment 0 status = %d, want empty", backend.statusAt(0))
	}

	// the client still has no buffer, a fresh encoder takes over
	waitFor(t, "encoder respawn", func() bool { return recorder.count() == 2 })
	if recorder.start(1) != 0 {
		t.Errorf("fresh encoder started at %d, want 0", recorder.start(1))
	}

	rec2, done2 := serveSegment(backend, "A", 0)
	writeSegmentFile(t, backend, 0)
	recorder.proc(1).emit(segmentName("720p", 0))

	awaitResponse(t, done2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("segment response after respawn = %d, want 200", rec2.Code)
	}
}

func TestBackend_RemovedClient(t *testing.T) {
	backend, recorder := testBackend(t, 10, 7, 14)

	// removal before the first request leaves a tombstone
	backend.RemoveClient("X")

	rec, done := serveSegment(backend, "X", 0)
	awaitResponse(t, done)
	if rec.Code != http.StatusConflict {
		t.Fatalf("segment response = %d, want 409", rec.Code)
	}

	// the tombstone disappears after the grace period
	waitFor(t, "client cleanup", func() bool { return !backend.hasClient("X") })

	if recorder.count() != 0 {
		t.Errorf("spawned %d encoders for a removed client, want 0", recorder.count())
	}
}

func TestBackend_RemoveClientKillsOrphanEncoder(t *testing.T) {
	backend, recorder := testBackend(t, 10, 7, 14)

	rec, done := serveSegment(backend, "A", 0)
	waitFor(t, "encoder spawn", func() bool { return recorder.count() == 1 })

	backend.RemoveClient("A")

	waitFor(t, "orphan encoder killed", recorder.proc(0).isFinished)

	// the pending request fails along with its encoder
	awaitResponse(t, done)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("segment response = %d, want 500", rec.Code)
	}
}

func TestBackend_RequestCancellation(t *testing.T) {
	backend, recorder := testBackend(t, 10, 7, 14)

	ctx, cancel := context.WithCancel(context.Background())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/segment", nil).WithContext(ctx)

	done := make(chan struct{})
	go func() {
		backend.ServeSegment(rec, req, "A", 0)
		close(done)
	}()

	waitFor(t, "encoder spawn", func() bool { return recorder.count() == 1 })

	cancel()
	awaitResponse(t, done)

	// the waiter is detached, the encoder keeps running for other clients
	backend.mu.Lock()
	waiters := len(backend.waiters[0])
	backend.mu.Unlock()

	if waiters != 0 {
		t.Errorf("waiters left after cancellation = %d, want 0", waiters)
	}
	if recorder.proc(0).isFinished() {
		t.Errorf("encoder was killed by request cancellation")
	}
}

func TestBackend_Destruct(t *testing.T) {
	backend, recorder := testBackend(t, 10, 7, 14)

	rec, done := serveSegment(backend, "A", 0)
	waitFor(t, "encoder spawn", func() bool { return recorder.count() == 1 })

	backend.destruct()

	awaitResponse(t, done)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("segment response = %d, want 500", rec.Code)
	}

	waitFor(t, "encoder killed", recorder.proc(0).isFinished)
}

func TestBackend_SegmentIndexOutOfRange(t *testing.T) {
	backend, _ := testBackend(t, 10, 7, 14)

	for _, index := range []int{-1, 10, 1000} {
		rec, done := serveSegment(backend, "A", index)
		awaitResponse(t, done)
		if rec.Code != http.StatusInternalServerError {
			t.Errorf("segment %d response = %d, want 500", index, rec.Code)
		}
	}
}

func TestBackend_EncoderIDs(t *testing.T) {
	backend, _ := testBackend(t, 10, 7, 14)

	id1, err := backend.nextEncoderID()
	if err != nil {
		t.Fatal(err)
	}
	if id1 != 2 {
		t.Errorf("first encoder id = %d, want 2", id1)
	}

	// the rotation never hands out the id assigned last
	id2, err := backend.nextEncoderID()
	if err != nil {
		t.Fatal(err)
	}
	if id2 == id1 {
		t.Errorf("encoder id %d reused immediately", id2)
	}
	if id2 < encoderIDMin || id2 > encoderIDMax {
		t.Errorf("encoder id %d out of range", id2)
	}

	// ids lingering in the status map are skipped
	backend.status[3] = id2 + 2
	id3, err := backend.nextEncoderID()
	if err != nil {
		t.Fatal(err)
	}
	if id3 == id2+2 {
		t.Errorf("encoder id %d still present in segment status", id3)
	}
}
