package vod

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/m1k1o/hls-vod-too/internal/utils"
)

// per-segment status byte values; everything in between (except the reserved
// values 1 and 254) is the id of the encoder currently producing that segment
const (
	segmentEmpty byte = 0
	segmentDone  byte = 255

	encoderIDMin  byte = 2
	encoderIDMax  byte = 253
	encoderIDSpan int  = int(encoderIDMax-encoderIDMin) + 1
)

// how many segments a single encoder may cover at most
const maxEncoderSpan = 512

// how long a removed client entry stays visible, so that requests racing the
// removal observe it and bail out
const clientRemoveGrace = time.Second

type segmentResult struct {
	path string
	err  error
}

// encoderHead tracks one live encoder: the segment it currently produces and
// the bound it was started with.
type encoderHead struct {
	id   byte
	head int
	end  int
}

type clientCtx struct {
	head       int // last requested segment index, -1 before the first request
	transcoder Transcoder
	deleted    bool
}

type BackendConfig struct {
	MediaPath string
	OutDir    string

	Profile  Profile
	IsVideo  bool
	Portrait bool

	Breakpoints []float64

	FFmpegBinary    string
	MinBufferLength float64 // lookahead every client should have encoded
	MaxBufferLength float64 // once every client has this much, the encoder stops
}

// BackendCtx is the per-(media, profile) state machine. It tracks which
// segments exist on disk, which are being produced and by whom, and where
// every client currently plays, and steers a bounded set of encoders so each
// client keeps a buffered lookahead.
type BackendCtx struct {
	logger zerolog.Logger
	config BackendConfig

	mu        sync.Mutex
	status    []byte
	heads     map[Transcoder]*encoderHead
	clients   map[string]*clientCtx
	waiters   map[int][]chan segmentResult
	lastID    byte
	destroyed bool

	recalculate func()
	spawn       func(config TranscodeConfig) (Transcoder, error)
}

func newBackend(config BackendConfig) *BackendCtx {
	b := &BackendCtx{
		logger: log.With().
			Str("module", "vod").
			Str("submodule", "backend").
			Str("profile", config.Profile.Name).
			Logger(),
		config:  config,
		status:  make([]byte, len(config.Breakpoints)-1),
		heads:   map[Transcoder]*encoderHead{},
		clients: map[string]*clientCtx{},
		waiters: map[int][]chan segmentResult{},
	}

	b.spawn = func(tc TranscodeConfig) (Transcoder, error) {
		return startTranscode(b.logger, tc)
	}
	b.recalculate = utils.Debounce(b.doRecalculate)

	return b
}

func (b *BackendCtx) segmentCount() int {
	return len(b.status)
}

// Playlist returns the variant playlist of this profile.
func (b *BackendCtx) Playlist() string {
	return variantPlaylist(b.config.Profile.Name, b.config.Breakpoints)
}

func (b *BackendCtx) segmentPath(index int) string {
	return path.Join(b.config.OutDir, segmentName(b.config.Profile.Name, index))
}

//
// encoder ids
//

// nextEncoderID picks a free encoder id. The scan starts two past the id
// assigned last (wrapping within the id range), so a stale status byte of a
// just-released id is never ambiguous. Callers must hold the lock.
func (b *BackendCtx) nextEncoderID() (byte, error) {
	inUse := map[byte]struct{}{}
	for _, head := range b.heads {
		inUse[head.id] = struct{}{}
	}

	start := int(b.lastID) % encoderIDSpan
	for k := 0; k < encoderIDSpan; k++ {
		id := byte((start+k)%encoderIDSpan + int(encoderIDMin))

		if _, ok := inUse[id]; ok {
			continue
		}

		taken := false
		for _, status := range b.status {
			if status == id {
				taken = true
				break
			}
		}
		if taken {
			continue
		}

		b.lastID = id
		return id, nil
	}

	return 0, errors.New("no encoder id available")
}

//
// encoders
//

// startEncoderAt spawns an encoder at segment index, claiming everything up to
// the next non-empty segment or the span limit. Callers must hold the lock.
func (b *BackendCtx) startEncoderAt(index int) (Transcoder, error) {
	if b.status[index] != segmentEmpty {
		return nil, fmt.Errorf("segment %d is not empty", index)
	}

	end := index + maxEncoderSpan
	if end > b.segmentCount() {
		end = b.segmentCount()
	}
	for i := index + 1; i < end; i++ {
		if b.status[i] != segmentEmpty {
			end = i
			break
		}
	}

	id, err := b.nextEncoderID()
	if err != nil {
		return nil, err
	}

	proc, err := b.spawn(TranscodeConfig{
		InputFilePath: b.config.MediaPath,
		OutputDirPath: b.config.OutDir,

		Profile:  b.config.Profile,
		IsVideo:  b.config.IsVideo,
		Portrait: b.config.Portrait,

		Breakpoints: b.config.Breakpoints,
		StartIndex:  index,
		EndIndex:    end,

		FFmpegBinary: b.config.FFmpegBinary,
	})
	if err != nil {
		return nil, err
	}

	b.logger.Info().Int("index", index).Int("end", end).Uint8("id", id).Msg("encoder started")

	b.status[index] = id
	head := &encoderHead{id: id, head: index, end: end}
	b.heads[proc] = head

	go b.consumeEncoder(proc, head)
	go b.awaitEncoder(proc, head)

	return proc, nil
}

// consumeEncoder follows the encoder's stdout, marking segments done as their
// names arrive.
func (b *BackendCtx) consumeEncoder(proc Transcoder, head *encoderHead) {
	for name := range proc.Segments() {
		index, ok := parseSegmentIndex(b.config.Profile.Name, name)
		if !ok {
			b.logger.Warn().Str("segment", name).Msg("unparsable segment name from encoder")
			continue
		}

		b.onSegmentDone(proc, head, index)
	}
}

func (b *BackendCtx) onSegmentDone(proc Transcoder, head *encoderHead, index int) {
	b.mu.Lock()

	if b.destroyed {
		b.mu.Unlock()
		return
	}
	if _, ok := b.heads[proc]; !ok {
		b.mu.Unlock()
		return
	}

	if index != head.head {
		// ffmpeg occasionally numbers a segment off by one around breakpoint
		// edges; accept the emitted index and release the expected one
		if head.head >= 0 && head.head < b.segmentCount() && b.status[head.head] == head.id {
			b.status[head.head] = segmentEmpty
		}
		b.logger.Warn().Int("expected", head.head).Int("index", index).Msg("segment index drift")
	}

	if index < 0 || index >= b.segmentCount() {
		b.mu.Unlock()
		return
	}

	b.status[index] = segmentDone
	b.fireWaiters(index, segmentResult{path: b.segmentPath(index)})

	// the encoder reached its bound and will exit on its own
	if index >= head.end-1 {
		b.mu.Unlock()
		return
	}

	// the next segment already belongs to someone else
	if b.status[index+1] != segmentEmpty {
		b.mu.Unlock()
		proc.Kill()
		return
	}

	// keep going only while some attached client still runs low on buffer
	keepGoing := false
	for _, client := range b.clients {
		if client.deleted || client.transcoder != proc || client.head < 0 {
			continue
		}

		buffered := b.config.Breakpoints[index+1] - b.config.Breakpoints[client.head]
		if buffered < b.config.MaxBufferLength {
			keepGoing = true
			break
		}
	}

	if !keepGoing {
		b.mu.Unlock()
		proc.Kill()
		return
	}

	head.head = index + 1
	b.status[index+1] = head.id
	b.mu.Unlock()
}

// awaitEncoder reclaims an encoder's territory once it exits, for whatever
// reason, and fails whoever is still waiting inside it.
func (b *BackendCtx) awaitEncoder(proc Transcoder, head *encoderHead) {
	<-proc.Done()

	if code := proc.ExitCode(); code != 0 && code != 255 && code != -1 {
		// 255 and -1 mean the process was killed, most likely by us
		b.logger.Warn().Int("code", code).Msg("encoder exited with unexpected code")
	}

	b.mu.Lock()

	if _, ok := b.heads[proc]; ok {
		if head.head >= 0 && head.head < b.segmentCount() && b.status[head.head] == head.id {
			b.status[head.head] = segmentEmpty
		}
		delete(b.heads, proc)
	}

	for i := head.head; i < head.end; i++ {
		b.fireWaiters(i, segmentResult{err: errors.New("encoder exited")})
	}

	destroyed := b.destroyed
	b.mu.Unlock()

	if !destroyed {
		b.recalculate()
	}
}

//
// recalculation
//

// doRecalculate reassigns encoders to clients: it attaches every client that
// still misses lookahead to an encoder at (or just before) its first missing
// segment, kills encoders nobody watches and spawns new ones where needed. It
// reads the whole state and is not reentrant, which is why it only ever runs
// through the debounce wrapper.
func (b *BackendCtx) doRecalculate() {
	b.mu.Lock()

	if b.destroyed {
		b.mu.Unlock()
		return
	}

	type encoderSlot struct {
		proc    Transcoder
		clients int
	}

	kills := []Transcoder{}
	encoders := map[int]*encoderSlot{}
	for proc, head := range b.heads {
		if _, ok := encoders[head.head]; ok {
			b.logger.Error().Int("head", head.head).Msg("duplicate encoder head")
			kills = append(kills, proc)
			continue
		}
		encoders[head.head] = &encoderSlot{proc: proc}
	}

	// find each client's earliest missing segment within its lookahead window
	type pending struct {
		client *clientCtx
		first  int
	}

	unresolved := []pending{}
	for _, client := range b.clients {
		if client.deleted || client.head < 0 {
			continue
		}

		first := -1
		for i := client.head; i < b.segmentCount(); i++ {
			if b.config.Breakpoints[i]-b.config.Breakpoints[client.head] >= b.config.MinBufferLength {
				break
			}
			if b.status[i] != segmentDone {
				first = i
				break
			}
		}

		// fully buffered
		if first < 0 {
			continue
		}

		// an encoder producing the segment, or the one right before it, will
		// deliver soon enough
		if slot, ok := encoders[first]; ok {
			client.transcoder = slot.proc
			slot.clients++
			continue
		}
		if slot, ok := encoders[first-1]; ok {
			client.transcoder = slot.proc
			slot.clients++
			continue
		}

		unresolved = append(unresolved, pending{client, first})
	}

	// drop encoders nobody watches
	for _, slot := range encoders {
		if slot.clients == 0 {
			kills = append(kills, slot.proc)
		}
	}

	// nearby clients share a single fresh encoder instead of spawning one each
	sort.Slice(unresolved, func(i, j int) bool {
		return unresolved[i].first < unresolved[j].first
	})

	lastStart := -1
	var lastProc Transcoder
	for _, p := range unresolved {
		if lastProc != nil && (p.first == lastStart || p.first-1 == lastStart) {
			p.client.transcoder = lastProc
			continue
		}

		if b.status[p.first] != segmentEmpty {
			b.logger.Warn().Int("index", p.first).Msg("first missing segment is not empty, skipping")
			continue
		}

		proc, err := b.startEncoderAt(p.first)
		if err != nil {
			b.logger.Err(err).Int("index", p.first).Msg("unable to start encoder")
			b.fireWaiters(p.first, segmentResult{err: err})
			continue
		}

		p.client.transcoder = proc
		lastProc, lastStart = proc, p.first
	}

	b.mu.Unlock()

	for _, proc := range kills {
		proc.Kill()
	}
}

//
// waiters
//

// fireWaiters resolves every waiter of a segment, one-shot. Callers must hold
// the lock.
func (b *BackendCtx) fireWaiters(index int, result segmentResult) {
	for _, waiter := range b.waiters[index] {
		waiter <- result
	}
	delete(b.waiters, index)
}

func (b *BackendCtx) detachWaiter(index int, waiter chan segmentResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	waiters := b.waiters[index]
	for i, w := range waiters {
		if w == waiter {
			b.waiters[index] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
}

//
// clients
//

// ServeSegment delivers one segment to a client, transcoding it first if
// needed. The index is zero-based.
func (b *BackendCtx) ServeSegment(w http.ResponseWriter, r *http.Request, clientID string, index int) {
	b.mu.Lock()

	if b.destroyed {
		b.mu.Unlock()
		http.Error(w, "500 backend is gone", http.StatusInternalServerError)
		return
	}

	if index < 0 || index >= b.segmentCount() {
		b.mu.Unlock()
		b.logger.Error().Int("index", index).Msg("segment index out of range")
		http.Error(w, "500 segment index out of range", http.StatusInternalServerError)
		return
	}

	client, ok := b.clients[clientID]
	if !ok {
		client = &clientCtx{head: -1}
		b.clients[clientID] = client
	}

	if client.deleted {
		b.mu.Unlock()
		http.Error(w, "409 client is removed", http.StatusConflict)
		return
	}

	client.head = index

	var segmentPath string
	var waiter chan segmentResult
	if b.status[index] == segmentDone {
		segmentPath = b.segmentPath(index)
	} else {
		waiter = make(chan segmentResult, 1)
		b.waiters[index] = append(b.waiters[index], waiter)
	}

	b.mu.Unlock()

	b.recalculate()

	if waiter != nil {
		select {
		case result := <-waiter:
			if result.err != nil {
				b.logger.Warn().Err(result.err).Int("index", index).Msg("segment wait failed")
				http.Error(w, "500 "+result.err.Error(), http.StatusInternalServerError)
				return
			}
			segmentPath = result.path
		case <-r.Context().Done():
			// the client hung up, others may still need the encoder
			b.detachWaiter(index, waiter)
			return
		}
	}

	w.Header().Set("Content-Type", "video/MP2T")
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, segmentPath)
}

// RemoveClient detaches a client. The entry stays visible, marked deleted, for
// a grace period long enough for in-flight requests to observe it.
func (b *BackendCtx) RemoveClient(clientID string) {
	b.mu.Lock()

	client, ok := b.clients[clientID]
	if !ok {
		// requests racing the removal must still see a deleted entry
		client = &clientCtx{head: -1, deleted: true}
		b.clients[clientID] = client
	} else {
		client.deleted = true
	}

	destroyed := b.destroyed
	b.mu.Unlock()

	if !destroyed {
		b.recalculate()
	}

	time.AfterFunc(clientRemoveGrace, func() {
		b.mu.Lock()
		if current, ok := b.clients[clientID]; ok && current == client {
			delete(b.clients, clientID)
		}
		b.mu.Unlock()
	})
}

// ClientCount reports how many live clients are attached.
func (b *BackendCtx) ClientCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	count := 0
	for _, client := range b.clients {
		if !client.deleted {
			count++
		}
	}
	return count
}

// EncoderCount reports how many encoders are running.
func (b *BackendCtx) EncoderCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.heads)
}

//
// lifecycle
//

// destruct fails every pending waiter and kills every encoder. The output
// directory is removed by the owning media descriptor.
func (b *BackendCtx) destruct() {
	b.mu.Lock()

	b.destroyed = true

	for index := range b.waiters {
		b.fireWaiters(index, segmentResult{err: errors.New("encoder being evicted")})
	}

	procs := make([]Transcoder, 0, len(b.heads))
	for proc := range b.heads {
		procs = append(procs, proc)
	}

	b.mu.Unlock()

	for _, proc := range procs {
		proc.Kill()
	}
}
