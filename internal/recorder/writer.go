package recorder

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"marketstream/internal/model"
	"marketstream/pkg/exception"
)

// Writer appends events to journal segments from a buffered queue.
type Writer struct {
	cfg Config
	now func() time.Time
	ch  chan recordRequest
	wg  sync.WaitGroup
	err atomic.Value

	seq     atomic.Uint64
	written atomic.Uint64
	dropped atomic.Uint64

	started atomic.Bool
	closed  atomic.Bool
	closeMu sync.RWMutex
}

// NewWriter creates a journal writer and ensures the target directory exists.
func NewWriter(cfg Config) (*Writer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create journal dir").With("dir", cfg.Dir)
	}
	return &Writer{
		cfg: cfg,
		now: time.Now,
		ch:  make(chan recordRequest, cfg.QueueSize),
	}, nil
}

// Start runs the writer loop in a new goroutine.
func (w *Writer) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return exception.ErrJournalAlreadyStarted
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
	return nil
}

// Close stops accepting events, flushes buffered records and waits for the
// loop to exit.
func (w *Writer) Close() error {
	w.closeMu.Lock()
	if w.closed.CompareAndSwap(false, true) {
		close(w.ch)
	}
	w.closeMu.Unlock()
	w.wg.Wait()
	return w.Err()
}

// Err returns the first error observed by the writer, if any.
func (w *Writer) Err() error {
	if v := w.err.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Written returns the number of records written to segments.
func (w *Writer) Written() uint64 { return w.written.Load() }

// Dropped returns the number of events rejected by Append.
func (w *Writer) Dropped() uint64 { return w.dropped.Load() }

// Append encodes e and enqueues it without blocking.
func (w *Writer) Append(e model.Event) error {
	err := w.append(e)
	if err != nil {
		w.dropped.Add(1)
	}
	return err
}

func (w *Writer) append(e model.Event) error {
	if !w.started.Load() {
		return exception.ErrJournalNotStarted
	}
	if err := w.Err(); err != nil {
		return err
	}
	if len(e.Symbol) > maxSymbolLen {
		return errors.Wrapf(exception.ErrInvalidArgument, "symbol longer than %d bytes", maxSymbolLen)
	}
	payload, err := encodePayload(e.Payload)
	if err != nil {
		return errors.Wrap(err, "encode journal payload").With("key", e.Key().String())
	}
	if uint64(len(payload)) > maxPayloadLen {
		return exception.ErrJournalPayloadTooLarge
	}

	req := recordRequest{
		header: Header{
			Category: e.Category,
			Seq:      w.seq.Add(1),
			TsEvent:  e.Timestamp,
			TsRecv:   w.now().UnixNano(),
		},
		symbol:  []byte(e.Symbol),
		payload: payload,
	}

	w.closeMu.RLock()
	defer w.closeMu.RUnlock()
	if w.closed.Load() {
		return exception.ErrJournalClosed
	}
	select {
	case w.ch <- req:
		return nil
	default:
		return exception.ErrQueueFull
	}
}

func (w *Writer) run(ctx context.Context) {
	var (
		seg         *segmentWriter
		segID       uint64
		headerBuf   = make([]byte, recordHeaderSize)
		checksumBuf [recordChecksumSize]byte
		flushC      <-chan time.Time
		syncC       <-chan time.Time
	)

	if w.cfg.FlushInterval > 0 {
		flushTicker := time.NewTicker(w.cfg.FlushInterval)
		defer flushTicker.Stop()
		flushC = flushTicker.C
	}
	if w.cfg.SyncInterval > 0 {
		syncTicker := time.NewTicker(w.cfg.SyncInterval)
		defer syncTicker.Stop()
		syncC = syncTicker.C
	}

	defer func() {
		if err := closeSegment(seg); err != nil {
			w.setErr(err)
		}
	}()

	write := func(req recordRequest) bool {
		if err := w.writeRecord(&seg, &segID, headerBuf, &checksumBuf, req); err != nil {
			w.setErr(err)
			return false
		}
		w.written.Add(1)
		return true
	}

	for {
		select {
		case <-ctx.Done():
			w.drainNonBlocking(write)
			return
		case req, ok := <-w.ch:
			if !ok || !write(req) {
				return
			}
		case <-flushC:
			if seg == nil {
				continue
			}
			if err := seg.buf.Flush(); err != nil {
				w.setErr(err)
				return
			}
		case <-syncC:
			if err := syncSegment(seg); err != nil {
				w.setErr(err)
				return
			}
		}
	}
}

func (w *Writer) drainNonBlocking(write func(recordRequest) bool) {
	for {
		select {
		case req, ok := <-w.ch:
			if !ok || !write(req) {
				return
			}
		default:
			return
		}
	}
}

func (w *Writer) writeRecord(seg **segmentWriter, segID *uint64, headerBuf []byte, checksumBuf *[recordChecksumSize]byte, req recordRequest) error {
	now := w.now().UTC()
	recordSize := int64(recordHeaderSize + len(req.symbol) + len(req.payload) + recordChecksumSize)
	if w.shouldRotate(*seg, now, recordSize) {
		if err := closeSegment(*seg); err != nil {
			return err
		}
		opened, err := w.openSegment(segID, now)
		if err != nil {
			return err
		}
		*seg = opened
	}

	encodeHeader(headerBuf, req.header, len(req.symbol), len(req.payload))
	binary.LittleEndian.PutUint32(checksumBuf[:], checksum(headerBuf, req.symbol, req.payload))

	buf := (*seg).buf
	if _, err := buf.Write(headerBuf); err != nil {
		return err
	}
	if _, err := buf.Write(req.symbol); err != nil {
		return err
	}
	if _, err := buf.Write(req.payload); err != nil {
		return err
	}
	if _, err := buf.Write(checksumBuf[:]); err != nil {
		return err
	}

	(*seg).size += recordSize
	return nil
}

func (w *Writer) shouldRotate(seg *segmentWriter, now time.Time, nextSize int64) bool {
	if seg == nil {
		return true
	}
	if seg.size > 0 && seg.size+nextSize > w.cfg.SegmentMaxBytes {
		return true
	}
	return w.cfg.SegmentMaxDuration > 0 && now.Sub(seg.openedAt) >= w.cfg.SegmentMaxDuration
}

func (w *Writer) openSegment(segID *uint64, now time.Time) (*segmentWriter, error) {
	ts := now.Format("20060102-150405")
	for {
		*segID++
		name := fmt.Sprintf("%s-%s-%06d%s", w.cfg.FilePrefix, ts, *segID, segmentSuffix)
		path := filepath.Join(w.cfg.Dir, name)
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
		if err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, errors.Wrap(err, "open journal segment").With("path", path)
		}
		logs.Debugf("journal segment opened: %s", path)
		return &segmentWriter{
			file:     file,
			buf:      bufio.NewWriterSize(file, w.cfg.BufferSize),
			openedAt: now,
		}, nil
	}
}

func syncSegment(seg *segmentWriter) error {
	if seg == nil {
		return nil
	}
	if err := seg.buf.Flush(); err != nil {
		return err
	}
	return seg.file.Sync()
}

func closeSegment(seg *segmentWriter) error {
	if seg == nil {
		return nil
	}
	if err := syncSegment(seg); err != nil {
		_ = seg.file.Close()
		return err
	}
	return seg.file.Close()
}

func (w *Writer) setErr(err error) {
	if err == nil || w.err.Load() != nil {
		return
	}
	logs.Errorf("journal writer, err: %+v", err)
	w.err.Store(err)
}

type recordRequest struct {
	header  Header
	symbol  []byte
	payload []byte
}

type segmentWriter struct {
	file     *os.File
	buf      *bufio.Writer
	size     int64
	openedAt time.Time
}
