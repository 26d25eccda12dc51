package recorder

import (
	"github.com/yanun0323/logs"

	"marketstream/internal/model"
)

// Ingester accepts events without blocking.
type Ingester interface {
	Ingest(e model.Event) bool
}

// Tee journals every event before handing it to the next Ingester. A
// journal failure never stops the event from reaching next.
type Tee struct {
	next Ingester
	w    *Writer
}

func NewTee(next Ingester, w *Writer) *Tee {
	return &Tee{next: next, w: w}
}

func (t *Tee) Ingest(e model.Event) bool {
	if err := t.w.Append(e); err != nil && t.w.Dropped()&1023 == 1 {
		logs.Warnf("journal append failed, dropped: %d, err: %+v", t.w.Dropped(), err)
	}
	return t.next.Ingest(e)
}
