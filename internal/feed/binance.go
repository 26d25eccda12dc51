package feed

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"marketstream/internal/model"
	"marketstream/internal/model/enum"
	"marketstream/pkg/exception"
)

const DefaultBinanceURL = "wss://stream.binance.com:9443/stream"

// Ingester accepts decoded events. It must not block.
type Ingester interface {
	Ingest(e model.Event) bool
}

type BinanceSubscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type BinanceSubscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

func subscriberResponseParser(m ws.Message) (BinanceSubscribeResponse, bool) {
	var resp BinanceSubscribeResponse
	err := m.Unmarshal(&resp)
	return resp, err == nil
}

// BinancePub streams Binance public market data into an Ingester.
type BinancePub struct {
	url     string
	sink    Ingester
	decoder Decoder
	backoff Backoff

	mu  sync.Mutex
	wss *ws.WebSocket

	reqID    atomic.Int64
	received atomic.Uint64
	failures atomic.Uint64
}

func NewBinancePub(url string, sink Ingester) *BinancePub {
	if len(url) == 0 {
		url = DefaultBinanceURL
	}
	return &BinancePub{
		url:     url,
		sink:    sink,
		decoder: NewDecoder(nil),
		backoff: DefaultBackoff(),
	}
}

// Received returns the number of decoded messages handed to the sink.
func (repo *BinancePub) Received() uint64 {
	return repo.received.Load()
}

// DecodeFailures returns the number of messages that could not be decoded.
func (repo *BinancePub) DecodeFailures() uint64 {
	return repo.failures.Load()
}

func (repo *BinancePub) Close() {
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.wss != nil {
		repo.wss.Close()
		repo.wss = nil
	}
}

// Run connects, subscribes every category of every symbol and feeds decoded
// messages to the sink. Failed connects are retried with backoff until ctx
// is done or the process shuts down.
func (repo *BinancePub) Run(ctx context.Context, symbols []string, cats []enum.Category) (unsubscribe func(), err error) {
	params := make([]string, 0, len(symbols)*len(cats))
	for _, sym := range symbols {
		for _, cat := range cats {
			if name, ok := StreamName(sym, cat); ok {
				params = append(params, name)
			}
		}
	}
	if len(params) == 0 {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "no binance streams to subscribe")
	}

	for attempt := 1; ; attempt++ {
		err := repo.connect(ctx, params)
		if err == nil {
			logs.Infof("binance feed subscribed, streams: %d", len(params))
			return repo.observe(ctx), nil
		}

		repo.Close()
		wait := repo.backoff.Next(attempt)
		logs.Warnf("binance feed connect failed, attempt: %d, retry in %s, err: %+v", attempt, wait, err)
		select {
		case <-sys.Shutdown():
			return nil, errors.Wrap(err, "shutdown")
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "connect binance")
		case <-time.After(wait):
		}
	}
}

func (repo *BinancePub) connect(ctx context.Context, params []string) error {
	wss := ws.New(ctx, repo.url)
	repo.mu.Lock()
	repo.wss = wss
	repo.mu.Unlock()

	if err := wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}

	id := repo.reqID.Add(1)
	appendIntoRegister := true
	if err := wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := BinanceSubscribeRequest{
				Method: "SUBSCRIBE",
				Params: params,
				ID:     id,
			}

			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := subscriberResponseParser(m)
			if !ok || resp.ID != id {
				return false, nil
			}

			if resp.Result != nil {
				return false, errors.Wrapf(exception.ErrFeedSubscribe, "%+v", resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

func (repo *BinancePub) observe(ctx context.Context) (unsubscribe func()) {
	repo.mu.Lock()
	ch, cancel := repo.wss.Subscribe()
	repo.mu.Unlock()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				var env envelope
				if err := m.Unmarshal(&env); err != nil || len(env.Stream) == 0 {
					continue
				}
				e, err := repo.decoder.DecodeStream(env.Stream, env.Data)
				if err != nil {
					repo.failures.Add(1)
					logs.Warnf("decode binance message, err: %+v", err)
					continue
				}
				repo.received.Add(1)
				repo.sink.Ingest(e)
			}
		}
	}()

	return cancel
}
