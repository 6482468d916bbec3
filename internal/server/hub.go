package server

import (
	"sync"
	"sync/atomic"

	"github.com/oszuidwest/zwfm-dbmeter/internal/meter"
	"github.com/oszuidwest/zwfm-dbmeter/internal/recording"
	"github.com/oszuidwest/zwfm-dbmeter/internal/report"
	"github.com/oszuidwest/zwfm-dbmeter/internal/types"
)

// readingBuffer is the number of readings queued per client before dropping.
const readingBuffer = 32

// Client receives meter output for one WebSocket connection.
type Client struct {
	readings chan types.WSReadingResponse
	series   chan types.WSSeriesResponse
	dropped  atomic.Uint64
}

// Readings returns the channel of live readings. It is closed on Unsubscribe.
func (c *Client) Readings() <-chan types.WSReadingResponse {
	return c.readings
}

// Series returns the channel of series snapshots. Only the newest
// undelivered snapshot is kept. It is closed on Unsubscribe.
func (c *Client) Series() <-chan types.WSSeriesResponse {
	return c.series
}

// Dropped returns the number of readings discarded because the client was slow.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Hub fans meter output out to WebSocket clients. A slow client loses
// readings instead of stalling the meter.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	latest  *types.WSSeriesResponse
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]struct{})}
}

// Subscribe registers a new client. The latest series snapshot, if any, is
// queued immediately so a fresh page shows the current table.
func (h *Hub) Subscribe() *Client {
	c := &Client{
		readings: make(chan types.WSReadingResponse, readingBuffer),
		series:   make(chan types.WSSeriesResponse, 1),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	if h.latest != nil {
		c.series <- *h.latest
	}
	return c
}

// Unsubscribe removes a client and closes its channels.
func (h *Hub) Unsubscribe(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.readings)
	close(c.series)
}

// ClientCount returns the number of subscribed clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// OnReading implements meter.Sink.
func (h *Hub) OnReading(r meter.Reading) {
	msg := types.WSReadingResponse{
		Type:     types.MessageReading,
		DB:       r.DB,
		Rotation: r.Rotation,
		Peak:     r.Peak,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.readings <- msg:
		default:
			c.dropped.Add(1)
		}
	}
}

// OnSeries implements meter.Sink.
func (h *Hub) OnSeries(series recording.Series) {
	msg := SeriesMessage(series)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.latest = &msg
	for c := range h.clients {
		replaceLatest(c.series, msg)
	}
}

// replaceLatest queues msg, discarding an undelivered older snapshot.
func replaceLatest(ch chan types.WSSeriesResponse, msg types.WSSeriesResponse) {
	select {
	case ch <- msg:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- msg:
	default:
	}
}

// SeriesMessage converts a series to its WebSocket representation.
func SeriesMessage(series recording.Series) types.WSSeriesResponse {
	data := report.FromSeries(series)
	rows := make([]types.SeriesRow, 0, data.Len())
	for _, r := range data.Rows() {
		rows = append(rows, types.SeriesRow{TimeStep: r.TimeStep, DB: r.Decibels})
	}
	return types.WSSeriesResponse{
		Type:  types.MessageSeries,
		Rows:  rows,
		Count: len(rows),
	}
}
