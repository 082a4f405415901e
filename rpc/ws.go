package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"tally/core/events"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsBuffer       = 128
)

type eventFilter map[string]struct{}

func parseFilter(raw string) eventFilter {
	filter := make(eventFilter)
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			filter[trimmed] = struct{}{}
		}
	}
	return filter
}

func (f eventFilter) match(rec events.Record) bool {
	if len(f) == 0 {
		return true
	}
	if rec.Event == nil {
		return false
	}
	_, ok := f[rec.Event.Type]
	return ok
}

func parseCursor(raw string) (uint64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}

// handleEvents returns logged events after the cursor as a JSON array.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	cursor, err := parseCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, nil, codeInvalidParams, "invalid cursor", err.Error())
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	filter := parseFilter(r.URL.Query().Get("types"))
	out := []events.Record{}
	if s.log != nil {
		for _, rec := range s.log.Since(cursor, clampLimit(limit)) {
			if filter.match(rec) {
				out = append(out, rec)
			}
		}
	}
	_ = json.NewEncoder(w).Encode(out)
}

// handleEventsWS replays logged events after the cursor and then streams new
// ones until the client disconnects.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.log == nil {
		http.Error(w, "event log unavailable", http.StatusServiceUnavailable)
		return
	}
	cursor, err := parseCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		http.Error(w, "invalid cursor", http.StatusBadRequest)
		return
	}
	filter := parseFilter(r.URL.Query().Get("types"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor uint64, filter eventFilter) error {
	// Subscribe before reading the backlog so nothing emitted in between
	// is lost; duplicates are dropped by sequence.
	updates, cancel := s.log.Subscribe(wsBuffer)
	defer cancel()

	last := cursor
	for {
		backlog := s.log.Since(last, maxPageSize)
		if len(backlog) == 0 {
			break
		}
		for _, rec := range backlog {
			if filter.match(rec) {
				if err := writeRecord(ctx, conn, rec); err != nil {
					return err
				}
			}
			last = rec.Sequence
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case rec, ok := <-updates:
			if !ok {
				return nil
			}
			if rec.Sequence <= last {
				continue
			}
			if rec.Sequence > last+1 {
				// The subscriber buffer overflowed; catch up from the log.
				for _, missed := range s.log.Since(last, int(rec.Sequence-last-1)) {
					if filter.match(missed) {
						if err := writeRecord(ctx, conn, missed); err != nil {
							return err
						}
					}
				}
			}
			if filter.match(rec) {
				if err := writeRecord(ctx, conn, rec); err != nil {
					return err
				}
			}
			last = rec.Sequence
		}
	}
}

func writeRecord(ctx context.Context, conn *websocket.Conn, rec events.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
